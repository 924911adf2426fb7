package mfea_test

import (
	"testing"
	"time"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/mfea"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestFakeBridgeAddDeleteMFC(t *testing.T) {
	b := mfea.NewFakeBridge()
	s := ipaddr.MustParse("192.0.2.7")
	g := ipaddr.MustParse("239.5.5.5")

	require.NoError(t, b.AddMFC(mfea.MFC{Source: s, Group: g, Iif: types.VifIndex(0)}))
	require.Len(t, b.MFCs, 1)

	require.NoError(t, b.DeleteMFC(s, g))
	require.Empty(t, b.MFCs)
}

func TestFakeBridgeDataflowMonitorLifecycle(t *testing.T) {
	b := mfea.NewFakeBridge()
	s := ipaddr.MustParse("192.0.2.7")
	g := ipaddr.MustParse("239.5.5.5")

	require.NoError(t, b.AddDataflowMonitor(mfea.DataflowThreshold{
		Source: s, Group: g, ThresholdPeriod: 60 * time.Second, Geq: true,
	}))
	require.Len(t, b.Monitors, 1)

	require.NoError(t, b.DeleteDataflowMonitor(s, g))
	require.Empty(t, b.Monitors)
}

func TestUpcallTypeString(t *testing.T) {
	require.Equal(t, "NOCACHE", mfea.UpcallNoCache.String())
	require.Equal(t, "WRONGVIF", mfea.UpcallWrongVif.String())
	require.Equal(t, "WHOLEPKT", mfea.UpcallWholePkt.String())
	require.Equal(t, "BW-UPCALL", mfea.UpcallBWUpcall.String())
}
