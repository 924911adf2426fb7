package vif_test

import (
	"testing"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/pim-sm/pimd/internal/vif"
	"github.com/stretchr/testify/require"
)

func TestStartRequiresPrimaryAddr(t *testing.T) {
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{IsMulticastCapable: true})
	v.Enable()
	err := v.Start()
	require.ErrorIs(t, err, vif.ErrNoPrimaryAddr)
}

func TestStartSucceedsWithPrimaryAddr(t *testing.T) {
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{IsMulticastCapable: true})
	require.NoError(t, v.AddAddr(vif.Addr{Addr: ipaddr.MustParse("10.0.0.1"), Subnet: ipaddr.MustParseNet("10.0.0.0/30")}))
	v.Enable()
	require.NoError(t, v.Start())
	require.Equal(t, vif.StateRunning, v.State())
	require.True(t, v.Flags.IsUp)
}

func TestRegisterVifSkipsPrimaryAddrRequirement(t *testing.T) {
	v := vif.New("pim-reg0", types.VifIndex(1), vif.Flags{IsPimRegister: true})
	v.Enable()
	require.NoError(t, v.Start())
}

// TestAddrRoundTrip covers invariant R1: add then delete the same address
// restores the vif to its prior address set.
func TestAddrRoundTrip(t *testing.T) {
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{})
	addr := ipaddr.MustParse("10.0.0.1")
	before := append([]vif.Addr(nil), v.Addrs...)

	require.NoError(t, v.AddAddr(vif.Addr{Addr: addr, Subnet: ipaddr.MustParseNet("10.0.0.0/30")}))
	require.NoError(t, v.DeleteAddr(addr))
	require.ElementsMatch(t, before, v.Addrs)
}

func TestAddAddrDuplicateRejected(t *testing.T) {
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{})
	addr := vif.Addr{Addr: ipaddr.MustParse("10.0.0.1"), Subnet: ipaddr.MustParseNet("10.0.0.0/30")}
	require.NoError(t, v.AddAddr(addr))
	require.ErrorIs(t, v.AddAddr(addr), vif.ErrAddrExists)
}

func TestPrimaryAddrPrefersLinkLocal(t *testing.T) {
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{})
	require.NoError(t, v.AddAddr(vif.Addr{Addr: ipaddr.MustParse("10.0.0.1")}))
	require.NoError(t, v.AddAddr(vif.Addr{Addr: ipaddr.MustParse("169.254.1.1")}))
	primary, ok := v.PrimaryAddr()
	require.True(t, ok)
	require.Equal(t, "169.254.1.1", primary.String())
}

func TestStateChangeObserver(t *testing.T) {
	v := vif.New("eth0", types.VifIndex(0), vif.Flags{IsPimRegister: true})
	var seen []vif.State
	v.OnStateChange(func(s vif.State) { seen = append(seen, s) })
	v.Enable()
	require.NoError(t, v.Start())
	require.NoError(t, v.Stop())
	require.Equal(t, []vif.State{vif.StateEnabled, vif.StateStarting, vif.StateRunning, vif.StateStopping, vif.StateEnabled}, seen)
}
