package mrib_test

import (
	"testing"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/mrib"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestLongestPrefixMatch(t *testing.T) {
	m := mrib.New()
	m.Add(mrib.Entry{
		Prefix:  ipaddr.MustParseNet("10.0.0.0/8"),
		NextHop: ipaddr.MustParse("192.168.1.1"),
		Vif:     types.VifIndex(1),
	})
	m.Add(mrib.Entry{
		Prefix:  ipaddr.MustParseNet("10.1.0.0/16"),
		NextHop: ipaddr.MustParse("192.168.2.1"),
		Vif:     types.VifIndex(2),
	})

	e, ok := m.Lookup(ipaddr.MustParse("10.1.1.1"))
	require.True(t, ok)
	require.Equal(t, "192.168.2.1", e.NextHop.String())
	require.Equal(t, types.VifIndex(2), e.Vif)

	e, ok = m.Lookup(ipaddr.MustParse("10.2.1.1"))
	require.True(t, ok)
	require.Equal(t, "192.168.1.1", e.NextHop.String())

	_, ok = m.Lookup(ipaddr.MustParse("172.16.0.1"))
	require.False(t, ok)
}

func TestRPFNextHopDirectlyConnected(t *testing.T) {
	m := mrib.New()
	m.Add(mrib.Entry{
		Prefix: ipaddr.MustParseNet("10.0.0.0/24"),
		Vif:    types.VifIndex(3),
	})
	nh, vif, ok := m.RPFNextHop(ipaddr.MustParse("10.0.0.5"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.5", nh.String())
	require.Equal(t, types.VifIndex(3), vif)
}

func TestRemove(t *testing.T) {
	m := mrib.New()
	p := ipaddr.MustParseNet("10.0.0.0/8")
	m.Add(mrib.Entry{Prefix: p, Vif: types.VifIndex(1)})
	require.True(t, m.Remove(p))
	_, ok := m.Lookup(ipaddr.MustParse("10.0.0.1"))
	require.False(t, ok)
}
