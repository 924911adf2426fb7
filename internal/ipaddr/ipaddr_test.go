package ipaddr_test

import (
	"testing"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/stretchr/testify/require"
)

func TestParseAndClassify(t *testing.T) {
	mcast := ipaddr.MustParse("239.1.2.3")
	require.True(t, mcast.IsMulticast())
	require.False(t, mcast.IsUnicast())

	unicast := ipaddr.MustParse("10.0.0.1")
	require.True(t, unicast.IsUnicast())
	require.False(t, unicast.IsMulticast())

	ll := ipaddr.MustParse("169.254.1.1")
	require.True(t, ll.IsLinkLocalUnicast())
}

func TestPrefixMatchAndNet(t *testing.T) {
	base := ipaddr.MustParse("224.0.0.0")
	n, err := ipaddr.NewNet(base, 4)
	require.NoError(t, err)
	require.Equal(t, "224.0.0.0/4", n.String())

	g := ipaddr.MustParse("239.1.2.3")
	require.True(t, n.Contains(g))
	require.True(t, g.PrefixMatch(base, 4))

	other := ipaddr.MustParse("10.0.0.0")
	require.False(t, other.PrefixMatch(base, 4))
}

func TestOverlap(t *testing.T) {
	a := ipaddr.MustParseNet("10.0.0.0/8")
	b := ipaddr.MustParseNet("10.1.0.0/16")
	c := ipaddr.MustParseNet("192.168.0.0/16")
	require.True(t, a.IsOverlap(b))
	require.False(t, a.IsOverlap(c))
}

func TestOrdering(t *testing.T) {
	a := ipaddr.MustParse("10.0.0.1")
	b := ipaddr.MustParse("10.0.0.2")
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, a.Equal(a))
}
