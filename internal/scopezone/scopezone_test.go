package scopezone_test

import (
	"testing"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/scopezone"
	"github.com/stretchr/testify/require"
)

func TestZoneForFallsBackToGlobal(t *testing.T) {
	tbl := scopezone.New()
	global := scopezone.ZoneId{Prefix: ipaddr.MustParseNet("224.0.0.0/4")}
	zone := tbl.ZoneFor(ipaddr.MustParse("239.1.1.1"), global)
	require.Equal(t, global, zone)
}

func TestZoneForScopedMatch(t *testing.T) {
	tbl := scopezone.New()
	scoped := scopezone.ZoneId{Prefix: ipaddr.MustParseNet("239.255.0.0/16"), IsScopeZone: true}
	tbl.Add(scoped)
	global := scopezone.ZoneId{Prefix: ipaddr.MustParseNet("224.0.0.0/4")}

	got := tbl.ZoneFor(ipaddr.MustParse("239.255.1.1"), global)
	require.Equal(t, scoped, got)

	got = tbl.ZoneFor(ipaddr.MustParse("239.1.1.1"), global)
	require.Equal(t, global, got)
}

func TestIsOverlapping(t *testing.T) {
	tbl := scopezone.New()
	tbl.Add(scopezone.ZoneId{Prefix: ipaddr.MustParseNet("239.255.0.0/16"), IsScopeZone: true})

	require.True(t, tbl.IsOverlapping(ipaddr.MustParseNet("239.255.0.0/16")))
	require.True(t, tbl.IsOverlapping(ipaddr.MustParseNet("239.255.1.0/24")))
	require.True(t, tbl.IsOverlapping(ipaddr.MustParseNet("239.0.0.0/8")))
	require.False(t, tbl.IsOverlapping(ipaddr.MustParseNet("238.0.0.0/8")))
}
