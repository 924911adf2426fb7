package membership_test

import (
	"testing"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/membership"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestFakeTrackerAddDeleteHasMembers(t *testing.T) {
	tr := membership.NewFakeTracker()
	vif := types.VifIndex(1)
	g := ipaddr.MustParse("239.1.1.1")

	require.False(t, tr.HasMembers(vif, g))
	require.NoError(t, tr.AddMembership(vif, ipaddr.IPvX{}, g))
	require.True(t, tr.HasMembers(vif, g))

	require.NoError(t, tr.DeleteMembership(vif, ipaddr.IPvX{}, g))
	require.False(t, tr.HasMembers(vif, g))
}

func TestStarGMembershipUsesZeroSource(t *testing.T) {
	tr := membership.NewFakeTracker()
	vif := types.VifIndex(2)
	g := ipaddr.MustParse("239.2.2.2")
	require.NoError(t, tr.AddMembership(vif, ipaddr.IPvX{}, g))
	require.True(t, ipaddr.IPvX{}.Zero())
	require.True(t, tr.HasMembers(vif, g))
}
