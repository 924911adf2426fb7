// Package membership implements the core-side of the MLD/IGMP
// membership bridge (spec §6.3 add_membership/delete_membership): the
// event type fed into PIM when local group membership changes, and the
// request surface used to manage it.
package membership

import (
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

// EventKind distinguishes a join from a leave.
type EventKind int

const (
	Joined EventKind = iota
	Left
)

// Event is one local-membership-changed notification (spec §4.2's
// "local membership changed" task). Source is the zero value for (*,G)
// membership (IGMPv2/MLDv1 reports, or INCLUDE/EXCLUDE-mode SSM mapping
// collapsed to (*,G) is out of scope; explicit (S,G) comes from
// IGMPv3/MLDv2 source-specific reports).
type Event struct {
	Vif    types.VifIndex
	Source ipaddr.IPvX
	Group  ipaddr.IPvX
	Kind   EventKind
}

// Tracker is the membership bridge surface the core calls to add/remove
// local receivers and query current membership (spec §6.3).
type Tracker interface {
	AddMembership(vif types.VifIndex, source, group ipaddr.IPvX) error
	DeleteMembership(vif types.VifIndex, source, group ipaddr.IPvX) error
	HasMembers(vif types.VifIndex, group ipaddr.IPvX) bool
}

type membershipKey struct {
	vif           types.VifIndex
	source, group ipaddr.IPvX
}

// FakeTracker is an in-memory Tracker used in tests and in deployments
// without a live MLD/IGMP daemon to bridge to.
type FakeTracker struct {
	members map[membershipKey]bool
}

// NewFakeTracker constructs an empty FakeTracker.
func NewFakeTracker() *FakeTracker {
	return &FakeTracker{members: make(map[membershipKey]bool)}
}

func (f *FakeTracker) AddMembership(vif types.VifIndex, source, group ipaddr.IPvX) error {
	f.members[membershipKey{vif, source, group}] = true
	return nil
}

func (f *FakeTracker) DeleteMembership(vif types.VifIndex, source, group ipaddr.IPvX) error {
	delete(f.members, membershipKey{vif, source, group})
	return nil
}

func (f *FakeTracker) HasMembers(vif types.VifIndex, group ipaddr.IPvX) bool {
	for k := range f.members {
		if k.vif == vif && k.group.Equal(group) {
			return true
		}
	}
	return false
}
