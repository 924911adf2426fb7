package mrt

import (
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/types"
)

// downstream per-interface Join/Prune state machine (spec §4.4, RFC 4601
// §4.5.1's generic per-interface join state machine): NoInfo/Join/
// PrunePending, driven by received Join/Prune messages and two timers
// (Expiry, Prune-Pending).

// ReceiveDownstreamJoin processes a Join seen on vif for this entry,
// arming/restarting the Expiry Timer for holdtime. onBecameJoined fires
// the first time this vif transitions into Join (used to trigger the
// local-membership-changed / olist-changed task fan-out).
func (e *Entry) ReceiveDownstreamJoin(vif types.VifIndex, holdtime time.Duration, sched *pimclock.Scheduler, onExpired func(types.VifIndex), onBecameJoined func()) {
	dv := e.vifState(vif)
	wasJoined := dv.join == DownstreamJoin
	if dv.prunePending != nil {
		dv.prunePending.Cancel()
		dv.prunePending = nil
	}
	dv.join = DownstreamJoin
	if dv.expiry != nil {
		dv.expiry.Cancel()
	}
	dv.expiry = sched.NewTimer(holdtime, func() { e.downstreamExpire(vif, onExpired) })
	if !wasJoined && onBecameJoined != nil {
		onBecameJoined()
	}
}

// ReceiveDownstreamPrune processes a Prune seen on vif, per spec §4.4: a
// Join state moves to PrunePending and starts the J/P_Override_Interval
// (LAN-delay override interval if negotiated, else the configured
// default); PrunePending restarts its own timer.
func (e *Entry) ReceiveDownstreamPrune(vif types.VifIndex, overrideInterval time.Duration, sched *pimclock.Scheduler, onPruned func(types.VifIndex)) {
	dv := e.vifState(vif)
	if dv.join != DownstreamJoin && dv.join != DownstreamPrunePending {
		return
	}
	dv.join = DownstreamPrunePending
	if dv.prunePending != nil {
		dv.prunePending.Cancel()
	}
	dv.prunePending = sched.NewTimer(overrideInterval, func() { e.downstreamPrunePendingExpire(vif, onPruned) })
}

func (e *Entry) downstreamExpire(vif types.VifIndex, onExpired func(types.VifIndex)) {
	dv, ok := e.downstream[vif]
	if !ok {
		return
	}
	dv.join = DownstreamNoInfo
	dv.expiry = nil
	if onExpired != nil {
		onExpired(vif)
	}
}

func (e *Entry) downstreamPrunePendingExpire(vif types.VifIndex, onPruned func(types.VifIndex)) {
	dv, ok := e.downstream[vif]
	if !ok {
		return
	}
	dv.join = DownstreamNoInfo
	dv.prunePending = nil
	if dv.expiry != nil {
		dv.expiry.Cancel()
		dv.expiry = nil
	}
	if onPruned != nil {
		onPruned(vif)
	}
}

// DownstreamJoinState returns vif's current Join/Prune state for this entry.
func (e *Entry) DownstreamJoinState(vif types.VifIndex) DownstreamState {
	dv, ok := e.downstream[vif]
	if !ok {
		return DownstreamNoInfo
	}
	return dv.join
}

// OList returns the set of vifs currently in the Join (or PrunePending,
// which still forwards per RFC 4601 §4.1.6) state for this entry, minus
// any vif where this router has lost an Assert (spec §4.4).
func (e *Entry) OList() []types.VifIndex {
	var out []types.VifIndex
	for vif, dv := range e.downstream {
		if dv.assert == AssertLoser {
			continue
		}
		if dv.join == DownstreamJoin || dv.join == DownstreamPrunePending {
			out = append(out, vif)
		}
	}
	return out
}
