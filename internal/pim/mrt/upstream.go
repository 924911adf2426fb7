package mrt

import (
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/mrib"
	"github.com/pim-sm/pimd/internal/rptable"
)

// RPFResolver looks up the RP for a group and the MRIB next hop toward
// an address, the two external tables every RPF computation needs (spec
// invariants I1, I7). A concrete Node wires this to its rptable.Table and
// mrib.Table; tests can fake it directly.
type RPFResolver interface {
	RPForGroup(group ipaddr.IPvX) (ipaddr.IPvX, bool)
	MRIBLookup(dst ipaddr.IPvX) (mrib.Entry, bool)
}

// resolver wraps the concrete tables; node construction uses this.
type resolver struct {
	rp   *rptable.Table
	mrib *mrib.Table
}

// NewRPFResolver builds the concrete RPFResolver over the real tables.
func NewRPFResolver(rp *rptable.Table, m *mrib.Table) RPFResolver {
	return &resolver{rp: rp, mrib: m}
}

func (r *resolver) RPForGroup(group ipaddr.IPvX) (ipaddr.IPvX, bool) { return r.rp.RPForGroup(group) }
func (r *resolver) MRIBLookup(dst ipaddr.IPvX) (mrib.Entry, bool)    { return r.mrib.Lookup(dst) }

// RecomputeRPF refreshes e's NextHopRP/NextHopS values from the resolver
// (spec §3.4, invariant I1/I7); the RPFPrime* fields are not written
// here. It does not itself decide
// upstream state transitions; callers re-evaluate the upstream state
// machine afterward since an RPF' change can trigger a new Join/Prune.
func (e *Entry) RecomputeRPF(r RPFResolver) {
	if rp, ok := r.RPForGroup(e.Key.Group); ok {
		if entry, ok := r.MRIBLookup(rp); ok {
			e.NextHopRP = entry.NextHop
		}
	}
	if !e.Key.Source.Zero() {
		if entry, ok := r.MRIBLookup(e.Key.Source); ok {
			e.NextHopS = entry.NextHop
		}
	}
}

// upstream (*,G)/(S,G)/(S,G,rpt) join state machine (spec §4.4, RFC 4601
// §4.5.7-§4.5.9): NoInfo/Joined driven by local olist state (non-empty
// olist => Joined) and an upstream Join Timer that periodically
// refreshes the Join with the RPF neighbor. No Override Timer is kept.

// SetUpstreamJoined transitions an RP/WC/SG upstream state per
// RFC4601's join-desired predicate: true arms the periodic upstream
// Join Timer (sending an immediate Join via onJoin), false cancels it
// and sends a Prune via onPrune if we were Joined.
func (e *Entry) SetUpstreamJoined(kind EntryKind, joined bool, joinPrunePeriod time.Duration, sched *pimclock.Scheduler, onJoin, onPrune func()) {
	cur := e.upstreamStateFor(kind)
	if joined == (cur == UpstreamJoined) {
		return
	}
	if joined {
		e.setUpstreamStateFor(kind, UpstreamJoined)
		if onJoin != nil {
			onJoin()
		}
		e.armUpstreamJoinTimer(joinPrunePeriod, sched, onJoin)
	} else {
		e.setUpstreamStateFor(kind, UpstreamNoInfo)
		if e.upstreamJoinTimer != nil {
			e.upstreamJoinTimer.Cancel()
			e.upstreamJoinTimer = nil
		}
		if onPrune != nil {
			onPrune()
		}
	}
}

func (e *Entry) armUpstreamJoinTimer(period time.Duration, sched *pimclock.Scheduler, onJoin func()) {
	if e.upstreamJoinTimer != nil {
		e.upstreamJoinTimer.Cancel()
	}
	var rearm func()
	rearm = func() {
		if onJoin != nil {
			onJoin()
		}
		e.upstreamJoinTimer = sched.NewTimer(period, rearm)
	}
	e.upstreamJoinTimer = sched.NewTimer(period, rearm)
}

func (e *Entry) upstreamStateFor(kind EntryKind) UpstreamState {
	switch kind {
	case KindRP:
		return e.UpstreamRP
	case KindWC:
		return e.UpstreamWC
	default:
		return e.UpstreamSG
	}
}

func (e *Entry) setUpstreamStateFor(kind EntryKind, s UpstreamState) {
	switch kind {
	case KindRP:
		e.UpstreamRP = s
	case KindWC:
		e.UpstreamWC = s
	default:
		e.UpstreamSG = s
	}
}

// ReceiveJoinOnUpstreamInterface implements the Join suppression
// mechanism (RFC 4601 §4.3.3): a neighbor on the shared LAN/RPF
// interface overhears a Join for this entry sent to our own RPF
// neighbor; we restart our own Join Timer so we don't also send one.
// The sender of the overheard Join is not checked.
func (e *Entry) ReceiveJoinOnUpstreamInterface(period time.Duration, sched *pimclock.Scheduler, onJoin func()) {
	if e.upstreamJoinTimer == nil {
		return
	}
	e.armUpstreamJoinTimer(period, sched, onJoin)
}

// SGRptTransition drives the (S,G,rpt) upstream state used to prune a
// specific source off the shared tree (spec §4.4): entering Pruned stops
// forwarding S down the RPT locally, NotPruned resumes it.
func (e *Entry) SGRptTransition(s SGRptState) {
	e.SGRpt = s
}
