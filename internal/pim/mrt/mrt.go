// Package mrt implements the PIM Multicast Routing Table (spec §3.4,
// §4.2): MRE entries keyed by (source, group), their state machines
// (upstream/downstream Join-Prune, Assert, Register, SPT-bit,
// KeepaliveTimer), and the deferred per-entry task fan-out that recomputes
// derived state and emits outgoing messages / MFC calls.
package mrt

import (
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

// EntryKind is a bitmask of which logical entities a physical slot
// currently holds (spec §3.4: at most one of {SG, SG_RPT, WC, RP} is
// externally visible per logical entity, but SG and SG_RPT share a slot).
type EntryKind uint8

const (
	KindSG EntryKind = 1 << iota
	KindSGRpt
	KindWC
	KindRP
)

func (k EntryKind) Has(bit EntryKind) bool { return k&bit != 0 }

// Key identifies an MRE slot.
type Key struct {
	Source ipaddr.IPvX // RP address for RP entries; multicast base prefix addr for WC
	Group  ipaddr.IPvX
}

// UpstreamState covers RP, WC, and SG entries (spec §3.4).
type UpstreamState int

const (
	UpstreamNoInfo UpstreamState = iota
	UpstreamJoined
)

// SGRptState is the (S,G,rpt) upstream state (spec §3.4).
type SGRptState int

const (
	SGRptNotJoined SGRptState = iota
	SGRptPruned
	SGRptNotPruned
)

// DownstreamState is the per-vif Join/Prune state for an entry (spec
// §4.4).
type DownstreamState int

const (
	DownstreamNoInfo DownstreamState = iota
	DownstreamJoin
	DownstreamPrunePending
	DownstreamPrune
)

// AssertState is the per-vif Assert outcome (spec §4.5).
type AssertState int

const (
	AssertNoInfo AssertState = iota
	AssertWinner
	AssertLoser
)

// RegisterState is the (S,G)-only Register state (spec §4.6).
type RegisterState int

const (
	RegisterNoInfo RegisterState = iota
	RegisterJoin
	RegisterPrune
	RegisterJoinPending
)

// AssertMetric is the comparable (preference, metric, RPT, address)
// tuple used for Assert winner elections (spec §4.5).
type AssertMetric struct {
	Preference uint32
	Metric     uint32
	RPT        bool
	Address    ipaddr.IPvX
}

// AssertCancelMetric is the well-known "infinity" metric that cancels a
// loser's Assert state when received (spec §4.5, B3).
var AssertCancelMetric = AssertMetric{Preference: 0x7FFFFFFF, Metric: 0xFFFFFFFF}

// Beats reports whether m is strictly preferred over other: smaller
// preference wins; equal preference, smaller metric wins; equal metric,
// larger address wins. RPT is "worse" than non-RPT at equal
// preference/metric/address (spec §4.5).
func (m AssertMetric) Beats(other AssertMetric) bool {
	if m.Preference != other.Preference {
		return m.Preference < other.Preference
	}
	if m.Metric != other.Metric {
		return m.Metric < other.Metric
	}
	if m.RPT != other.RPT {
		return other.RPT // non-RPT beats RPT
	}
	return other.Address.Less(m.Address)
}

// downstreamVif holds one vif's Join/Prune and Assert state for an entry.
type downstreamVif struct {
	join         DownstreamState
	expiry       *pimclock.Timer
	prunePending *pimclock.Timer

	assert         AssertState
	assertWinner   AssertMetric
	couldAssert    bool
	assertTracking bool
	assertTimer    *pimclock.Timer
	rateLimited    bool
	rateLimitTimer *pimclock.Timer
}

// Entry is one physical MRE slot, holding whichever of {SG, SG_RPT, WC,
// RP} logical entities are present (spec §3.4).
type Entry struct {
	Key  Key
	Kind EntryKind

	NextHopRP     ipaddr.IPvX
	NextHopS      ipaddr.IPvX
	RPFPrimeStarG ipaddr.IPvX
	RPFPrimeSG    ipaddr.IPvX
	RPFPrimeSGRpt ipaddr.IPvX

	UpstreamRP UpstreamState
	UpstreamWC UpstreamState
	UpstreamSG UpstreamState
	SGRpt      SGRptState

	upstreamJoinTimer *pimclock.Timer

	downstream map[types.VifIndex]*downstreamVif

	// Register state (SG only).
	Register        RegisterState
	RegisterStopTmr *pimclock.Timer
	KeepaliveTmr    *pimclock.Timer
	PMBR            ipaddr.IPvX
	DirectlyConnSrc bool
	SPTBit          bool
	IAmRP           bool

	sptSwitchPending bool

	DeletePending bool
	DeleteDone    bool
}

func newEntry(key Key, kind EntryKind) *Entry {
	return &Entry{Key: key, Kind: kind, downstream: make(map[types.VifIndex]*downstreamVif)}
}

func (e *Entry) vifState(vif types.VifIndex) *downstreamVif {
	v, ok := e.downstream[vif]
	if !ok {
		v = &downstreamVif{}
		e.downstream[vif] = v
	}
	return v
}

// Quiescent reports whether e may be deleted (spec §3.4, invariant I6):
// no local receivers (not modeled here beyond downstream join state), no
// downstream state, upstream NoInfo/RptNotJoined with no timers, and
// KeepaliveTimer not running.
func (e *Entry) Quiescent() bool {
	if e.UpstreamRP != UpstreamNoInfo || e.UpstreamWC != UpstreamNoInfo || e.UpstreamSG != UpstreamNoInfo {
		return false
	}
	if e.SGRpt != SGRptNotJoined {
		return false
	}
	if e.upstreamJoinTimer != nil && e.upstreamJoinTimer.Scheduled() {
		return false
	}
	for _, dv := range e.downstream {
		if dv.join != DownstreamNoInfo {
			return false
		}
		if dv.assert != AssertNoInfo {
			return false
		}
	}
	if e.Register != RegisterNoInfo {
		return false
	}
	if e.KeepaliveTmr != nil && e.KeepaliveTmr.Scheduled() {
		return false
	}
	return true
}

// Table is the MRT: every MRE slot keyed by (source, group).
type Table struct {
	entries map[Key]*Entry
	sched   *pimclock.Scheduler
}

// New builds an empty MRT bound to sched for arming entry timers.
func New(sched *pimclock.Scheduler) *Table {
	return &Table{entries: make(map[Key]*Entry), sched: sched}
}

// GetOrCreate returns the slot for key, creating it with kind set if
// absent, or OR-ing kind into an existing slot's Kind bitmask (spec
// §3.4: SG and SG_RPT share a slot).
func (t *Table) GetOrCreate(key Key, kind EntryKind) *Entry {
	e, ok := t.entries[key]
	if !ok {
		e = newEntry(key, kind)
		t.entries[key] = e
		return e
	}
	e.Kind |= kind
	return e
}

// Lookup returns the slot for key, if any.
func (t *Table) Lookup(key Key) (*Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

// TryRemove deletes key's slot if quiescent (spec §3.4 entry_try_remove).
// Reports whether it was removed.
func (t *Table) TryRemove(key Key) bool {
	e, ok := t.entries[key]
	if !ok || !e.Quiescent() {
		return false
	}
	delete(t.entries, key)
	return true
}

// Each calls fn for every MRE slot currently in the table.
func (t *Table) Each(fn func(*Entry)) {
	for _, e := range t.entries {
		fn(e)
	}
}

// Len returns the number of MRE slots.
func (t *Table) Len() int { return len(t.entries) }

// Scheduler exposes the bound scheduler for state-machine code in
// sibling files of this package.
func (t *Table) Scheduler() *pimclock.Scheduler { return t.sched }

// defaultJoinPruneHoldtime is used when a received J/P's holdtime needs a
// fallback (not expected in practice; the wire layer always supplies one).
const defaultJoinPruneHoldtime = 210 * time.Second
