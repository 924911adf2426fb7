// Package bsr implements Bootstrap Router and Candidate-RP election
// (spec §3.5, §4.8): per-zone Candidate-BSR/Accept-BSR state machines,
// Bootstrap message merge/accept logic, and the periodic
// Candidate-RP-Advertise timer, feeding an rptable.Table with the
// resulting RP-set.
package bsr

import (
	"math/rand"
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/pim/wire"
	"github.com/pim-sm/pimd/internal/rptable"
	"github.com/pim-sm/pimd/internal/types"
)

// RFC 4601 §4.7/§4.8 defaults.
const (
	DefaultBSTimeout           = 130 * time.Second
	DefaultBSPeriod            = 60 * time.Second
	DefaultCandidateRPAdvPeriod = 60 * time.Second
)

// CandBSRState is the local Candidate-BSR FSM (spec §4.8).
type CandBSRState int

const (
	StateInit CandBSRState = iota
	StateCandidateBSR
	StatePendingBSR
	StateElectedBSR
)

func (s CandBSRState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateCandidateBSR:
		return "Candidate-BSR"
	case StatePendingBSR:
		return "Pending-BSR"
	case StateElectedBSR:
		return "Elected-BSR"
	default:
		return "unknown"
	}
}

// ZoneID identifies a scope zone (spec §3.5): the non-scoped global zone
// is represented by the IP multicast base prefix with IsScopeZone=false.
type ZoneID struct {
	Prefix      ipaddr.IPvXNet
	IsScopeZone bool
}

// BSRInfo is the (priority, address) pair Candidate-BSR comparison
// orders on: higher priority wins, address breaks ties (spec §3.5).
type BSRInfo struct {
	Address  ipaddr.IPvX
	Priority uint8
}

// Beats reports whether a outranks b: higher priority wins; equal
// priority, higher address wins.
func (a BSRInfo) Beats(b BSRInfo) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return b.Address.Less(a.Address)
}

// RP is one Candidate-RP entry inside a group prefix (spec §3.5 BsrRp).
type RP struct {
	Address     ipaddr.IPvX
	Priority    uint8
	Holdtime    uint16
	MyVif       types.VifIndex // InvalidVifIndex unless this router is the candidate
	expiryTimer *pimclock.Timer
}

// GroupPrefix is one BsrGroupPrefix entry: a multicast prefix with its
// RP list and the count of RPs the current fragment sequence claims to
// cover (spec §3.5).
type GroupPrefix struct {
	Prefix        ipaddr.IPvXNet
	IsScopeZone   bool
	ExpectedCount uint8
	RPs           []RP
}

// Zone is one BsrZone: the BSR state, fragment reassembly, and RP-set
// for a scope zone (spec §3.5).
type Zone struct {
	ID ZoneID

	BSR         BSRInfo
	HashMaskLen uint8
	FragmentTag uint16
	hasBSR      bool

	IsConfig bool
	IsActive bool
	IsExpire bool
	IsTest   bool

	MyCandidate  bool
	MyVif        types.VifIndex
	MyBSRAddress ipaddr.IPvX
	MyPriority   uint8

	State CandBSRState

	GroupPrefixes []*GroupPrefix

	bsrTimer       *pimclock.Timer
	candRPAdvTimer *pimclock.Timer

	sched *pimclock.Scheduler
	rps   *rptable.Table
}

// NewZone constructs a zone bound to sched for timers and rps for
// publishing the resulting RP-set.
func NewZone(id ZoneID, sched *pimclock.Scheduler, rps *rptable.Table) *Zone {
	return &Zone{ID: id, State: StateInit, MyVif: types.InvalidVifIndex, sched: sched, rps: rps}
}

// Activate configures this router as Candidate-BSR for the zone and
// starts the FSM (spec §4.8: Init -> Pending-BSR on first configured
// activity).
func (z *Zone) Activate(vif types.VifIndex, addr ipaddr.IPvX, priority uint8, hashMaskLen uint8, onOriginate func(*Zone)) {
	z.IsConfig = true
	z.MyCandidate = true
	z.MyVif = vif
	z.MyBSRAddress = addr
	z.MyPriority = priority
	z.HashMaskLen = hashMaskLen
	z.BSR = BSRInfo{Address: addr, Priority: priority}
	z.hasBSR = true
	z.State = StatePendingBSR
	z.armBSRTimer(DefaultBSTimeout, onOriginate)
}

func (z *Zone) armBSRTimer(d time.Duration, onOriginate func(*Zone)) {
	if z.bsrTimer != nil {
		z.bsrTimer.Cancel()
	}
	z.bsrTimer = z.sched.NewTimer(d, func() { z.bsrTimerExpire(onOriginate) })
}

func (z *Zone) bsrTimerExpire(onOriginate func(*Zone)) {
	switch z.State {
	case StatePendingBSR:
		z.State = StateElectedBSR
		z.IsActive = true
		if onOriginate != nil {
			onOriginate(z)
		}
		z.armBSRTimer(DefaultBSPeriod, onOriginate)
	case StateElectedBSR:
		if onOriginate != nil {
			onOriginate(z)
		}
		z.armBSRTimer(DefaultBSPeriod, onOriginate)
	case StateCandidateBSR:
		z.State = StatePendingBSR
		z.BSR = BSRInfo{Address: z.MyBSRAddress, Priority: z.MyPriority}
		z.armBSRTimer(DefaultBSTimeout, onOriginate)
	}
}

// overrideInterval randomizes the wait before a losing Candidate-BSR
// re-contests: DefaultBSTimeout, plus one second per point of priority the
// heard BSR has over this candidate, plus up to 5s of jitter. The address
// difference between the two does not affect the interval.
func overrideInterval(mine, heard BSRInfo) time.Duration {
	base := DefaultBSTimeout
	delta := int(heard.Priority) - int(mine.Priority)
	if delta < 0 {
		delta = 0
	}
	jitter := time.Duration(rand.Int63n(int64(5*time.Second) + 1))
	return base + time.Duration(delta)*time.Second + jitter
}

// ReceiveBootstrap processes a Bootstrap message from sender with the
// carried (fragmentTag, groups) RP-set (spec §4.8). Returns whether the
// zone's RP-set changed and whether the message should be forwarded.
func (z *Zone) ReceiveBootstrap(sender BSRInfo, fragmentTag uint16, hashMaskLen uint8, groups []GroupPrefix, onOriginate func(*Zone)) (changed, forward bool) {
	betterOrEqual := !z.hasBSR || !z.BSR.Beats(sender) // sender wins or ties
	if !betterOrEqual {
		if z.State == StateElectedBSR && onOriginate != nil {
			onOriginate(z)
		}
		return false, false
	}

	sameBSR := z.hasBSR && z.BSR == sender
	merge := sameBSR && z.FragmentTag == fragmentTag

	z.BSR = sender
	z.hasBSR = true
	z.HashMaskLen = hashMaskLen
	if z.State != StateInit {
		if z.MyCandidate && sender.Address != z.MyBSRAddress {
			z.State = StateCandidateBSR
			z.armBSRTimer(overrideInterval(BSRInfo{Address: z.MyBSRAddress, Priority: z.MyPriority}, sender), onOriginate)
		} else {
			z.State = StateElectedBSR
			z.armBSRTimer(DefaultBSPeriod, onOriginate)
		}
	}

	if merge {
		changed = z.mergeGroups(groups)
	} else {
		z.FragmentTag = fragmentTag
		z.GroupPrefixes = nil
		changed = z.mergeGroups(groups)
	}
	z.publishRPSet()
	return changed, true
}

// mergeGroups unions incoming group-prefix RP lists into the zone (spec
// §4.8): an existing entry for the same prefix gains the RPs it lacks, up
// to its ExpectedCount when that is non-zero, and a new prefix is appended.
func (z *Zone) mergeGroups(incoming []GroupPrefix) bool {
	changed := false
	for _, g := range incoming {
		found := false
		for _, existing := range z.GroupPrefixes {
			if existing.Prefix == g.Prefix {
				found = true
				if mergeRPs(existing, g.RPs) {
					changed = true
				}
				break
			}
		}
		if !found {
			cp := g
			z.GroupPrefixes = append(z.GroupPrefixes, &cp)
			changed = true
		}
	}
	return changed
}

func mergeRPs(existing *GroupPrefix, incoming []RP) bool {
	changed := false
	for _, rp := range incoming {
		present := false
		for _, e := range existing.RPs {
			if e.Address.Equal(rp.Address) {
				present = true
				break
			}
		}
		if !present && (existing.ExpectedCount == 0 || len(existing.RPs) < int(existing.ExpectedCount)) {
			existing.RPs = append(existing.RPs, rp)
			changed = true
		}
	}
	return changed
}

// publishRPSet pushes every group prefix's RP list into the bound
// rptable.Table as candidate RPs (spec §4.8 rp_for_group wiring).
func (z *Zone) publishRPSet() {
	if z.rps == nil {
		return
	}
	for _, g := range z.GroupPrefixes {
		candidates := make([]rptable.CandidateRP, 0, len(g.RPs))
		for _, rp := range g.RPs {
			candidates = append(candidates, rptable.CandidateRP{
				Address:     rp.Address,
				Priority:    rp.Priority,
				HashMaskLen: z.HashMaskLen,
				Holdtime:    rp.Holdtime,
			})
		}
		z.rps.SetRPs(g.Prefix, candidates)
	}
}

// StartCandidateRPAdvertise arms the periodic unicast Candidate-RP-Advertise
// timer toward the current BSR (spec §4.8). StopCandidateRPAdvertise
// cancels the timer and sends nothing; the holdtime-0 cancel message is
// built separately by ToWireCandRPAdv.
func (z *Zone) StartCandidateRPAdvertise(period time.Duration, onAdvertise func(*Zone)) {
	if z.candRPAdvTimer != nil {
		z.candRPAdvTimer.Cancel()
	}
	var rearm func()
	rearm = func() {
		if onAdvertise != nil {
			onAdvertise(z)
		}
		z.candRPAdvTimer = z.sched.NewTimer(period, rearm)
	}
	z.candRPAdvTimer = z.sched.NewTimer(period, rearm)
}

// StopCandidateRPAdvertise cancels the periodic advertise timer. Callers
// that want the holdtime-0 cancel advertisement sent first (spec §4.8,
// §9) should call ToWireCandRPAdv(vif, true) and send it before calling
// this.
func (z *Zone) StopCandidateRPAdvertise() {
	if z.candRPAdvTimer != nil {
		z.candRPAdvTimer.Cancel()
		z.candRPAdvTimer = nil
	}
}

// HasBSR reports whether the zone has ever learned or been configured
// with a BSR address (false only before the first Activate/ReceiveBootstrap).
func (z *Zone) HasBSR() bool { return z.hasBSR }

// ToWireBootstrap projects the zone's current BSR identity and RP-set
// into a Bootstrap message body for origination (spec §4.8, the reverse
// direction of ReceiveBootstrap's merge).
func (z *Zone) ToWireBootstrap() wire.BootstrapMessage {
	groups := make([]wire.BootstrapGroup, 0, len(z.GroupPrefixes))
	for _, g := range z.GroupPrefixes {
		rps := make([]wire.BootstrapRP, 0, len(g.RPs))
		for _, rp := range g.RPs {
			rps = append(rps, wire.BootstrapRP{
				Address:  wire.EncodedUnicastAddr{Addr: rp.Address},
				Holdtime: rp.Holdtime,
				Priority: rp.Priority,
			})
		}
		groups = append(groups, wire.BootstrapGroup{
			Group:       wire.EncodedGroupAddr{Group: g.Prefix, IsAdminZone: g.IsScopeZone},
			FragRPCount: uint8(len(rps)),
			RPs:         rps,
		})
	}
	return wire.BootstrapMessage{
		FragmentTag: z.FragmentTag,
		HashMaskLen: z.HashMaskLen,
		BSRPriority: z.BSR.Priority,
		BSRAddress:  wire.EncodedUnicastAddr{Addr: z.BSR.Address},
		Groups:      groups,
	}
}

// ToWireCandRPAdv projects this router's own advertised group prefixes
// (the ones whose RP entry carries myVif) into a Cand-RP-Adv message
// body. Reports false if this router isn't advertising any group for
// myVif. cancel forces Holdtime to zero, the BSM-cancel-on-shutdown
// idiom (spec §9, pim_bsr.cc's is_cancel): a C-RP announcing its own
// withdrawal rather than waiting for its advertised holdtime to lapse.
func (z *Zone) ToWireCandRPAdv(myVif types.VifIndex, cancel bool) (wire.CandRPAdvMessage, bool) {
	var addr ipaddr.IPvX
	var priority uint8
	var holdtime uint16
	var groups []wire.EncodedGroupAddr
	for _, g := range z.GroupPrefixes {
		for _, rp := range g.RPs {
			if rp.MyVif != myVif {
				continue
			}
			addr, priority, holdtime = rp.Address, rp.Priority, rp.Holdtime
			groups = append(groups, wire.EncodedGroupAddr{Group: g.Prefix, IsAdminZone: g.IsScopeZone})
		}
	}
	if len(groups) == 0 {
		return wire.CandRPAdvMessage{}, false
	}
	if cancel {
		holdtime = 0
	}
	return wire.CandRPAdvMessage{
		Priority:  priority,
		Holdtime:  holdtime,
		RPAddress: wire.EncodedUnicastAddr{Addr: addr},
		Groups:    groups,
	}, true
}

// BumpFragmentTag advances the fragment tag used in the next originated
// Bootstrap message, signaling a new, independent RP-set sequence (spec
// §4.8; used for the BSM-cancel-on-shutdown final message).
func (z *Zone) BumpFragmentTag() { z.FragmentTag++ }
