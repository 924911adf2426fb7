// Package pimvif implements PimVif (spec §3.2): a Vif extended with the
// PIM Hello engine, DR election, and per-message statistics. It is the per-interface protocol instance the node drives.
package pimvif

import (
	"math/rand"
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/pim/nbr"
	"github.com/pim-sm/pimd/internal/vif"
)

// Config holds the Hello/J-P/Assert knobs a PimVif is configured with
// (spec §3.2, §6.3 config surface). All durations are stored already
// resolved (seconds-as-Duration), matching how the rest of the engine
// consumes them.
type Config struct {
	HelloPeriod            time.Duration
	HelloHoldtime          uint16
	TriggeredHelloDelay    time.Duration
	PropagationDelay       time.Duration
	OverrideInterval       time.Duration
	TrackingSupportDisabled bool
	AcceptNoHelloNeighbors bool
	DRPriority             uint32
	JoinPrunePeriod        time.Duration
	JoinPruneHoldtime      uint16
	AssertTime             time.Duration
	AssertOverrideInterval time.Duration
}

// DefaultConfig matches RFC 4601's recommended defaults.
func DefaultConfig() Config {
	return Config{
		HelloPeriod:         30 * time.Second,
		HelloHoldtime:       105,
		TriggeredHelloDelay: 5 * time.Second,
		PropagationDelay:    500 * time.Millisecond,
		OverrideInterval:    2500 * time.Millisecond,
		DRPriority:          1,
		JoinPrunePeriod:     60 * time.Second,
		JoinPruneHoldtime:   210,
		AssertTime:          180 * time.Second,
		AssertOverrideInterval: 3 * time.Second,
	}
}

// Stats are the per-message-type counters spec §6.3 requires per vif.
type Stats struct {
	HelloRx, HelloTx             uint64
	JoinPruneRx, JoinPruneTx     uint64
	AssertRx, AssertTx           uint64
	RegisterRx, RegisterTx       uint64
	RegisterStopRx, RegisterStopTx uint64
	BootstrapRx, BootstrapTx     uint64
	CandRPAdvRx, CandRPAdvTx     uint64
	BadChecksum                  uint64
	UnknownHelloOption           uint64
}

// PimVif extends vif.Vif with PIM protocol state.
type PimVif struct {
	*vif.Vif
	Config Config
	Stats  Stats

	GenID          uint32
	PendingHello   bool // next outgoing message on this vif must be preceded by a Hello
	DR             ipaddr.IPvX
	neighbors      map[string]*nbr.PimNbr // keyed by primary address string

	sched      *pimclock.Scheduler
	helloTimer *pimclock.Timer
	sendHello  func(*PimVif)
}

// New constructs a PimVif around an already-built Vif value.
func New(v *vif.Vif, cfg Config, sched *pimclock.Scheduler, sendHello func(*PimVif)) *PimVif {
	return &PimVif{
		Vif:       v,
		Config:    cfg,
		neighbors: make(map[string]*nbr.PimNbr),
		sched:     sched,
		sendHello: sendHello,
	}
}

// StartPIM randomizes GenID, arms the triggered Hello timer, and flips
// PendingHello so the first outgoing message is preceded by a Hello
// (spec §4.3). Call after Vif.Start succeeds.
func (p *PimVif) StartPIM() {
	p.GenID = rand.Uint32()
	p.PendingHello = true
	delay := time.Duration(rand.Int63n(int64(p.Config.TriggeredHelloDelay) + 1))
	p.helloTimer = p.sched.NewTimer(delay, p.onHelloTimer)
}

func (p *PimVif) onHelloTimer() {
	if p.sendHello != nil {
		p.sendHello(p)
	}
	p.Stats.HelloTx++
	p.PendingHello = false
	p.helloTimer = p.sched.NewTimer(p.Config.HelloPeriod, p.onHelloTimer)
}

// StopPIM cancels the Hello timer and every neighbor's liveness timer
// without waiting for natural expiry, and returns the neighbors that
// were live so the caller can recompute any state that depended on them.
func (p *PimVif) StopPIM() []*nbr.PimNbr {
	if p.helloTimer != nil {
		p.helloTimer.Cancel()
		p.helloTimer = nil
	}
	var all []*nbr.PimNbr
	for _, n := range p.neighbors {
		n.Stop()
		all = append(all, n)
	}
	p.neighbors = make(map[string]*nbr.PimNbr)
	return all
}

// ReceiveHello creates or refreshes the PimNbr for src, and recomputes
// the DR. onNew is invoked for a brand new neighbor so the caller can
// fan out the PimNbr-changed task; onGenIDChanged similarly.
func (p *PimVif) ReceiveHello(src ipaddr.IPvX, version uint8, holdtime uint16, genID uint32, hasGenID bool, drPriority uint32, hasDRPriority bool, lanDelay nbr.LANPruneDelay, hasLANDelay bool, secondary []ipaddr.IPvX, onExpiry func(*nbr.PimNbr), onNew, onGenIDChanged func(*nbr.PimNbr)) *nbr.PimNbr {
	p.Stats.HelloRx++
	key := src.String()
	n, exists := p.neighbors[key]
	if !exists {
		n = nbr.New(p.Index, src, version, holdtime, p.sched, onExpiry)
		p.neighbors[key] = n
		n.HasGenID, n.GenID = hasGenID, genID
		n.HasDRPrio, n.DRPriority = hasDRPriority, drPriority
		n.HasLANDelay, n.LANDelay = hasLANDelay, lanDelay
		n.Secondary = secondary
		if onNew != nil {
			onNew(n)
		}
	} else {
		genIDChanged := hasGenID && (!n.HasGenID || n.GenID != genID)
		n.RefreshHello(holdtime)
		n.HasGenID, n.GenID = hasGenID, genID
		n.HasDRPrio, n.DRPriority = hasDRPriority, drPriority
		n.HasLANDelay, n.LANDelay = hasLANDelay, lanDelay
		n.Secondary = secondary
		if genIDChanged && onGenIDChanged != nil {
			onGenIDChanged(n)
		}
	}
	p.electDR()
	return n
}

// RemoveNeighbor drops a torn-down neighbor from the vif's table. The
// caller is responsible for recomputing any MRE state that depended on
// it (RPF, Assert winners) before or after calling this.
func (p *PimVif) RemoveNeighbor(n *nbr.PimNbr) {
	delete(p.neighbors, n.Primary.String())
	p.electDR()
}

// Neighbors returns every currently live neighbor on this vif.
func (p *PimVif) Neighbors() []*nbr.PimNbr {
	out := make([]*nbr.PimNbr, 0, len(p.neighbors))
	for _, n := range p.neighbors {
		out = append(out, n)
	}
	return out
}

type drCandidate struct {
	addr        ipaddr.IPvX
	priority    uint32
	hasPriority bool
}

// electDR recomputes the DR per spec §4.3 / I5: among {self, neighbors},
// prefer the highest DR-priority when every participant advertised one;
// else (or on tie) the highest primary address wins.
func (p *PimVif) electDR() {
	primary, ok := p.PrimaryAddr()
	if !ok {
		p.DR = ipaddr.IPvX{}
		return
	}
	candidates := []drCandidate{{addr: primary, priority: p.Config.DRPriority, hasPriority: true}}
	allHavePriority := true
	for _, n := range p.neighbors {
		candidates = append(candidates, drCandidate{addr: n.Primary, priority: n.DRPriority, hasPriority: n.HasDRPrio})
		if !n.HasDRPrio {
			allHavePriority = false
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if drWins(c, best, allHavePriority) {
			best = c
		}
	}
	p.DR = best.addr
}

// drWins reports whether candidate c outranks candidate over: by
// priority when every candidate advertised one, else by address alone;
// address always breaks a priority tie (spec §4.3).
func drWins(c, over drCandidate, comparePriority bool) bool {
	if comparePriority && c.priority != over.priority {
		return c.priority > over.priority
	}
	return over.addr.Less(c.addr)
}
