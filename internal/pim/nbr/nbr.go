// Package nbr implements PimNbr, the per-vif neighbor record (spec
// §3.3): the Hello-negotiated parameters of one PIM neighbor and its
// liveness timer.
package nbr

import (
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

// HelloForever is the PIM_HELLO_HOLDTIME_FOREVER sentinel (spec B1): a
// Hello with this holdtime leaves the liveness timer un-armed.
const HelloForever = 0xFFFF

// LANPruneDelay holds the negotiated propagation-delay/override-interval
// pair and its T-bit (tracking support disabled when clear).
type LANPruneDelay struct {
	PropagationDelay time.Duration
	OverrideInterval time.Duration
	TBit             bool
}

// PimNbr is one neighbor's Hello-negotiated state plus its liveness timer.
type PimNbr struct {
	Vif       types.VifIndex
	Primary   ipaddr.IPvX
	Version   uint8
	StartTime time.Time

	Holdtime    uint16
	HasGenID    bool
	GenID       uint32
	HasDRPrio   bool
	DRPriority  uint32
	HasLANDelay bool
	LANDelay    LANPruneDelay
	Secondary   []ipaddr.IPvX
	IsNoHello   bool // created without a Hello, via accept_nohello_neighbors

	sched    *pimclock.Scheduler
	liveness *pimclock.Timer
	onExpiry func(*PimNbr)
}

// New constructs a neighbor with its liveness timer armed (unless
// holdtime is HelloForever, spec B1). onExpiry is invoked by the
// scheduler when liveness lapses (spec B2, or natural holdtime expiry).
func New(vif types.VifIndex, primary ipaddr.IPvX, version uint8, holdtime uint16, sched *pimclock.Scheduler, onExpiry func(*PimNbr)) *PimNbr {
	n := &PimNbr{
		Vif:       vif,
		Primary:   primary,
		Version:   version,
		StartTime: sched.Clock().Now(),
		Holdtime:  holdtime,
		sched:     sched,
		onExpiry:  onExpiry,
	}
	n.armLiveness()
	return n
}

func (n *PimNbr) armLiveness() {
	if n.liveness != nil {
		n.liveness.Cancel()
		n.liveness = nil
	}
	if n.Holdtime == HelloForever {
		return
	}
	if n.Holdtime == 0 {
		if n.onExpiry != nil {
			n.onExpiry(n)
		}
		return
	}
	n.liveness = n.sched.NewTimer(time.Duration(n.Holdtime)*time.Second, func() {
		if n.onExpiry != nil {
			n.onExpiry(n)
		}
	})
}

// RefreshHello updates the neighbor from a newly received Hello's
// holdtime, re-arming the liveness timer (spec §4.3).
func (n *PimNbr) RefreshHello(holdtime uint16) {
	n.Holdtime = holdtime
	n.armLiveness()
}

// Stop cancels the liveness timer without invoking onExpiry, used when
// the vif itself is being torn down.
func (n *PimNbr) Stop() {
	if n.liveness != nil {
		n.liveness.Cancel()
		n.liveness = nil
	}
}

