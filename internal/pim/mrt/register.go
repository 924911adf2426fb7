package mrt

import (
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
)

// Register state machine (spec §4.6), driven at the first-hop DR: join
// traffic is encapsulated and unicast to the RP until either the RP
// switches to the SPT (Register-Stop received) or the Keepalive Timer
// lapses with no native data arriving.

// registerSuppressTime is RFC 4601's default, restarted each time a
// Register-Stop is received.
const registerSuppressTime = 60 * time.Second

// registerProbeTime is how long before suppress expiry a Null-Register
// probe is sent to confirm the RP still wants suppression.
const registerProbeTime = 5 * time.Second

// DefaultKeepalivePeriod is RFC 4601's KAT default (spec §4.2).
const DefaultKeepalivePeriod = 210 * time.Second

// RegisterDataArrives transitions NoInfo/JoinPending into Join (spec
// §4.6): native data has arrived for directly-connected source S, so
// Register encapsulation begins. onEncapsulate is invoked once per
// transition into active encapsulation.
func (e *Entry) RegisterDataArrives(onEncapsulate func()) {
	if e.Register == RegisterJoin || e.Register == RegisterPrune {
		return
	}
	e.Register = RegisterJoin
	if e.RegisterStopTmr != nil {
		e.RegisterStopTmr.Cancel()
		e.RegisterStopTmr = nil
	}
	if onEncapsulate != nil {
		onEncapsulate()
	}
}

// ReceiveRegisterStop transitions Join/JoinPending into Prune (spec
// §4.6): the RP has the SPT (or is pruning the register tunnel), so
// encapsulation stops and a Register-Stop suppress timer starts. At
// expiry a Null-Register probe fires to re-confirm suppression, then a
// short extra window before reverting to Join.
func (e *Entry) ReceiveRegisterStop(sched *pimclock.Scheduler, onStopEncapsulating, onProbe, onResumeIfNoResponse func()) {
	if e.Register != RegisterJoin && e.Register != RegisterJoinPending {
		return
	}
	e.Register = RegisterPrune
	if onStopEncapsulating != nil {
		onStopEncapsulating()
	}
	if e.RegisterStopTmr != nil {
		e.RegisterStopTmr.Cancel()
	}
	probeAt := registerSuppressTime - registerProbeTime
	e.RegisterStopTmr = sched.NewTimer(probeAt, func() {
		e.Register = RegisterJoinPending
		if onProbe != nil {
			onProbe()
		}
		e.RegisterStopTmr = sched.NewTimer(registerProbeTime, func() {
			e.Register = RegisterJoin
			e.RegisterStopTmr = nil
			if onResumeIfNoResponse != nil {
				onResumeIfNoResponse()
			}
		})
	})
}

// KeepaliveTimerRunning reports whether the Keepalive Timer is currently
// armed, which per invariant I2 keeps a directly-connected-source (S,G)
// MRE from being deleted even with no downstream joiners.
func (e *Entry) KeepaliveTimerRunning() bool {
	return e.KeepaliveTmr != nil && e.KeepaliveTmr.Scheduled()
}

// ArmKeepalive (re)starts the Keepalive Timer for period d, invoking
// onExpire when it lapses without being refreshed (spec §4.2's
// "KeepaliveTimer should be set" task and its natural expiry both call
// this; expiry triggers MRE deletion eligibility and SPT-bit clearing).
func (e *Entry) ArmKeepalive(sched *pimclock.Scheduler, d time.Duration, onExpire func()) {
	if e.KeepaliveTmr != nil {
		e.KeepaliveTmr.Cancel()
	}
	e.KeepaliveTmr = sched.NewTimer(d, func() {
		e.KeepaliveTmr = nil
		e.SPTBit = false
		if onExpire != nil {
			onExpire()
		}
	})
}

// CancelKeepalive stops the Keepalive Timer without invoking onExpire
// (used on MRE deletion).
func (e *Entry) CancelKeepalive() {
	if e.KeepaliveTmr != nil {
		e.KeepaliveTmr.Cancel()
		e.KeepaliveTmr = nil
	}
}
