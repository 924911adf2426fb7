package mrt

import (
	"time"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/types"
)

// Assert per-interface state machine (spec §4.5): NoInfo/Winner/Loser on
// a shared-LAN vif, arbitrating which of possibly several forwarders
// keeps forwarding traffic for this entry onto the LAN.

// ReceiveAssert processes a received Assert's metric against vif's
// current state (spec §4.5). myMetric is this router's own metric for
// the entry (used when NoInfo receives an Assert and must decide whether
// to concede or contest); onBecomeLoser/onBecomeWinner report transitions
// so the caller can stop/start forwarding and arm/cancel the Assert
// Timer at the right cadence.
func (e *Entry) ReceiveAssert(vif types.VifIndex, received AssertMetric, myMetric AssertMetric, iAmDR bool, assertTime time.Duration, sched *pimclock.Scheduler, onBecomeLoser, onBecomeWinner, onNoInfo func(types.VifIndex)) {
	dv := e.vifState(vif)

	switch dv.assert {
	case AssertNoInfo:
		if received.Beats(myMetric) {
			dv.assert = AssertLoser
			dv.assertWinner = received
			armAssertTimer(dv, sched, assertTime, func() { e.assertTimerExpire(vif, onNoInfo) })
			if onBecomeLoser != nil {
				onBecomeLoser(vif)
			}
		} else {
			// We are preferred: send our own Assert to correct the sender
			// and become Winner (caller is responsible for transmitting).
			dv.assert = AssertWinner
			dv.assertWinner = myMetric
			armAssertTimer(dv, sched, assertTime, func() { e.assertTimerExpire(vif, onNoInfo) })
			if onBecomeWinner != nil {
				onBecomeWinner(vif)
			}
		}
	case AssertWinner:
		if received.Beats(myMetric) {
			dv.assert = AssertLoser
			dv.assertWinner = received
			armAssertTimer(dv, sched, assertTime, func() { e.assertTimerExpire(vif, onNoInfo) })
			if onBecomeLoser != nil {
				onBecomeLoser(vif)
			}
		}
		// Else: an inferior Assert while we're Winner; re-assert to
		// correct it (caller resends, timer stays as-is).
	case AssertLoser:
		if received == AssertCancelMetric {
			dv.assert = AssertNoInfo
			cancelAssertTimer(dv)
			if onNoInfo != nil {
				onNoInfo(vif)
			}
			return
		}
		if received.Beats(dv.assertWinner) {
			dv.assertWinner = received
			armAssertTimer(dv, sched, assertTime, func() { e.assertTimerExpire(vif, onNoInfo) })
		} else if !dv.assertWinner.Beats(received) && dv.assertWinner != received {
			// Equal-preference different sender: RFC 4601 resets the
			// timer but keeps current winner metric.
			armAssertTimer(dv, sched, assertTime, func() { e.assertTimerExpire(vif, onNoInfo) })
		}
	}
}

// AssertWin is called when local conditions (e.g. directly-connected
// source data arriving, or CouldAssert becoming true) require this router
// to contest an Assert it hasn't yet heard about, per RFC 4601's
// "data packet arrives on Outgoing interface" event. myMetric is sent as
// this router's candidate Assert and recorded as Winner.
func (e *Entry) AssertWin(vif types.VifIndex, myMetric AssertMetric, assertTime time.Duration, sched *pimclock.Scheduler, onNoInfo func(types.VifIndex)) {
	dv := e.vifState(vif)
	dv.assert = AssertWinner
	dv.assertWinner = myMetric
	armAssertTimer(dv, sched, assertTime, func() { e.assertTimerExpire(vif, onNoInfo) })
}

func (e *Entry) assertTimerExpire(vif types.VifIndex, onNoInfo func(types.VifIndex)) {
	dv, ok := e.downstream[vif]
	if !ok {
		return
	}
	dv.assert = AssertNoInfo
	dv.assertWinner = AssertMetric{}
	dv.assertTimer = nil
	if onNoInfo != nil {
		onNoInfo(vif)
	}
}

func armAssertTimer(dv *downstreamVif, sched *pimclock.Scheduler, d time.Duration, fn func()) {
	if dv.assertTimer != nil {
		dv.assertTimer.Cancel()
	}
	dv.assertTimer = sched.NewTimer(d, fn)
}

func cancelAssertTimer(dv *downstreamVif) {
	if dv.assertTimer != nil {
		dv.assertTimer.Cancel()
		dv.assertTimer = nil
	}
}

// AssertStateOf returns vif's current Assert state for this entry.
func (e *Entry) AssertStateOf(vif types.VifIndex) AssertState {
	dv, ok := e.downstream[vif]
	if !ok {
		return AssertNoInfo
	}
	return dv.assert
}

// IsAssertLoser reports whether this router has lost an Assert on vif,
// which per spec §4.4 removes vif from the entry's immediate olist
// regardless of its Join/Prune state.
func (e *Entry) IsAssertLoser(vif types.VifIndex) bool {
	return e.AssertStateOf(vif) == AssertLoser
}
