package mrt

// SPT-switch (spec §4.7): the last-hop router (or the RP, while a source
// is still arriving over the shared tree via Register) measures the
// rate of traffic for a source and, once it crosses the configured
// threshold, joins the source-rooted tree directly instead of waiting
// for the shared tree's natural churn. This mirrors the Keepalive/
// Register split already in register.go: the decision to switch and the
// confirmation that the switch has taken effect are separate events,
// because traffic takes a round trip to start arriving over the new
// path.

// EvaluateSPTSwitch applies the RFC 4601 switchover rule for one
// threshold-crossing report: measuredBytes at or above thresholdBytes
// (thresholdBytes == 0 disables the feature) triggers the switch, unless
// S is already directly connected or the SPT-bit is already set. Returns
// true the first time the threshold is crossed; repeat reports before
// ConfirmSPTSwitch are no-ops.
func (e *Entry) EvaluateSPTSwitch(measuredBytes, thresholdBytes uint64) bool {
	if thresholdBytes == 0 || e.SPTBit || e.DirectlyConnSrc || e.sptSwitchPending {
		return false
	}
	if measuredBytes < thresholdBytes {
		return false
	}
	e.sptSwitchPending = true
	return true
}

// ConfirmSPTSwitch latches the SPT-bit once traffic has actually been
// observed arriving over the source-rooted tree joined in response to
// EvaluateSPTSwitch. A no-op if no switch is pending.
func (e *Entry) ConfirmSPTSwitch() {
	if e.sptSwitchPending {
		e.SPTBit = true
		e.sptSwitchPending = false
	}
}

// SPTSwitchPending reports whether a switch has been requested but not
// yet confirmed.
func (e *Entry) SPTSwitchPending() bool {
	return e.sptSwitchPending
}
