// Package metrics declares the prometheus instrumentation for pimd: one
// counter per PIM message type (rx/tx, labeled by vif), and one counter
// vector for the named error conditions enumerated in the error taxonomy
// (spec §6.3, §7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pimd_messages_received_total", Help: "PIM messages received, by vif and message type.",
	}, []string{"vif", "type"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pimd_messages_sent_total", Help: "PIM messages sent, by vif and message type.",
	}, []string{"vif", "type"})

	// Errors covers the named error conditions from the error taxonomy,
	// e.g. bad_checksum, rx_register_not_rp, rx_bsr_not_rpf_interface,
	// rx_unknown_hello_option (spec §6.3, §7).
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pimd_errors_total", Help: "Named protocol and input-validation error conditions, by kind.",
	}, []string{"kind"})

	MREEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pimd_mre_entries", Help: "Current MRT entry count, by entry kind.",
	}, []string{"kind"})

	Neighbors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pimd_neighbors", Help: "Current PIM neighbor count, by vif.",
	}, []string{"vif"})

	BSRState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pimd_bsr_state", Help: "Candidate-BSR FSM state, 1 for the currently active state and 0 otherwise, by zone and state name.",
	}, []string{"zone", "state"})

	RegisterTunnelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pimd_register_tunnels_active", Help: "Number of (S,G) entries currently encapsulating Register traffic.",
	})
)

// Error-taxonomy kind labels used with Errors (spec §7 categories 1-2 and
// the named counters called out in §6.3).
const (
	ErrBadChecksum           = "bad_checksum"
	ErrUnknownType           = "unknown_type"
	ErrBadVersion            = "bad_version"
	ErrMalformedPacket       = "malformed_packet"
	ErrNonMulticastGroup     = "non_multicast_group"
	ErrNonUnicastSource      = "non_unicast_source"
	ErrNotFromNeighbor       = "not_from_neighbor"
	ErrAssertFromSelf        = "assert_from_self"
	ErrBootstrapNotRPF       = "rx_bsr_not_rpf_interface"
	ErrRegisterNotRP         = "rx_register_not_rp"
	ErrUnknownHelloOption    = "rx_unknown_hello_option"
	ErrMFCAddRejected        = "mfc_add_rejected"
	ErrDataflowMonitorFailed = "dataflow_monitor_add_failed"
)
