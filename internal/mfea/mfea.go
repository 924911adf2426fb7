// Package mfea implements the core-side of the Multicast Forwarding
// Engine Abstraction bridge (spec §4.9, §6.2): the install/remove
// surface the core issues toward the kernel-facing MFC owner, and the
// upcall types the MFEA delivers back (NoCache, WrongVif, WholePkt,
// BW-Upcall).
package mfea

import (
	"time"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

const MaxVifs = 32

// MFC is one kernel multicast forwarding cache entry's desired state
// (spec §4.9 add_mfc).
type MFC struct {
	Source   ipaddr.IPvX
	Group    ipaddr.IPvX
	Iif      types.VifIndex
	OifTTLs  [MaxVifs]uint8
	OifFlags [MaxVifs]OifFlag
	RPAddr   ipaddr.IPvX
}

// OifFlag carries per-outgoing-vif flags the advanced kernel API exposes.
type OifFlag uint8

const OifDisableWrongVif OifFlag = 1 << 0

// DataflowThreshold configures an add_dataflow_monitor request (spec
// §4.9). Geq and Leq are mutually exclusive.
type DataflowThreshold struct {
	Source          ipaddr.IPvX
	Group           ipaddr.IPvX
	ThresholdPeriod time.Duration
	ThresholdPkts   uint64
	ThresholdBytes  uint64
	Geq             bool
	Leq             bool
	Rolling         bool
}

// Bridge is the install/remove/monitor surface the core drives; a
// concrete implementation talks to the kernel, a fake is used in tests.
type Bridge interface {
	AddMFC(m MFC) error
	DeleteMFC(source, group ipaddr.IPvX) error
	AddDataflowMonitor(t DataflowThreshold) error
	DeleteDataflowMonitor(source, group ipaddr.IPvX) error
	DeleteAllDataflowMonitor(source, group ipaddr.IPvX) error
}

// UpcallType discriminates the four upcall shapes the MFEA delivers
// (spec §6.2).
type UpcallType int

const (
	UpcallNoCache UpcallType = iota
	UpcallWrongVif
	UpcallWholePkt
	UpcallBWUpcall
)

func (t UpcallType) String() string {
	switch t {
	case UpcallNoCache:
		return "NOCACHE"
	case UpcallWrongVif:
		return "WRONGVIF"
	case UpcallWholePkt:
		return "WHOLEPKT"
	case UpcallBWUpcall:
		return "BW-UPCALL"
	default:
		return "unknown"
	}
}

// BWUpcallUnit selects whether a bandwidth record's thresholds are in
// packets or bytes (spec §6.2).
type BWUpcallUnit int

const (
	UnitPackets BWUpcallUnit = iota
	UnitBytes
)

// BWRecord is the packed threshold-crossing record carried by a
// BW-Upcall (spec §6.2).
type BWRecord struct {
	ThresholdTime    time.Duration
	ThresholdPackets uint64
	ThresholdBytes   uint64
	MeasuredTime     time.Duration
	MeasuredPackets  uint64
	MeasuredBytes    uint64
	Unit             BWUpcallUnit
	Geq              bool
	Leq              bool
}

// Upcall is one MFEA-to-core event (spec §6.2).
type Upcall struct {
	Type   UpcallType
	Vif    types.VifIndex
	Source ipaddr.IPvX
	Dest   ipaddr.IPvX
	BW     *BWRecord // set only when Type == UpcallBWUpcall
}
