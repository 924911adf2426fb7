package control

import (
	"time"

	"github.com/pim-sm/pimd/internal/types"
)

// VifFlags mirrors the subset of vif.Flags the control surface can set
// post-creation (spec §6.3 set_vif_flags).
type VifFlags struct {
	IsMulticastCapable bool
	IsPointToPoint     bool
	IsLoopback         bool
}

// ConfigSnapshot is the full set of per-vif and global knobs exposed by
// get_config/set_config/reset_config (spec §4, §6.3).
type ConfigSnapshot struct {
	HelloPeriod             time.Duration
	HelloHoldtime           uint16
	TriggeredHelloDelay     time.Duration
	DRPriority              uint32
	PropagationDelay        time.Duration
	OverrideInterval        time.Duration
	TrackingSupportDisabled bool
	AcceptNoHelloNeighbors  bool
	JoinPrunePeriod         time.Duration
	JoinPruneHoldtime       uint16
	DefaultIPTOS            uint8
	RegisterSourceVif       types.VifIndex
	SPTSwitchThresholdBytes uint64
}

// Stats is the per-vif and total counters the stats operation returns
// (spec §6.3: per PIM message type, plus the named error conditions).
type Stats struct {
	PerVif map[types.VifIndex]VifStats
	Total  VifStats
	Errors map[string]uint64
}

// VifStats is one vif's (or the aggregate total's) per-message-type counters.
type VifStats struct {
	HelloRx, HelloTx               uint64
	JoinPruneRx, JoinPruneTx       uint64
	AssertRx, AssertTx             uint64
	RegisterRx, RegisterTx         uint64
	RegisterStopRx, RegisterStopTx uint64
	BootstrapRx, BootstrapTx       uint64
	CandRPAdvRx, CandRPAdvTx       uint64
}

// Handler is implemented by the Node: every control-surface operation
// from spec §6.3 as a Go method, dispatched by name in Dispatch.
type Handler interface {
	AddVif(name string, index types.VifIndex, flags VifFlags) error
	DeleteVif(index types.VifIndex) error
	EnableVif(index types.VifIndex) error
	DisableVif(index types.VifIndex) error
	StartVif(index types.VifIndex) error
	StopVif(index types.VifIndex) error
	SetVifFlags(index types.VifIndex, flags VifFlags) error
	AddVifAddr(p VifAddrParams) error
	DeleteVifAddr(p VifAddrParams) error

	AddMembership(p MembershipParams) error
	DeleteMembership(p MembershipParams) error

	GetConfig() (ConfigSnapshot, error)
	SetConfig(cfg ConfigSnapshot) error
	ResetConfig() error

	AddConfigCandBSR(p CandBSRParams) error
	DeleteConfigCandBSR(vif types.VifIndex) error
	AddConfigCandRP(p CandRPParams) error
	DeleteConfigCandRP(vif types.VifIndex) error
	AddConfigStaticRP(p StaticRPParams) error
	DeleteConfigStaticRP(p StaticRPParams) error
	ConfigStaticRPDone() error

	AddConfigScopeZone(p ScopeZoneParams) error
	DeleteConfigScopeZone(p ScopeZoneParams) error

	GetStats() (Stats, error)
}
