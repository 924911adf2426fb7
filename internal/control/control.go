// Package control implements the PIM core's control surface (spec
// §6.3): vif lifecycle, membership, config get/set/reset, BSR/RP static
// configuration, and stats, each as a request/response round trip that
// always answers OK or ERROR with a message — no operation is
// fire-and-forget.
package control

import (
	"fmt"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

// Op names every control-surface operation (spec §6.3).
type Op string

const (
	OpAddVif          Op = "add_vif"
	OpDeleteVif       Op = "delete_vif"
	OpEnableVif       Op = "enable_vif"
	OpDisableVif      Op = "disable_vif"
	OpStartVif        Op = "start_vif"
	OpStopVif         Op = "stop_vif"
	OpSetVifFlags     Op = "set_vif_flags"
	OpAddVifAddr      Op = "add_vif_addr"
	OpDeleteVifAddr   Op = "delete_vif_addr"

	OpAddMembership    Op = "add_membership"
	OpDeleteMembership Op = "delete_membership"

	OpGetConfig   Op = "get_config"
	OpSetConfig   Op = "set_config"
	OpResetConfig Op = "reset_config"

	OpAddConfigCandBSR      Op = "add_config_cand_bsr"
	OpDeleteConfigCandBSR   Op = "delete_config_cand_bsr"
	OpAddConfigCandRP       Op = "add_config_cand_rp"
	OpDeleteConfigCandRP    Op = "delete_config_cand_rp"
	OpAddConfigStaticRP     Op = "add_config_static_rp"
	OpDeleteConfigStaticRP  Op = "delete_config_static_rp"
	OpConfigStaticRPDone    Op = "config_static_rp_done"

	OpGetStats Op = "get_stats"

	OpAddConfigScopeZone    Op = "add_config_scope_zone"
	OpDeleteConfigScopeZone Op = "delete_config_scope_zone"
)

// Request is the envelope every control-surface call sends: Op selects
// the operation, Params carries its operation-specific arguments.
type Request struct {
	Op     Op             `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// Status is OK or ERROR, per spec §6.3's "every operation returns OK or
// ERROR with a string error message".
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Response is the envelope every control-surface call receives.
type Response struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// OK builds a successful response carrying an optional result payload.
func OK(result any) Response { return Response{Status: StatusOK, Result: result} }

// Err builds a failure response from err's message.
func Err(err error) Response {
	if err == nil {
		return Response{Status: StatusError, Message: "unknown error"}
	}
	return Response{Status: StatusError, Message: err.Error()}
}

// VifAddrParams is the payload for add_vif_addr/delete_vif_addr.
type VifAddrParams struct {
	Vif     types.VifIndex `json:"vif"`
	Addr    ipaddr.IPvX    `json:"addr"`
	PrefixL int            `json:"prefix_len"`
}

// MembershipParams is the payload for add_membership/delete_membership;
// a zero Source means (*,G) per spec §6.3.
type MembershipParams struct {
	Vif    types.VifIndex `json:"vif"`
	Source ipaddr.IPvX    `json:"source"`
	Group  ipaddr.IPvX    `json:"group"`
}

// StaticRPParams is the payload for add_config_static_rp/delete_config_static_rp.
type StaticRPParams struct {
	GroupPrefix ipaddr.IPvXNet `json:"group_prefix"`
	RPAddress   ipaddr.IPvX    `json:"rp_address"`
	Priority    uint8          `json:"priority"`
}

// CandBSRParams is the payload for add_config_cand_bsr/delete_config_cand_bsr.
type CandBSRParams struct {
	Vif         types.VifIndex `json:"vif"`
	Priority    uint8          `json:"priority"`
	HashMaskLen uint8          `json:"hash_mask_len"`
}

// CandRPParams is the payload for add_config_cand_rp/delete_config_cand_rp.
type CandRPParams struct {
	Vif         types.VifIndex   `json:"vif"`
	GroupPrefixes []ipaddr.IPvXNet `json:"group_prefixes"`
	Priority    uint8            `json:"priority"`
	Holdtime    uint16           `json:"holdtime"`
}

// ScopeZoneParams is the payload for add_config_scope_zone/
// delete_config_scope_zone: the administratively scoped boundary for
// Prefix (spec §3.5, §7.3).
type ScopeZoneParams struct {
	Prefix ipaddr.IPvXNet `json:"prefix"`
}

// ErrUnknownOp is returned when Op doesn't match any handler method.
var ErrUnknownOp = fmt.Errorf("control: unknown operation")
