package control

import (
	"encoding/json"
	"fmt"

	"github.com/pim-sm/pimd/internal/types"
)

// Dispatch decodes req.Params into the handler method matching req.Op
// and runs it, returning the envelope to send back over the wire. It
// never panics on a malformed request; decode errors become
// Status=ERROR responses like any other failure (spec §6.3).
func Dispatch(h Handler, req Request) Response {
	switch req.Op {
	case OpAddVif:
		var p struct {
			Name  string         `json:"name"`
			Index types.VifIndex `json:"index"`
			Flags VifFlags       `json:"flags"`
		}
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddVif(p.Name, p.Index, p.Flags))

	case OpDeleteVif:
		return result(h.DeleteVif(vifParam(req)))
	case OpEnableVif:
		return result(h.EnableVif(vifParam(req)))
	case OpDisableVif:
		return result(h.DisableVif(vifParam(req)))
	case OpStartVif:
		return result(h.StartVif(vifParam(req)))
	case OpStopVif:
		return result(h.StopVif(vifParam(req)))

	case OpSetVifFlags:
		var p struct {
			Index types.VifIndex `json:"index"`
			Flags VifFlags       `json:"flags"`
		}
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.SetVifFlags(p.Index, p.Flags))

	case OpAddVifAddr:
		var p VifAddrParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddVifAddr(p))
	case OpDeleteVifAddr:
		var p VifAddrParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.DeleteVifAddr(p))

	case OpAddMembership:
		var p MembershipParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddMembership(p))
	case OpDeleteMembership:
		var p MembershipParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.DeleteMembership(p))

	case OpGetConfig:
		cfg, err := h.GetConfig()
		if err != nil {
			return Err(err)
		}
		return OK(cfg)
	case OpSetConfig:
		var cfg ConfigSnapshot
		if err := decode(req.Params, &cfg); err != nil {
			return Err(err)
		}
		return result(h.SetConfig(cfg))
	case OpResetConfig:
		return result(h.ResetConfig())

	case OpAddConfigCandBSR:
		var p CandBSRParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddConfigCandBSR(p))
	case OpDeleteConfigCandBSR:
		return result(h.DeleteConfigCandBSR(vifParam(req)))
	case OpAddConfigCandRP:
		var p CandRPParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddConfigCandRP(p))
	case OpDeleteConfigCandRP:
		return result(h.DeleteConfigCandRP(vifParam(req)))
	case OpAddConfigStaticRP:
		var p StaticRPParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddConfigStaticRP(p))
	case OpDeleteConfigStaticRP:
		var p StaticRPParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.DeleteConfigStaticRP(p))
	case OpConfigStaticRPDone:
		return result(h.ConfigStaticRPDone())

	case OpAddConfigScopeZone:
		var p ScopeZoneParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.AddConfigScopeZone(p))
	case OpDeleteConfigScopeZone:
		var p ScopeZoneParams
		if err := decode(req.Params, &p); err != nil {
			return Err(err)
		}
		return result(h.DeleteConfigScopeZone(p))

	case OpGetStats:
		stats, err := h.GetStats()
		if err != nil {
			return Err(err)
		}
		return OK(stats)

	default:
		return Err(fmt.Errorf("%w: %q", ErrUnknownOp, req.Op))
	}
}

func result(err error) Response {
	if err != nil {
		return Err(err)
	}
	return OK(nil)
}

func vifParam(req Request) types.VifIndex {
	var p struct {
		Index types.VifIndex `json:"index"`
	}
	_ = decode(req.Params, &p)
	return p.Index
}

// decode re-marshals the loosely typed Params map into dst through
// encoding/json, giving every operation strongly typed arguments without
// a hand-written per-op decoder.
func decode(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("control: encode params: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("control: decode params: %w", err)
	}
	return nil
}
