// Package types holds the small process-scoped identifiers shared across
// the PIM-SM control plane: protocol module identities and vif indices.
package types

import "fmt"

// ModuleId names a protocol identity used to route MFEA upcalls and
// membership events to the right consumer.
type ModuleId int

const (
	ModuleUnknown ModuleId = iota
	ModuleMFEA
	ModuleMLD6IGMP
	ModulePIMSM
	ModulePIMDM
)

func (m ModuleId) String() string {
	switch m {
	case ModuleMFEA:
		return "MFEA"
	case ModuleMLD6IGMP:
		return "MLD6IGMP"
	case ModulePIMSM:
		return "PIMSM"
	case ModulePIMDM:
		return "PIMDM"
	default:
		return fmt.Sprintf("ModuleId(%d)", int(m))
	}
}

// VifIndex names a virtual interface within this process. It is stable for
// the lifetime of the vif but not across restarts.
type VifIndex int32

// InvalidVifIndex is the sentinel for "no vif" (e.g. no RPF interface yet).
const InvalidVifIndex VifIndex = -1

// Valid reports whether this is a real (non-sentinel) vif index.
func (v VifIndex) Valid() bool { return v != InvalidVifIndex }

func (v VifIndex) String() string {
	if v == InvalidVifIndex {
		return "INVALID"
	}
	return fmt.Sprintf("vif%d", int(v))
}
