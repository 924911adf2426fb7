// Package vif implements the Vif value type and its lifecycle state
// machine (spec §3.2, §9 "ProtoUnit-like lifecycle"). PimVif (in
// internal/pim/pimvif) embeds a Vif and layers PIM-specific state on top.
package vif

import (
	"errors"
	"fmt"

	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

// State is the ProtoUnit-like lifecycle state of a vif, replacing the
// teacher's deep ProtoNode/ProtoUnit virtual hierarchy with one concrete
// enum plus observer callbacks (spec §9).
type State int

const (
	StateDisabled State = iota
	StateEnabled
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrAlreadyUp     = errors.New("vif: already up")
	ErrNotUp         = errors.New("vif: not up")
	ErrNoPrimaryAddr = errors.New("vif: no primary address available")
	ErrAddrExists    = errors.New("vif: address already present")
	ErrAddrNotFound  = errors.New("vif: address not found")
)

// Addr is one address assigned to a vif (spec §3.2 VifAddr).
type Addr struct {
	Addr      ipaddr.IPvX
	Subnet    ipaddr.IPvXNet
	Broadcast ipaddr.IPvX // zero if not applicable
	Peer      ipaddr.IPvX // zero unless point-to-point
}

// Flags mirrors the teacher's interface-flag bundle.
type Flags struct {
	IsPimRegister      bool
	IsP2P              bool
	IsLoopback         bool
	IsMulticastCapable bool
	IsBroadcastCapable bool
	IsUp               bool
	MTU                int
	PifIndex           int
}

// Vif is a virtual interface: name, index, flags, and its address list
// (spec §3.2).
type Vif struct {
	Name  string
	Index types.VifIndex
	Flags Flags
	Addrs []Addr

	state         State
	onStateChange []func(State)
}

// New constructs a disabled vif.
func New(name string, index types.VifIndex, flags Flags) *Vif {
	return &Vif{Name: name, Index: index, Flags: flags, state: StateDisabled}
}

// State returns the current lifecycle state.
func (v *Vif) State() State { return v.state }

// OnStateChange registers an observer invoked whenever the lifecycle state
// transitions. Replaces the teacher's virtual-method observer hooks with a
// plain callback list (spec §9).
func (v *Vif) OnStateChange(fn func(State)) {
	v.onStateChange = append(v.onStateChange, fn)
}

func (v *Vif) setState(s State) {
	v.state = s
	for _, fn := range v.onStateChange {
		fn(s)
	}
}

// Enable transitions Disabled -> Enabled. No-op if already enabled or
// beyond.
func (v *Vif) Enable() {
	if v.state == StateDisabled {
		v.setState(StateEnabled)
	}
}

// Disable transitions back to Disabled from any state, implicitly stopping
// first.
func (v *Vif) Disable() {
	if v.state == StateRunning || v.state == StateStarting {
		v.setState(StateStopping)
	}
	v.setState(StateDisabled)
}

// Start transitions Enabled -> Starting -> Running. Returns ErrNoPrimaryAddr
// if the vif requires a primary address (not PIM-Register, not loopback)
// and has none (spec §3.2 invariant).
func (v *Vif) Start() error {
	if v.state == StateRunning {
		return ErrAlreadyUp
	}
	if v.state != StateEnabled {
		return fmt.Errorf("vif %s: cannot start from state %s", v.Name, v.state)
	}
	if !v.Flags.IsPimRegister && !v.Flags.IsLoopback {
		if _, ok := v.PrimaryAddr(); !ok {
			return ErrNoPrimaryAddr
		}
	}
	v.setState(StateStarting)
	v.Flags.IsUp = true
	v.setState(StateRunning)
	return nil
}

// Stop transitions Running -> Stopping -> Enabled.
func (v *Vif) Stop() error {
	if v.state != StateRunning && v.state != StateStarting {
		return ErrNotUp
	}
	v.setState(StateStopping)
	v.Flags.IsUp = false
	v.setState(StateEnabled)
	return nil
}

// AddAddr appends an address, rejecting an exact duplicate (spec R1
// round-trip: add then delete must restore prior state).
func (v *Vif) AddAddr(a Addr) error {
	for _, existing := range v.Addrs {
		if existing.Addr.Equal(a.Addr) {
			return ErrAddrExists
		}
	}
	v.Addrs = append(v.Addrs, a)
	return nil
}

// DeleteAddr removes the address matching addr.
func (v *Vif) DeleteAddr(addr ipaddr.IPvX) error {
	for i, existing := range v.Addrs {
		if existing.Addr.Equal(addr) {
			v.Addrs = append(v.Addrs[:i], v.Addrs[i+1:]...)
			return nil
		}
	}
	return ErrAddrNotFound
}

// PrimaryAddr returns the vif's primary address: a link-local unicast
// address when one is configured, else the first non-multicast address in
// the list (spec §3.2).
func (v *Vif) PrimaryAddr() (ipaddr.IPvX, bool) {
	for _, a := range v.Addrs {
		if a.Addr.IsLinkLocalUnicast() {
			return a.Addr, true
		}
	}
	for _, a := range v.Addrs {
		if a.Addr.IsUnicast() {
			return a.Addr, true
		}
	}
	return ipaddr.IPvX{}, false
}

// DomainWideAddr returns a non-link-local, non-loopback unicast address
// suitable for advertising outside the local link (spec §3.2).
func (v *Vif) DomainWideAddr() (ipaddr.IPvX, bool) {
	for _, a := range v.Addrs {
		if a.Addr.IsUnicast() && !a.Addr.IsLinkLocalUnicast() && !a.Addr.IsLoopback() {
			return a.Addr, true
		}
	}
	return ipaddr.IPvX{}, false
}
