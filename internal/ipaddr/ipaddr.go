// Package ipaddr implements the family-agnostic address types (IPvX and
// IPvXNet) used throughout the PIM-SM control plane.
package ipaddr

import (
	"fmt"
	"net/netip"
)

// IPvX is an address that is either IPv4 (32-bit) or IPv6 (128-bit). It
// wraps netip.Addr and adds the classification helpers the PIM engine needs
// (unicast/multicast/link-local, bit length, prefix matching).
type IPvX struct {
	addr netip.Addr
}

// Zero reports whether the address has never been set (the PIM "source is
// (*,G)" sentinel).
func (a IPvX) Zero() bool { return !a.addr.IsValid() }

// FromNetIP builds an IPvX from a netip.Addr, unmapping IPv4-in-IPv6 forms.
func FromNetIP(a netip.Addr) IPvX {
	return IPvX{addr: a.Unmap()}
}

// Parse parses a textual IPv4 or IPv6 address.
func Parse(s string) (IPvX, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return IPvX{}, fmt.Errorf("ipaddr: parse %q: %w", s, err)
	}
	return FromNetIP(a), nil
}

// MustParse is Parse that panics on error; reserved for test fixtures and
// compile-time constants.
func MustParse(s string) IPvX {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Addr exposes the underlying netip.Addr for interop with net/netip-based
// APIs (sockets, bart tables).
func (a IPvX) Addr() netip.Addr { return a.addr }

// Is4 reports whether this is an IPv4 address.
func (a IPvX) Is4() bool { return a.addr.Is4() }

// Is6 reports whether this is an IPv6 address.
func (a IPvX) Is6() bool { return a.addr.Is6() }

// BitLen returns 32 for IPv4 and 128 for IPv6.
func (a IPvX) BitLen() int { return a.addr.BitLen() }

// IsMulticast reports whether the address is in the multicast range for its
// family (224.0.0.0/4 for IPv4, ff00::/8 for IPv6).
func (a IPvX) IsMulticast() bool { return a.addr.IsMulticast() }

// IsUnicast reports whether the address is usable as a PIM unicast
// source/RP/neighbor address: not multicast, not unspecified.
func (a IPvX) IsUnicast() bool {
	return a.addr.IsValid() && !a.addr.IsMulticast() && !a.addr.IsUnspecified()
}

// IsLinkLocalUnicast reports whether the address is link-local unicast.
func (a IPvX) IsLinkLocalUnicast() bool { return a.addr.IsLinkLocalUnicast() }

// IsLoopback reports whether the address is a loopback address.
func (a IPvX) IsLoopback() bool { return a.addr.IsLoopback() }

// Less orders addresses for deterministic tie-breaking (DR election, Assert
// winner comparison, BSR comparison all compare "higher address wins").
func (a IPvX) Less(b IPvX) bool { return a.addr.Less(b.addr) }

// Equal reports address equality.
func (a IPvX) Equal(b IPvX) bool { return a.addr == b.addr }

// String renders the address in its canonical textual form, or "<nil>" for
// the zero value.
func (a IPvX) String() string {
	if !a.addr.IsValid() {
		return "<nil>"
	}
	return a.addr.String()
}

// PrefixMatch reports whether a shares the given address's first
// prefixLen bits, i.e. whether a is covered by IPvXNet{addr, prefixLen}.
func (a IPvX) PrefixMatch(other IPvX, prefixLen int) bool {
	if a.addr.BitLen() != other.addr.BitLen() {
		return false
	}
	p, err := other.addr.Prefix(prefixLen)
	if err != nil {
		return false
	}
	return p.Contains(a.addr)
}

// IPvXNet is (IPvX, prefix length).
type IPvXNet struct {
	prefix netip.Prefix
}

// NewNet builds an IPvXNet, masking addr to prefixLen bits.
func NewNet(addr IPvX, prefixLen int) (IPvXNet, error) {
	p, err := addr.addr.Prefix(prefixLen)
	if err != nil {
		return IPvXNet{}, fmt.Errorf("ipaddr: new net %s/%d: %w", addr, prefixLen, err)
	}
	return IPvXNet{prefix: p}, nil
}

// ParseNet parses a "addr/len" CIDR string.
func ParseNet(s string) (IPvXNet, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return IPvXNet{}, fmt.Errorf("ipaddr: parse net %q: %w", s, err)
	}
	return IPvXNet{prefix: p.Masked()}, nil
}

// MustParseNet is ParseNet that panics on error.
func MustParseNet(s string) IPvXNet {
	n, err := ParseNet(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Addr returns the network (masked base) address.
func (n IPvXNet) Addr() IPvX { return IPvX{addr: n.prefix.Addr()} }

// PrefixLen returns the prefix length in bits.
func (n IPvXNet) PrefixLen() int { return n.prefix.Bits() }

// Prefix exposes the underlying netip.Prefix.
func (n IPvXNet) Prefix() netip.Prefix { return n.prefix }

// Contains reports whether addr falls within this network.
func (n IPvXNet) Contains(addr IPvX) bool { return n.prefix.Contains(addr.addr) }

// IsOverlap reports whether two networks share any address, in either
// direction of containment.
func (n IPvXNet) IsOverlap(other IPvXNet) bool {
	return n.prefix.Overlaps(other.prefix)
}

// Equal reports whether two networks have the same base address and
// prefix length.
func (n IPvXNet) Equal(other IPvXNet) bool { return n.prefix == other.prefix }

func (n IPvXNet) String() string {
	if !n.prefix.IsValid() {
		return "<nil>"
	}
	return n.prefix.String()
}

// Zero reports whether this net was never initialized.
func (n IPvXNet) Zero() bool { return !n.prefix.IsValid() }

// MarshalText renders the address in its canonical textual form (the
// zero value marshals to an empty string), letting IPvX participate in
// encoding/json and flag parsing via encoding.TextMarshaler.
func (a IPvX) MarshalText() ([]byte, error) {
	if !a.addr.IsValid() {
		return nil, nil
	}
	return a.addr.MarshalText()
}

// UnmarshalText parses text into the address; an empty string yields the
// zero value (the PIM "source is (*,G)" sentinel).
func (a *IPvX) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = IPvX{}
		return nil
	}
	var addr netip.Addr
	if err := addr.UnmarshalText(text); err != nil {
		return fmt.Errorf("ipaddr: unmarshal %q: %w", text, err)
	}
	*a = FromNetIP(addr)
	return nil
}

// MarshalText renders the network in "addr/len" form.
func (n IPvXNet) MarshalText() ([]byte, error) {
	if !n.prefix.IsValid() {
		return nil, nil
	}
	return n.prefix.MarshalText()
}

// UnmarshalText parses an "addr/len" CIDR string.
func (n *IPvXNet) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = IPvXNet{}
		return nil
	}
	var p netip.Prefix
	if err := p.UnmarshalText(text); err != nil {
		return fmt.Errorf("ipaddr: unmarshal net %q: %w", text, err)
	}
	*n = IPvXNet{prefix: p}
	return nil
}
