package wire

import (
	"errors"
	"net/netip"

	"github.com/pim-sm/pimd/internal/ipaddr"
)

// AddressFamily is the Encoded-Address "Addr Family" octet (RFC 4601 §4.9 /
// spec §6.1).
type AddressFamily uint8

const (
	AFIPv4 AddressFamily = 1
	AFIPv6 AddressFamily = 2
)

func familyOf(a ipaddr.IPvX) AddressFamily {
	if a.Is6() {
		return AFIPv6
	}
	return AFIPv4
}

func addrByteLen(f AddressFamily) int {
	if f == AFIPv6 {
		return 16
	}
	return 4
}

var errShortAddr = errors.New("wire: encoded address truncated")

// EncodedUnicastAddr is the Encoded-Unicast-Address format: Addr
// Family(1) + Encoding Type(1, always 0 - native) + address bytes.
type EncodedUnicastAddr struct {
	Addr ipaddr.IPvX
}

func (e EncodedUnicastAddr) Len() int { return 2 + addrByteLen(familyOf(e.Addr)) }

func (e EncodedUnicastAddr) serializeInto(b []byte) int {
	f := familyOf(e.Addr)
	b[0] = byte(f)
	b[1] = 0 // native encoding
	n := copy(b[2:], e.Addr.Addr().AsSlice())
	return 2 + n
}

func decodeEncodedUnicastAddr(data []byte) (EncodedUnicastAddr, int, error) {
	if len(data) < 2 {
		return EncodedUnicastAddr{}, 0, errShortAddr
	}
	f := AddressFamily(data[0])
	n := addrByteLen(f)
	if len(data) < 2+n {
		return EncodedUnicastAddr{}, 0, errShortAddr
	}
	addr := addrFromBytes(data[2 : 2+n])
	return EncodedUnicastAddr{Addr: addr}, 2 + n, nil
}

func addrFromBytes(b []byte) ipaddr.IPvX {
	if len(b) == 16 {
		a := netip.AddrFrom16([16]byte(b))
		return ipaddr.FromNetIP(a)
	}
	a := netip.AddrFrom4([4]byte(b))
	return ipaddr.FromNetIP(a)
}

// EncodedGroupAddr is the Encoded-Group-Address format: Addr Family(1) +
// Encoding Type(1) + flags(1, B/Z bits) + Mask Len(1) + group address.
type EncodedGroupAddr struct {
	Group       ipaddr.IPvXNet
	IsBidir     bool
	IsAdminZone bool // Z bit: admin-scoped zone boundary
}

func (e EncodedGroupAddr) Len() int { return 4 + addrByteLen(familyOf(e.Group.Addr())) }

func (e EncodedGroupAddr) serializeInto(b []byte) int {
	f := familyOf(e.Group.Addr())
	b[0] = byte(f)
	b[1] = 0
	var flags byte
	if e.IsBidir {
		flags |= 0x80
	}
	if e.IsAdminZone {
		flags |= 0x40
	}
	b[2] = flags
	b[3] = byte(e.Group.PrefixLen())
	n := copy(b[4:], e.Group.Addr().Addr().AsSlice())
	return 4 + n
}

func decodeEncodedGroupAddr(data []byte) (EncodedGroupAddr, int, error) {
	if len(data) < 4 {
		return EncodedGroupAddr{}, 0, errShortAddr
	}
	f := AddressFamily(data[0])
	flags := data[2]
	maskLen := int(data[3])
	n := addrByteLen(f)
	if len(data) < 4+n {
		return EncodedGroupAddr{}, 0, errShortAddr
	}
	addr := addrFromBytes(data[4 : 4+n])
	net, err := ipaddr.NewNet(addr, maskLen)
	if err != nil {
		return EncodedGroupAddr{}, 0, err
	}
	return EncodedGroupAddr{
		Group:       net,
		IsBidir:     flags&0x80 != 0,
		IsAdminZone: flags&0x40 != 0,
	}, 4 + n, nil
}

// SourceFlags are the Encoded-Source-Address flag bits (spec §6.1: S, W,
// R — Sparse, Wildcard, RPT).
type SourceFlags struct {
	Sparse   bool
	WildCard bool
	RPT      bool
}

func (f SourceFlags) byte() byte {
	var b byte
	if f.Sparse {
		b |= 0x04
	}
	if f.WildCard {
		b |= 0x02
	}
	if f.RPT {
		b |= 0x01
	}
	return b
}

func decodeSourceFlags(b byte) SourceFlags {
	return SourceFlags{
		Sparse:   b&0x04 != 0,
		WildCard: b&0x02 != 0,
		RPT:      b&0x01 != 0,
	}
}

// EncodedSourceAddr is the Encoded-Source-Address format: Addr Family(1) +
// Encoding Type(1) + flags(1) + Mask Len(1) + source address.
type EncodedSourceAddr struct {
	Source  ipaddr.IPvXNet
	Flags   SourceFlags
}

func (e EncodedSourceAddr) Len() int { return 4 + addrByteLen(familyOf(e.Source.Addr())) }

func (e EncodedSourceAddr) serializeInto(b []byte) int {
	f := familyOf(e.Source.Addr())
	b[0] = byte(f)
	b[1] = 0
	b[2] = e.Flags.byte()
	b[3] = byte(e.Source.PrefixLen())
	n := copy(b[4:], e.Source.Addr().Addr().AsSlice())
	return 4 + n
}

func decodeEncodedSourceAddr(data []byte) (EncodedSourceAddr, int, error) {
	if len(data) < 4 {
		return EncodedSourceAddr{}, 0, errShortAddr
	}
	f := AddressFamily(data[0])
	flags := decodeSourceFlags(data[2])
	maskLen := int(data[3])
	n := addrByteLen(f)
	if len(data) < 4+n {
		return EncodedSourceAddr{}, 0, errShortAddr
	}
	addr := addrFromBytes(data[4 : 4+n])
	net, err := ipaddr.NewNet(addr, maskLen)
	if err != nil {
		return EncodedSourceAddr{}, 0, err
	}
	return EncodedSourceAddr{Source: net, Flags: flags}, 4 + n, nil
}
