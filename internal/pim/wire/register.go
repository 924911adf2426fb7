package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/pim-sm/pimd/internal/ipaddr"
)

// RegisterMessage is the Register message body (RFC 4601 §4.9.2): a 4-byte
// flags word (Border bit, Null-Register bit, reserved) followed by the
// original multicast data packet verbatim.
type RegisterMessage struct {
	BorderBit       bool
	NullRegisterBit bool
	InnerPacket     []byte
}

// Checksum for Register messages per spec §6.1 covers only the 8-byte
// Register header (common header + flags word), never the encapsulated
// packet — the teacher's server.go does not send Register messages, so
// this follows the spec's explicit exception directly.
const RegisterChecksumLen = headerLen + 4

func (m RegisterMessage) bodyLen() int { return 4 + len(m.InnerPacket) }

func (m RegisterMessage) serializeInto(b []byte) int {
	var flags uint32
	if m.BorderBit {
		flags |= 0x80000000
	}
	if m.NullRegisterBit {
		flags |= 0x40000000
	}
	binary.BigEndian.PutUint32(b[0:4], flags)
	n := copy(b[4:], m.InnerPacket)
	return 4 + n
}

func decodeRegisterMessage(data []byte) (RegisterMessage, error) {
	if len(data) < 4 {
		return RegisterMessage{}, errShortAddr
	}
	flags := binary.BigEndian.Uint32(data[0:4])
	return RegisterMessage{
		BorderBit:       flags&0x80000000 != 0,
		NullRegisterBit: flags&0x40000000 != 0,
		InnerPacket:     append([]byte(nil), data[4:]...),
	}, nil
}

// RegisterStopMessage is the Register-Stop message body (RFC 4601
// §4.9.3): Group Address then Source Address (the RP signals the DR to
// stop encapsulating for this (S,G)).
type RegisterStopMessage struct {
	Group  EncodedGroupAddr
	Source EncodedUnicastAddr
}

func (m RegisterStopMessage) bodyLen() int { return m.Group.Len() + m.Source.Len() }

func (m RegisterStopMessage) serializeInto(b []byte) int {
	off := m.Group.serializeInto(b)
	off += m.Source.serializeInto(b[off:])
	return off
}

func decodeRegisterStopMessage(data []byte) (RegisterStopMessage, error) {
	ga, n, err := decodeEncodedGroupAddr(data)
	if err != nil {
		return RegisterStopMessage{}, err
	}
	off := n
	ua, _, err := decodeEncodedUnicastAddr(data[off:])
	if err != nil {
		return RegisterStopMessage{}, err
	}
	return RegisterStopMessage{Group: ga, Source: ua}, nil
}

// InnerPacketAddrs reads the source and destination addresses off the
// encapsulated IP packet carried by a Register message (spec §4.9
// NoCache/Register handling: the RP recovers (S,G) from the tunneled
// packet itself, not from the Register header). Returns ok=false for a
// Null-Register probe, which carries no payload.
func InnerPacketAddrs(pkt []byte) (src, dst ipaddr.IPvX, ok bool) {
	if len(pkt) == 0 {
		return ipaddr.IPvX{}, ipaddr.IPvX{}, false
	}
	switch pkt[0] >> 4 {
	case 4:
		var ip4 layers.IPv4
		if err := ip4.DecodeFromBytes(pkt, gopacket.NilDecodeFeedback); err != nil {
			return ipaddr.IPvX{}, ipaddr.IPvX{}, false
		}
		s, sok := netip.AddrFromSlice(ip4.SrcIP.To4())
		d, dok := netip.AddrFromSlice(ip4.DstIP.To4())
		if !sok || !dok {
			return ipaddr.IPvX{}, ipaddr.IPvX{}, false
		}
		return ipaddr.FromNetIP(s), ipaddr.FromNetIP(d), true
	case 6:
		var ip6 layers.IPv6
		if err := ip6.DecodeFromBytes(pkt, gopacket.NilDecodeFeedback); err != nil {
			return ipaddr.IPvX{}, ipaddr.IPvX{}, false
		}
		s, sok := netip.AddrFromSlice(ip6.SrcIP)
		d, dok := netip.AddrFromSlice(ip6.DstIP)
		if !sok || !dok {
			return ipaddr.IPvX{}, ipaddr.IPvX{}, false
		}
		return ipaddr.FromNetIP(s), ipaddr.FromNetIP(d), true
	default:
		return ipaddr.IPvX{}, ipaddr.IPvX{}, false
	}
}
