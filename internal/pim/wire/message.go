package wire

import (
	"errors"
	"fmt"
	"net/netip"
)

// Message is a decoded PIM message: the common header plus exactly one
// populated body field selected by Header.Type.
type Message struct {
	Header Header

	Hello        *HelloMessage
	Register     *RegisterMessage
	RegisterStop *RegisterStopMessage
	JoinPrune    *JoinPruneMessage
	Bootstrap    *BootstrapMessage
	Assert       *AssertMessage
	CandRPAdv    *CandRPAdvMessage
}

var (
	ErrBadChecksum   = errors.New("wire: checksum mismatch")
	ErrUnknownType   = errors.New("wire: unknown message type")
	ErrBadVersion    = errors.New("wire: unsupported PIM version")
)

// Decode parses a full PIM message (header + body) from data, verifying
// the IPv4 checksum. Use DecodeV6 for messages received over IPv6, whose
// checksum additionally covers a pseudo-header.
func Decode(data []byte) (*Message, error) {
	return decode(data, func(body []byte, hdr Header) bool {
		return verifyChecksumV4(data, hdr)
	})
}

// DecodeV6 is Decode for IPv6, folding the pseudo-header into the
// checksum verification per spec §6.1.
func DecodeV6(data []byte, src, dst netip.Addr) (*Message, error) {
	return decode(data, func(body []byte, hdr Header) bool {
		return verifyChecksumV6(data, hdr, src, dst)
	})
}

func verifyChecksumV4(data []byte, hdr Header) bool {
	checked := checksumRegion(data, hdr.Type)
	return Checksum(checked) == 0
}

func verifyChecksumV6(data []byte, hdr Header, src, dst netip.Addr) bool {
	checked := checksumRegion(data, hdr.Type)
	return ChecksumV6(checked, src, dst) == 0
}

// checksumRegion returns the slice of the message covered by the
// checksum: the whole message, except Register messages, which cover
// only the common header plus the 4-byte flags word (spec §6.1).
func checksumRegion(data []byte, t MessageType) []byte {
	if t == TypeRegister && len(data) >= RegisterChecksumLen {
		return data[:RegisterChecksumLen]
	}
	return data
}

func decode(data []byte, verify func(body []byte, hdr Header) bool) (*Message, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, hdr.Version)
	}
	if !verify(data, hdr) {
		return nil, ErrBadChecksum
	}
	body := data[headerLen:]
	m := &Message{Header: hdr}
	switch hdr.Type {
	case TypeHello:
		h, err := decodeHelloMessage(body)
		if err != nil {
			return nil, err
		}
		m.Hello = &h
	case TypeRegister:
		r, err := decodeRegisterMessage(body)
		if err != nil {
			return nil, err
		}
		m.Register = &r
	case TypeRegisterStop:
		r, err := decodeRegisterStopMessage(body)
		if err != nil {
			return nil, err
		}
		m.RegisterStop = &r
	case TypeJoinPrune:
		jp, err := decodeJoinPruneMessage(body)
		if err != nil {
			return nil, err
		}
		m.JoinPrune = &jp
	case TypeBootstrap:
		bsm, err := decodeBootstrapMessage(body)
		if err != nil {
			return nil, err
		}
		m.Bootstrap = &bsm
	case TypeAssert:
		a, err := decodeAssertMessage(body)
		if err != nil {
			return nil, err
		}
		m.Assert = &a
	case TypeCandRPAdv:
		c, err := decodeCandRPAdvMessage(body)
		if err != nil {
			return nil, err
		}
		m.CandRPAdv = &c
	case TypeGraft, TypeGraftAck:
		// Graft/Graft-Ack carry a Join/Prune-shaped body restricted to a
		// single (S,G) join (RFC 4601 §4.9.6); dense-mode only, spec
		// Non-goals exclude dense-mode forwarding but the engine still
		// parses these to avoid dropping the TCP-like Graft-Ack
		// handshake silently when a neighbor mistakenly sends one.
		jp, err := decodeJoinPruneMessage(body)
		if err != nil {
			return nil, err
		}
		m.JoinPrune = &jp
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, hdr.Type)
	}
	return m, nil
}

func (m *Message) bodyLen() int {
	switch {
	case m.Hello != nil:
		return m.Hello.bodyLen()
	case m.Register != nil:
		return m.Register.bodyLen()
	case m.RegisterStop != nil:
		return m.RegisterStop.bodyLen()
	case m.JoinPrune != nil:
		return m.JoinPrune.bodyLen()
	case m.Bootstrap != nil:
		return m.Bootstrap.bodyLen()
	case m.Assert != nil:
		return m.Assert.bodyLen()
	case m.CandRPAdv != nil:
		return m.CandRPAdv.bodyLen()
	default:
		return 0
	}
}

func (m *Message) serializeBody(b []byte) int {
	switch {
	case m.Hello != nil:
		return m.Hello.serializeInto(b)
	case m.Register != nil:
		return m.Register.serializeInto(b)
	case m.RegisterStop != nil:
		return m.RegisterStop.serializeInto(b)
	case m.JoinPrune != nil:
		return m.JoinPrune.serializeInto(b)
	case m.Bootstrap != nil:
		return m.Bootstrap.serializeInto(b)
	case m.Assert != nil:
		return m.Assert.serializeInto(b)
	case m.CandRPAdv != nil:
		return m.CandRPAdv.serializeInto(b)
	default:
		return 0
	}
}

// Serialize renders m to wire bytes with the header's checksum computed
// for an IPv4 carrier (no pseudo-header).
func (m *Message) Serialize() []byte {
	return m.serialize(func(region []byte) uint16 { return Checksum(region) })
}

// SerializeV6 renders m to wire bytes with the checksum computed over an
// IPv6 pseudo-header, per spec §6.1.
func (m *Message) SerializeV6(src, dst netip.Addr) []byte {
	return m.serialize(func(region []byte) uint16 { return ChecksumV6(region, src, dst) })
}

func (m *Message) serialize(checksum func([]byte) uint16) []byte {
	total := headerLen + m.bodyLen()
	b := make([]byte, total)
	m.Header.serializeInto(b)
	m.serializeBody(b[headerLen:])
	b[2], b[3] = 0, 0
	region := checksumRegion(b, m.Header.Type)
	cs := checksum(region)
	b[2] = byte(cs >> 8)
	b[3] = byte(cs)
	return b
}
