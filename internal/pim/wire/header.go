// Package wire implements the PIM-SM wire format (spec §6.1): the common
// header, encoded address formats, and the per-type message bodies (Hello,
// Join/Prune, Assert, Register, Register-Stop, Bootstrap,
// Candidate-RP-Advertisement). It continues the gopacket-based codec
// started in the teacher's internal/pim/pim.go, generalized from
// Hello-only decode to the full message set and given real Serialize
// counterparts for every type.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Version is the only PIM version this engine speaks on the wire.
const Version = 2

// MessageType is the low nibble of the first header byte (spec §6.1 table).
type MessageType uint8

const (
	TypeHello         MessageType = 0
	TypeRegister      MessageType = 1
	TypeRegisterStop  MessageType = 2
	TypeJoinPrune     MessageType = 3
	TypeBootstrap     MessageType = 4
	TypeAssert        MessageType = 5
	TypeGraft         MessageType = 6
	TypeGraftAck      MessageType = 7
	TypeCandRPAdv     MessageType = 8
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "Hello"
	case TypeRegister:
		return "Register"
	case TypeRegisterStop:
		return "Register-Stop"
	case TypeJoinPrune:
		return "Join/Prune"
	case TypeBootstrap:
		return "Bootstrap"
	case TypeAssert:
		return "Assert"
	case TypeGraft:
		return "Graft"
	case TypeGraftAck:
		return "Graft-Ack"
	case TypeCandRPAdv:
		return "Candidate-RP-Advertisement"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Header is the 4-byte PIM common header shared by every message type.
type Header struct {
	Version  uint8
	Type     MessageType
	Reserved uint8
	Checksum uint16
}

const headerLen = 4

func (h Header) serializeInto(b []byte) {
	b[0] = (h.Version << 4) | byte(h.Type&0x0F)
	b[1] = h.Reserved
	binary.BigEndian.PutUint16(b[2:4], h.Checksum)
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < headerLen {
		return Header{}, errors.New("wire: packet shorter than PIM header")
	}
	return Header{
		Version:  data[0] >> 4,
		Type:     MessageType(data[0] & 0x0F),
		Reserved: data[1],
		Checksum: binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// PIMLayerType registers the PIM protocol with gopacket so it can be
// decoded as part of an IP packet's layer chain, as the teacher's pim.go
// does for Hello/Join-Prune; Decode below is the control plane's own entry
// point and does not require a full gopacket.Packet.
var PIMLayerType = gopacket.RegisterLayerType(1666, gopacket.LayerTypeMetadata{
	Name:    "PIM",
	Decoder: gopacket.DecodeFunc(func(data []byte, p gopacket.PacketBuilder) error {
		msg, err := Decode(data)
		if err != nil {
			return err
		}
		p.AddLayer(rawLayer{contents: data, msg: msg})
		return nil
	}),
})

// rawLayer adapts a decoded Message to gopacket.Layer so PIMLayerType's
// decoder satisfies the gopacket.Decoder contract.
type rawLayer struct {
	layers.BaseLayer
	contents []byte
	msg      *Message
}

func (r rawLayer) LayerType() gopacket.LayerType { return PIMLayerType }
func (r rawLayer) LayerContents() []byte         { return r.contents }
func (r rawLayer) LayerPayload() []byte          { return nil }
