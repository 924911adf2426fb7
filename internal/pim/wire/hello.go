package wire

import (
	"encoding/binary"

	"github.com/pim-sm/pimd/internal/ipaddr"
)

// OptionType is the Hello option Type field, continuing the teacher's
// pim.go OptionType constants.
type OptionType uint16

const (
	OptionHoldtime       OptionType = 0x0001
	OptionLANPruneDelay  OptionType = 0x0002
	OptionDRPriority     OptionType = 0x0019
	OptionGenerationID   OptionType = 0x0020
	OptionStateRefresh   OptionType = 0x0021
	OptionAddressList    OptionType = 0x0024
)

// HelloMessage is the decoded form of every Hello option this engine
// understands; unrecognized option types are preserved in Unknown so they
// round-trip through Encode, and the node counts them in the vif's
// UnknownHelloOption stat (spec §6.1 edge case: unknown Hello options are
// ignored, not rejected).
type HelloMessage struct {
	Holdtime             uint16
	HasHoldtime          bool
	LANPruneDelay        uint16
	Overridden           uint16
	HasLANPruneDelay     bool
	TBit                 bool
	DRPriority           uint32
	HasDRPriority        bool
	GenerationID         uint32
	HasGenerationID      bool
	StateRefreshInterval uint8
	HasStateRefresh      bool
	SecondaryAddrs       []ipaddr.IPvX
	Unknown              []HelloOption
}

// HelloOption is a raw, type/length/value Hello option, used both to
// preserve unknown options and as the encode/decode unit for known ones.
type HelloOption struct {
	Type  OptionType
	Value []byte
}

func (o HelloOption) len() int { return 4 + len(o.Value) }

func serializeHelloOption(b []byte, opt HelloOption) int {
	binary.BigEndian.PutUint16(b[0:2], uint16(opt.Type))
	binary.BigEndian.PutUint16(b[2:4], uint16(len(opt.Value)))
	copy(b[4:], opt.Value)
	return opt.len()
}

func (h HelloMessage) options() []HelloOption {
	var opts []HelloOption
	if h.HasHoldtime {
		v := make([]byte, 2)
		binary.BigEndian.PutUint16(v, h.Holdtime)
		opts = append(opts, HelloOption{Type: OptionHoldtime, Value: v})
	}
	if h.HasLANPruneDelay {
		v := make([]byte, 4)
		tAndDelay := h.LANPruneDelay & 0x7FFF
		if h.TBit {
			tAndDelay |= 0x8000
		}
		binary.BigEndian.PutUint16(v[0:2], tAndDelay)
		binary.BigEndian.PutUint16(v[2:4], h.Overridden)
		opts = append(opts, HelloOption{Type: OptionLANPruneDelay, Value: v})
	}
	if h.HasDRPriority {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, h.DRPriority)
		opts = append(opts, HelloOption{Type: OptionDRPriority, Value: v})
	}
	if h.HasGenerationID {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, h.GenerationID)
		opts = append(opts, HelloOption{Type: OptionGenerationID, Value: v})
	}
	if h.HasStateRefresh {
		v := []byte{1, h.StateRefreshInterval, 0, 0}
		opts = append(opts, HelloOption{Type: OptionStateRefresh, Value: v})
	}
	if len(h.SecondaryAddrs) > 0 {
		var v []byte
		for _, a := range h.SecondaryAddrs {
			u := EncodedUnicastAddr{Addr: a}
			buf := make([]byte, u.Len())
			u.serializeInto(buf)
			v = append(v, buf...)
		}
		opts = append(opts, HelloOption{Type: OptionAddressList, Value: v})
	}
	return append(opts, h.Unknown...)
}

func (h HelloMessage) bodyLen() int {
	n := 0
	for _, o := range h.options() {
		n += o.len()
	}
	return n
}

func (h HelloMessage) serializeInto(b []byte) int {
	off := 0
	for _, o := range h.options() {
		off += serializeHelloOption(b[off:], o)
	}
	return off
}

func decodeHelloMessage(data []byte) (HelloMessage, error) {
	var h HelloMessage
	off := 0
	for off+4 <= len(data) {
		typ := OptionType(binary.BigEndian.Uint16(data[off : off+2]))
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+length > len(data) {
			return HelloMessage{}, errShortAddr
		}
		val := data[off : off+length]
		off += length
		switch typ {
		case OptionHoldtime:
			if len(val) >= 2 {
				h.Holdtime = binary.BigEndian.Uint16(val)
				h.HasHoldtime = true
			}
		case OptionLANPruneDelay:
			if len(val) >= 4 {
				tAndDelay := binary.BigEndian.Uint16(val[0:2])
				h.TBit = tAndDelay&0x8000 != 0
				h.LANPruneDelay = tAndDelay & 0x7FFF
				h.Overridden = binary.BigEndian.Uint16(val[2:4])
				h.HasLANPruneDelay = true
			}
		case OptionDRPriority:
			if len(val) >= 4 {
				h.DRPriority = binary.BigEndian.Uint32(val)
				h.HasDRPriority = true
			}
		case OptionGenerationID:
			if len(val) >= 4 {
				h.GenerationID = binary.BigEndian.Uint32(val)
				h.HasGenerationID = true
			}
		case OptionStateRefresh:
			if len(val) >= 2 {
				h.StateRefreshInterval = val[1]
				h.HasStateRefresh = true
			}
		case OptionAddressList:
			rest := val
			for len(rest) > 0 {
				ua, n, err := decodeEncodedUnicastAddr(rest)
				if err != nil {
					break
				}
				h.SecondaryAddrs = append(h.SecondaryAddrs, ua.Addr)
				rest = rest[n:]
			}
		default:
			h.Unknown = append(h.Unknown, HelloOption{Type: typ, Value: append([]byte(nil), val...)})
		}
	}
	return h, nil
}
