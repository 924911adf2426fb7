package wire

import "encoding/binary"

// BootstrapMessage is the Bootstrap message body (RFC 4601 §4.9.4): BSR
// identity plus zero or more group-to-RP-set entries, used by both a
// freshly elected BSR (full set) and forwarding routers (fragments).
type BootstrapMessage struct {
	FragmentTag uint16
	HashMaskLen uint8
	BSRPriority uint8
	BSRAddress  EncodedUnicastAddr
	Groups      []BootstrapGroup
}

// BootstrapGroup is one group prefix's candidate-RP set within a
// Bootstrap message.
type BootstrapGroup struct {
	Group        EncodedGroupAddr
	FragRPCount  uint8
	RPs          []BootstrapRP
}

// BootstrapRP is one RP entry within a BootstrapGroup.
type BootstrapRP struct {
	Address  EncodedUnicastAddr
	Holdtime uint16
	Priority uint8
}

func (m BootstrapMessage) bodyLen() int {
	n := 4 + m.BSRAddress.Len()
	for _, g := range m.Groups {
		n += g.Group.Len() + 4
		for _, rp := range g.RPs {
			n += rp.Address.Len() + 4
		}
	}
	return n
}

func (m BootstrapMessage) serializeInto(b []byte) int {
	binary.BigEndian.PutUint16(b[0:2], m.FragmentTag)
	b[2] = m.HashMaskLen
	b[3] = m.BSRPriority
	off := 4
	off += m.BSRAddress.serializeInto(b[off:])
	for _, g := range m.Groups {
		off += g.Group.serializeInto(b[off:])
		b[off] = byte(len(g.RPs))
		off++
		b[off] = g.FragRPCount
		off++
		binary.BigEndian.PutUint16(b[off:off+2], 0) // reserved
		off += 2
		for _, rp := range g.RPs {
			off += rp.Address.serializeInto(b[off:])
			binary.BigEndian.PutUint16(b[off:off+2], rp.Holdtime)
			off += 2
			b[off] = rp.Priority
			off++
			b[off] = 0 // reserved
			off++
		}
	}
	return off
}

func decodeBootstrapMessage(data []byte) (BootstrapMessage, error) {
	if len(data) < 4 {
		return BootstrapMessage{}, errShortAddr
	}
	m := BootstrapMessage{
		FragmentTag: binary.BigEndian.Uint16(data[0:2]),
		HashMaskLen: data[2],
		BSRPriority: data[3],
	}
	off := 4
	ua, n, err := decodeEncodedUnicastAddr(data[off:])
	if err != nil {
		return BootstrapMessage{}, err
	}
	m.BSRAddress = ua
	off += n

	for off < len(data) {
		ga, n, err := decodeEncodedGroupAddr(data[off:])
		if err != nil {
			return BootstrapMessage{}, err
		}
		off += n
		if off+4 > len(data) {
			return BootstrapMessage{}, errShortAddr
		}
		rpCount := int(data[off])
		fragRPCount := data[off+1]
		off += 4

		g := BootstrapGroup{Group: ga, FragRPCount: fragRPCount}
		for i := 0; i < rpCount; i++ {
			rpAddr, n, err := decodeEncodedUnicastAddr(data[off:])
			if err != nil {
				return BootstrapMessage{}, err
			}
			off += n
			if off+4 > len(data) {
				return BootstrapMessage{}, errShortAddr
			}
			holdtime := binary.BigEndian.Uint16(data[off : off+2])
			priority := data[off+2]
			off += 4
			g.RPs = append(g.RPs, BootstrapRP{Address: rpAddr, Holdtime: holdtime, Priority: priority})
		}
		m.Groups = append(m.Groups, g)
	}
	return m, nil
}
