package wire

import "encoding/binary"

// CandRPAdvMessage is the Candidate-RP-Advertisement message body (RFC
// 4601 §4.9.5): a candidate RP announcing itself for a set of group
// prefixes directly to the elected BSR (unicast, not flooded).
type CandRPAdvMessage struct {
	Priority uint8
	Holdtime uint16
	RPAddress EncodedUnicastAddr
	Groups    []EncodedGroupAddr
}

func (m CandRPAdvMessage) bodyLen() int {
	n := 4 + m.RPAddress.Len()
	for _, g := range m.Groups {
		n += g.Len()
	}
	return n
}

func (m CandRPAdvMessage) serializeInto(b []byte) int {
	b[0] = byte(len(m.Groups))
	b[1] = m.Priority
	binary.BigEndian.PutUint16(b[2:4], m.Holdtime)
	off := 4
	off += m.RPAddress.serializeInto(b[off:])
	for _, g := range m.Groups {
		off += g.serializeInto(b[off:])
	}
	return off
}

func decodeCandRPAdvMessage(data []byte) (CandRPAdvMessage, error) {
	if len(data) < 4 {
		return CandRPAdvMessage{}, errShortAddr
	}
	prefixCount := int(data[0])
	m := CandRPAdvMessage{
		Priority: data[1],
		Holdtime: binary.BigEndian.Uint16(data[2:4]),
	}
	off := 4
	ua, n, err := decodeEncodedUnicastAddr(data[off:])
	if err != nil {
		return CandRPAdvMessage{}, err
	}
	m.RPAddress = ua
	off += n
	for i := 0; i < prefixCount; i++ {
		ga, n, err := decodeEncodedGroupAddr(data[off:])
		if err != nil {
			return CandRPAdvMessage{}, err
		}
		off += n
		m.Groups = append(m.Groups, ga)
	}
	return m, nil
}
