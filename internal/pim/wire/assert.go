package wire

import "encoding/binary"

// AssertMessage is the Assert message body (RFC 4601 §4.9.7): Group
// Address, Source Address, Metric Preference (top bit is the RPT-bit),
// Metric.
type AssertMessage struct {
	Group           EncodedGroupAddr
	Source          EncodedUnicastAddr
	RPTBit          bool
	MetricPref      uint32
	Metric          uint32
}

func (m AssertMessage) bodyLen() int { return m.Group.Len() + m.Source.Len() + 8 }

func (m AssertMessage) serializeInto(b []byte) int {
	off := m.Group.serializeInto(b)
	off += m.Source.serializeInto(b[off:])
	pref := m.MetricPref & 0x7FFFFFFF
	if m.RPTBit {
		pref |= 0x80000000
	}
	binary.BigEndian.PutUint32(b[off:off+4], pref)
	off += 4
	binary.BigEndian.PutUint32(b[off:off+4], m.Metric)
	off += 4
	return off
}

func decodeAssertMessage(data []byte) (AssertMessage, error) {
	ga, n, err := decodeEncodedGroupAddr(data)
	if err != nil {
		return AssertMessage{}, err
	}
	off := n
	ua, n, err := decodeEncodedUnicastAddr(data[off:])
	if err != nil {
		return AssertMessage{}, err
	}
	off += n
	if off+8 > len(data) {
		return AssertMessage{}, errShortAddr
	}
	pref := binary.BigEndian.Uint32(data[off : off+4])
	metric := binary.BigEndian.Uint32(data[off+4 : off+8])
	return AssertMessage{
		Group:      ga,
		Source:     ua,
		RPTBit:     pref&0x80000000 != 0,
		MetricPref: pref &^ 0x80000000,
		Metric:     metric,
	}, nil
}
