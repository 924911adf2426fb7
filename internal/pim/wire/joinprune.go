package wire

import (
	"encoding/binary"

	"github.com/pim-sm/pimd/internal/ipaddr"
)

// JoinPruneMessage is the decoded Join/Prune body (RFC 4601 §4.9.5). The
// teacher's pim.go defines the Group/SourceAddress shapes referenced from
// server.go's constructJoinPruneMessage but never implements decode
// (decodePimJoinPruneMessage is a stub returning nil); this fills that gap
// with real encode and decode.
type JoinPruneMessage struct {
	UpstreamNeighbor ipaddr.IPvX
	Holdtime         uint16
	Groups           []JoinPruneGroup
}

// JoinPruneGroup is one multicast group's join/prune source lists.
type JoinPruneGroup struct {
	Group  EncodedGroupAddr
	Joins  []EncodedSourceAddr
	Prunes []EncodedSourceAddr
}

func (m JoinPruneMessage) bodyLen() int {
	n := EncodedUnicastAddr{Addr: m.UpstreamNeighbor}.Len() + 4 // +reserved(1)+numgroups(1)+holdtime(2)
	for _, g := range m.Groups {
		n += g.Group.Len() + 4 // +numjoined(2)+numpruned(2)
		for _, s := range g.Joins {
			n += s.Len()
		}
		for _, s := range g.Prunes {
			n += s.Len()
		}
	}
	return n
}

func (m JoinPruneMessage) serializeInto(b []byte) int {
	off := 0
	un := EncodedUnicastAddr{Addr: m.UpstreamNeighbor}
	off += un.serializeInto(b[off:])
	b[off] = 0 // reserved
	off++
	b[off] = byte(len(m.Groups))
	off++
	binary.BigEndian.PutUint16(b[off:off+2], m.Holdtime)
	off += 2
	for _, g := range m.Groups {
		off += g.Group.serializeInto(b[off:])
		binary.BigEndian.PutUint16(b[off:off+2], uint16(len(g.Joins)))
		off += 2
		binary.BigEndian.PutUint16(b[off:off+2], uint16(len(g.Prunes)))
		off += 2
		for _, s := range g.Joins {
			off += s.serializeInto(b[off:])
		}
		for _, s := range g.Prunes {
			off += s.serializeInto(b[off:])
		}
	}
	return off
}

func decodeJoinPruneMessage(data []byte) (JoinPruneMessage, error) {
	un, n, err := decodeEncodedUnicastAddr(data)
	if err != nil {
		return JoinPruneMessage{}, err
	}
	off := n
	if off+4 > len(data) {
		return JoinPruneMessage{}, errShortAddr
	}
	numGroups := int(data[off+1])
	holdtime := binary.BigEndian.Uint16(data[off+2 : off+4])
	off += 4

	m := JoinPruneMessage{UpstreamNeighbor: un.Addr, Holdtime: holdtime}
	for i := 0; i < numGroups; i++ {
		ga, n, err := decodeEncodedGroupAddr(data[off:])
		if err != nil {
			return JoinPruneMessage{}, err
		}
		off += n
		if off+4 > len(data) {
			return JoinPruneMessage{}, errShortAddr
		}
		numJoin := int(binary.BigEndian.Uint16(data[off : off+2]))
		numPrune := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4

		g := JoinPruneGroup{Group: ga}
		for j := 0; j < numJoin; j++ {
			sa, n, err := decodeEncodedSourceAddr(data[off:])
			if err != nil {
				return JoinPruneMessage{}, err
			}
			off += n
			g.Joins = append(g.Joins, sa)
		}
		for j := 0; j < numPrune; j++ {
			sa, n, err := decodeEncodedSourceAddr(data[off:])
			if err != nil {
				return JoinPruneMessage{}, err
			}
			off += n
			g.Prunes = append(g.Prunes, sa)
		}
		m.Groups = append(m.Groups, g)
	}
	return m, nil
}
