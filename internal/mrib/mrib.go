// Package mrib implements the read-only (from the PIM core's perspective)
// unicast next-hop table used for RPF resolution (spec §2, §3.2). It is
// backed by github.com/gaissmai/bart's longest-prefix-match trie, the same
// data structure the pack's retrieved gaissmai/bart example implements,
// since none of the teacher's own kernel-facing packages need an in-memory
// LPM table (they delegate prefix lookups to the kernel via netlink).
package mrib

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/types"
)

// Entry is one MRIB route: a next-hop and the vif it is reached through.
type Entry struct {
	Prefix   ipaddr.IPvXNet
	NextHop  ipaddr.IPvX // zero if the destination is directly connected
	Vif      types.VifIndex
	Metric   uint32
	Protocol string // e.g. "static", "bgp", "connected" — informational only
}

// Table is the MRIB: a longest-prefix-match table from destination prefix
// to next-hop. The PIM core only reads it; something external (an IGP/BGP
// redistribution bridge, or static configuration) populates it.
type Table struct {
	mu sync.RWMutex
	t  bart.Table[Entry]
}

// New returns an empty MRIB table.
func New() *Table {
	return &Table{}
}

// Add inserts or replaces the route for prefix.
func (m *Table) Add(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.Update(e.Prefix.Prefix(), func(_ Entry, _ bool) Entry { return e })
}

// Remove deletes the route for the exact prefix, if present.
func (m *Table) Remove(prefix ipaddr.IPvXNet) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.t.GetAndDelete(prefix.Prefix())
	return ok
}

// Lookup returns the longest-prefix-match MRIB entry covering dst, the RPF
// resolution primitive every MRE consumer relies on (spec §3.4: MRIB_to_RP,
// MRIB_to_S).
func (m *Table) Lookup(dst ipaddr.IPvX) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, e, ok := m.t.LookupPrefixLPM(mustHostPrefix(dst.Addr()))
	return e, ok
}

// RPFNextHop returns the resolved next-hop toward dst: the MRIB entry's
// NextHop if it names one (the route is not directly connected), else dst
// itself (the destination is on a directly-attached subnet and is its own
// next hop).
func (m *Table) RPFNextHop(dst ipaddr.IPvX) (ipaddr.IPvX, types.VifIndex, bool) {
	e, ok := m.Lookup(dst)
	if !ok {
		return ipaddr.IPvX{}, types.InvalidVifIndex, false
	}
	if e.NextHop.Zero() {
		return dst, e.Vif, true
	}
	return e.NextHop, e.Vif, true
}

func mustHostPrefix(a netip.Addr) netip.Prefix {
	p, err := a.Prefix(a.BitLen())
	if err != nil {
		panic(err)
	}
	return p
}
