// Package rptable implements the RP Table (spec §2, §3.5, §4.8): a
// longest-prefix-match table from group prefix to the set of candidate RPs
// covering it, with RFC 4601 §4.8.1 hash-based tie-breaking for
// rp_for_group. It is backed by the same gaissmai/bart LPM trie as
// internal/mrib, since the original's RP-set lookup is also a
// prefix-keyed structure with no kernel counterpart to delegate to.
package rptable

import (
	"sort"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/pim-sm/pimd/internal/ipaddr"
)

// CandidateRP is one RP advertised (statically or via BSR) for a group
// prefix.
type CandidateRP struct {
	Address     ipaddr.IPvX
	Priority    uint8 // lower value is more preferred
	HashMaskLen uint8
	Holdtime    uint16
}

type prefixEntry struct {
	rps []CandidateRP
}

// Table maps group prefixes to their candidate RP sets.
type Table struct {
	mu sync.RWMutex
	t  bart.Table[prefixEntry]
}

// New returns an empty RP table.
func New() *Table {
	return &Table{}
}

// SetRPs replaces the candidate RP set for exactly this group prefix (used
// by both static RP configuration and BSR group-prefix fragments).
func (t *Table) SetRPs(groupPrefix ipaddr.IPvXNet, rps []CandidateRP) {
	sorted := append([]CandidateRP(nil), rps...)
	sort.Slice(sorted, func(i, j int) bool { return rpLess(sorted[i], sorted[j]) })
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t.Update(groupPrefix.Prefix(), func(_ prefixEntry, _ bool) prefixEntry {
		return prefixEntry{rps: sorted}
	})
}

// RemovePrefix deletes an entire group-prefix entry (e.g. on BSR prefix
// expiry or "delete_config_static_rp" for the last RP under that prefix).
func (t *Table) RemovePrefix(groupPrefix ipaddr.IPvXNet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.t.GetAndDelete(groupPrefix.Prefix())
	return ok
}

// RemoveRP removes a single RP address from whichever group prefix
// currently lists it (delete_config_static_rp / delete_config_cand_rp).
// Reports whether it was present.
func (t *Table) RemoveRP(groupPrefix ipaddr.IPvXNet, rp ipaddr.IPvX) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.t.LookupPrefix(groupPrefix.Prefix())
	if !ok {
		return false
	}
	out := e.rps[:0]
	removed := false
	for _, c := range e.rps {
		if c.Address.Equal(rp) {
			removed = true
			continue
		}
		out = append(out, c)
	}
	if removed {
		t.t.Update(groupPrefix.Prefix(), func(_ prefixEntry, _ bool) prefixEntry {
			return prefixEntry{rps: out}
		})
	}
	return removed
}

// CandidatesFor returns the RP set covering group (longest group-prefix
// match), or nil if no RP covers it.
func (t *Table) CandidatesFor(group ipaddr.IPvX) []CandidateRP {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hostPfx, err := group.Addr().Prefix(group.BitLen())
	if err != nil {
		return nil
	}
	_, e, ok := t.t.LookupPrefixLPM(hostPfx)
	if !ok {
		return nil
	}
	return e.rps
}

// RPForGroup resolves RP(G): the candidate RP with the highest RFC 4601
// §4.8.1 hash value for group among the set covering it, ties broken by
// lower numeric priority then higher address (spec §4.8, invariant I1).
func (t *Table) RPForGroup(group ipaddr.IPvX) (ipaddr.IPvX, bool) {
	cands := t.CandidatesFor(group)
	if len(cands) == 0 {
		return ipaddr.IPvX{}, false
	}
	best := cands[0]
	bestHash := hash(group, best.Address, best.HashMaskLen)
	for _, c := range cands[1:] {
		h := hash(group, c.Address, c.HashMaskLen)
		if h > bestHash || (h == bestHash && rpLess(c, best)) {
			best, bestHash = c, h
		}
	}
	return best.Address, true
}

// rpLess orders candidate RPs by the BSR tie-break: lower numeric priority
// wins, then higher address.
func rpLess(a, b CandidateRP) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return b.Address.Less(a.Address)
}

// hash computes the RFC 4601 §4.8.1 hash value used for RP selection:
//
//	Value(G,M,C) = (1103515245 * ((1103515245 * (G & M) + 12345) XOR C) + 12345) mod 2^31
//
// where M masks the group address to hashMaskLen high bits (all candidate
// RPs for a prefix share the zone's configured hash mask length) and C is
// the candidate RP's address. Only the low 32 bits of each address
// participate, matching every known PIM-SM implementation's IPv4 behavior;
// IPv6 groups fold their low 32 bits in the same way.
func hash(group, rp ipaddr.IPvX, hashMaskLen uint8) uint64 {
	gMasked := maskedLow32(group, hashMaskLen)
	c := low32(rp)
	const a, m, k = uint64(1103515245), uint64(1 << 31), uint64(12345)
	v := (a*gMasked + k) ^ c
	v = (a*v + k) % m
	return v
}

func low32(a ipaddr.IPvX) uint64 {
	b := a.Addr().AsSlice()
	var v uint64
	n := len(b)
	for i := n - 4; i < n; i++ {
		v <<= 8
		if i >= 0 {
			v |= uint64(b[i])
		}
	}
	return v
}

func maskedLow32(a ipaddr.IPvX, hashMaskLen uint8) uint64 {
	v := low32(a)
	if hashMaskLen >= 32 {
		return v
	}
	mask := uint64(0xFFFFFFFF) << (32 - hashMaskLen)
	return v & mask
}
