// Package scopezone implements the scope-zone table (spec §3.5): a
// longest-prefix-match table from group prefix to administratively scoped
// zone identifiers.
package scopezone

import (
	"sync"

	"github.com/gaissmai/bart"
	"github.com/pim-sm/pimd/internal/ipaddr"
)

// ZoneId identifies a PIM scope zone. The non-scoped global zone is
// represented by (ipaddr multicast base prefix, IsScopeZone=false).
type ZoneId struct {
	Prefix      ipaddr.IPvXNet
	IsScopeZone bool
}

// Table maps group prefixes to the zone that scopes them.
type Table struct {
	mu sync.RWMutex
	t  bart.Table[ZoneId]
}

// New returns an empty scope-zone table.
func New() *Table { return &Table{} }

// Add installs a scope boundary for the given group prefix.
func (t *Table) Add(zone ZoneId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t.Update(zone.Prefix.Prefix(), func(_ ZoneId, _ bool) ZoneId { return zone })
}

// Remove deletes the scope boundary for the exact prefix.
func (t *Table) Remove(prefix ipaddr.IPvXNet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.t.GetAndDelete(prefix.Prefix())
	return ok
}

// ZoneFor resolves the scope zone covering group via longest-prefix-match.
// Returns the global zone (IsScopeZone=false) if nothing more specific
// matches.
func (t *Table) ZoneFor(group ipaddr.IPvX, globalZone ZoneId) ZoneId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hostPfx, err := group.Addr().Prefix(group.BitLen())
	if err != nil {
		return globalZone
	}
	_, z, ok := t.t.LookupPrefixLPM(hostPfx)
	if !ok {
		return globalZone
	}
	return z
}

// IsOverlapping reports whether adding a new scope zone at prefix would
// overlap any existing scope zone — a configuration error per spec §7.3.
// A prefix overlaps an existing zone if it is covered by a less-specific
// zone (a supernet), contains a more-specific zone (a subnet), or exactly
// matches one already configured. The global zone (IsScopeZone=false)
// counts only on an exact match.
func (t *Table) IsOverlapping(prefix ipaddr.IPvXNet) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.t.LookupPrefix(prefix.Prefix()); ok {
		return true
	}
	for _, z := range t.t.Supernets(prefix.Prefix()) {
		if z.IsScopeZone {
			return true
		}
	}
	for _, z := range t.t.Subnets(prefix.Prefix()) {
		if z.IsScopeZone {
			return true
		}
	}
	return false
}
