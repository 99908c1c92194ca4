// Package directory implements the codename-to-connector lookup the Host-subdomain routing
// strategy depends on (spec.md §4.3 strategy 2). Adapted from
// tunnelhostnamemapper.TunnelHostnameMapper's RWMutex-guarded map, generalized from
// hostname->OriginService to codename->(NodeId, host, port).
package directory

import (
	"sync"

	"github.com/datum-cloud/datum-connect/nodeid"
)

// Entry is what a codename resolves to: the device to reach and which local service on it.
type Entry struct {
	NodeID nodeid.NodeId
	Host   string
	Port   uint16
}

// Directory maps codenames to Entries. Populated by the out-of-scope control-plane CRUD layer
// (spec.md §1) via Add/Delete/Replace; consumed read-mostly by router.Router.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New builds an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[string]Entry)}
}

// Resolve implements router.Directory.
func (d *Directory) Resolve(codename string) (nodeid.NodeId, string, uint16, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[codename]
	if !ok {
		return nodeid.NodeId{}, "", 0, false
	}
	return e.NodeID, e.Host, e.Port, true
}

// Add inserts or replaces the mapping for codename.
func (d *Directory) Add(codename string, entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[codename] = entry
}

// Delete removes codename's mapping, reporting whether it had been present.
func (d *Directory) Delete(codename string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[codename]; !ok {
		return false
	}
	delete(d.entries, codename)
	return true
}

// Replace atomically swaps the entire table, as a full control-plane sync would after a
// reconciliation pass. Codenames absent from next are dropped; present ones are overwritten.
func (d *Directory) Replace(next map[string]Entry) {
	copied := make(map[string]Entry, len(next))
	for k, v := range next {
		copied[k] = v
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = copied
}

// Len reports how many codenames are currently mapped.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
