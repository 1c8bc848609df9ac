// Package learning implements the MAC to port table of a learning switch.
package learning

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"firestige.xyz/flowgate/internal/core"
)

// DefaultMaxEntries bounds the table when no size is configured.
const DefaultMaxEntries = 4096

// Table maps a link-layer address to the port it was last seen on. A MAC
// maps to at most one port and the last writer wins. When the table is full
// the least recently recorded or looked-up entry is evicted. Entries do not
// age, so a host that goes silent keeps its port until evicted.
//
// Table is owned by one controller instance and is not safe for concurrent
// use beyond what the underlying cache provides.
type Table struct {
	entries *lru.Cache[core.MAC, core.Port]
}

// NewTable returns an empty table holding at most maxEntries addresses.
// maxEntries <= 0 selects DefaultMaxEntries.
func NewTable(maxEntries int) *Table {
	return NewTableWithEvict(maxEntries, nil)
}

// NewTableWithEvict is NewTable with a callback run for every address the
// capacity bound forgets. onEvict may be nil.
func NewTableWithEvict(maxEntries int, onEvict func(mac core.MAC, port core.Port)) *Table {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c, err := lru.NewWithEvict[core.MAC, core.Port](maxEntries, onEvict)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &Table{entries: c}
}

// Record upserts mac -> port. It returns the previous port and whether the
// address had been seen before, so callers can report station moves.
func (t *Table) Record(mac core.MAC, port core.Port) (prev core.Port, seen bool) {
	prev, seen = t.entries.Peek(mac)
	t.entries.Add(mac, port)
	return prev, seen
}

// Lookup returns the port mac was last seen on.
func (t *Table) Lookup(mac core.MAC) (core.Port, bool) {
	return t.entries.Get(mac)
}

// Len returns the number of learned addresses.
func (t *Table) Len() int {
	return t.entries.Len()
}
