package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/flowgate/internal/core"
)

func TestRecordLastWriterWins(t *testing.T) {
	tbl := NewTable(0)
	mac := core.MustParseMAC("00:00:00:00:00:01")

	_, seen := tbl.Record(mac, 1)
	assert.False(t, seen)

	prev, seen := tbl.Record(mac, 4)
	assert.True(t, seen)
	assert.Equal(t, core.Port(1), prev)

	port, ok := tbl.Lookup(mac)
	assert.True(t, ok)
	assert.Equal(t, core.Port(4), port)
	assert.Equal(t, 1, tbl.Len())
}

func TestLookupUnknown(t *testing.T) {
	tbl := NewTable(8)
	_, ok := tbl.Lookup(core.MustParseMAC("00:00:00:00:00:99"))
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestRecordIsolatedPerAddress(t *testing.T) {
	tbl := NewTable(8)
	a := core.MustParseMAC("00:00:00:00:00:01")
	b := core.MustParseMAC("00:00:00:00:00:02")
	tbl.Record(a, 1)
	tbl.Record(b, 2)
	tbl.Record(a, 3)

	port, _ := tbl.Lookup(b)
	assert.Equal(t, core.Port(2), port)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	tbl := NewTable(2)
	a := core.MustParseMAC("00:00:00:00:00:01")
	b := core.MustParseMAC("00:00:00:00:00:02")
	c := core.MustParseMAC("00:00:00:00:00:03")

	tbl.Record(a, 1)
	tbl.Record(b, 2)
	// Touch a so b becomes the eviction candidate.
	tbl.Lookup(a)
	tbl.Record(c, 3)

	assert.Equal(t, 2, tbl.Len())
	_, ok := tbl.Lookup(b)
	assert.False(t, ok, "b should have been evicted")
	_, ok = tbl.Lookup(a)
	assert.True(t, ok)
	_, ok = tbl.Lookup(c)
	assert.True(t, ok)
}

func TestEvictionIsReported(t *testing.T) {
	type evicted struct {
		mac  core.MAC
		port core.Port
	}
	var got []evicted
	tbl := NewTableWithEvict(1, func(mac core.MAC, port core.Port) {
		got = append(got, evicted{mac, port})
	})
	a := core.MustParseMAC("00:00:00:00:00:01")
	b := core.MustParseMAC("00:00:00:00:00:02")

	tbl.Record(a, 1)
	tbl.Record(a, 3)
	assert.Empty(t, got, "moving a station is not an eviction")

	tbl.Record(b, 2)
	assert.Equal(t, []evicted{{a, 3}}, got)
}
