package flowtable

import "sync"

// maxProbes bounds how many quadratic-probe slots Hook will try before
// giving up on an insert or update.
const maxProbes = 32

// Table is one fixed-size, open-addressed flow table. A Table is
// either clean (freshly dumped or never used) or dirty (holding live
// counters since FirstSec). The packet-processing goroutine holds mu
// for the entire time a Table is dirty; it is released only when the
// table is dumped and reset. See Pool.
type Table struct {
	ID   int
	Bits uint

	mu       sync.Mutex
	entries  []Entry
	dirty    bool
	firstSec uint32

	NFlows       uint32
	NFlowsMissed uint32
	Probes       [maxProbes]uint64
}

func newTable(id int, bits uint) *Table {
	return &Table{
		ID:      id,
		Bits:    bits,
		entries: make([]Entry, 1<<bits),
	}
}

// Dirty reports whether the table currently holds live, undumped
// counters.
func (t *Table) Dirty() bool {
	return t.dirty
}

// FirstSec returns the timestamp, in seconds, at which this table
// began accumulating its current batch of flows.
func (t *Table) FirstSec() uint32 {
	return t.firstSec
}

// Entries returns the table's backing slot slice. Callers dumping the
// table must not retain it past the dump: reset reuses the storage.
func (t *Table) Entries() []Entry {
	return t.entries
}

// reset clears the table back to its clean state. Callers must hold
// a state where no packet hook is concurrently touching the table.
func (t *Table) reset() {
	for i := range t.entries {
		t.entries[i] = Entry{}
	}
	t.dirty = false
	t.firstSec = 0
	t.NFlows = 0
	t.NFlowsMissed = 0
	for i := range t.Probes {
		t.Probes[i] = 0
	}
}

// hook inserts or updates the counters for key within this table using
// quadratic probing, as flowtable.Pool.Hook's inner step. It is not
// exported: callers always go through the Pool so rotation and locking
// stay centralized.
func (t *Table) hook(hash0 uint32, key Key, dir int, flags uint16, pktLen uint32, tsSec uint32) Result {
	mask := uint32(1)<<t.Bits - 1
	for i := uint32(0); i < maxProbes; i++ {
		idx := (hash0 + (i+i*i)/2) & mask
		t.Probes[i]++
		e := &t.entries[idx]

		if e.Key == key {
			e.Data.Bytes[dir] += pktLen + EthOverhead
			e.Data.Packets[dir]++
			e.Data.Flags[dir] |= flags
			e.Data.LastTstamp = tsSec
			return Updated
		}
		if e.Key == NullKey {
			e.Key = key
			e.Data.Bytes[dir] += pktLen + EthOverhead
			e.Data.Packets[dir]++
			e.Data.Flags[dir] |= flags
			e.Data.FirstTstamp = tsSec
			e.Data.LastTstamp = tsSec
			e.Data.FirstDir = uint8(dir)
			t.NFlows++
			return Inserted
		}
	}
	t.NFlowsMissed++
	return Dropped
}

// Result describes the outcome of a Hook call.
type Result int

const (
	// Inserted means a new flow entry was created.
	Inserted Result = iota
	// Updated means an existing flow entry's counters were bumped.
	Updated
	// Dropped means all probes in the current table were exhausted, or
	// no table could be locked.
	Dropped
)
