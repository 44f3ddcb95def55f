package flowtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookInsertThenUpdate(t *testing.T) {
	var dumped []*Table
	pool := NewPool(2, 4, func(tb *Table) error {
		dumped = append(dumped, tb)
		return nil
	}, nil)

	key := Key{L4Protocol: 6, LocalIP: 1, RemoteIP: 2, LocalPort: 80, RemotePort: 1234}

	require.Equal(t, Inserted, pool.Hook(key, DirOutbound, 0x02, 100, 1000))
	require.Equal(t, Updated, pool.Hook(key, DirOutbound, 0x10, 200, 1001))

	tbl := pool.tables[pool.cur]
	var entry *Entry
	for i, e := range tbl.Entries() {
		if e.Key == key {
			entry = &tbl.Entries()[i]
		}
	}
	require.NotNil(t, entry, "flow entry not found")

	assert.Equal(t, uint32(2), entry.Data.Packets[DirOutbound])
	wantBytes := uint32(100+EthOverhead) + uint32(200+EthOverhead)
	assert.Equal(t, wantBytes, entry.Data.Bytes[DirOutbound])
	assert.Equal(t, uint16(0x12), entry.Data.Flags[DirOutbound])
	assert.Empty(t, dumped, "no dump should have happened yet")
}

func TestRotationDumpsOnTenSecondBoundary(t *testing.T) {
	var dumped []*Table
	pool := NewPool(2, 4, func(tb *Table) error {
		dumped = append(dumped, tb)
		return nil
	}, nil)

	key := Key{LocalIP: 1, RemoteIP: 2}
	pool.Hook(key, DirOutbound, 0, 10, 5)
	assert.Empty(t, dumped, "unexpected dump before rotation boundary")

	pool.Hook(key, DirOutbound, 0, 10, 10)
	assert.Len(t, dumped, 1, "expected a dump at the ten-second boundary")
}

func TestRotationDumpsWhenTooOld(t *testing.T) {
	var dumped []*Table
	pool := NewPool(2, 4, func(tb *Table) error {
		dumped = append(dumped, tb)
		return nil
	}, nil)

	key := Key{LocalIP: 1, RemoteIP: 2}
	pool.Hook(key, DirOutbound, 0, 10, 1)
	pool.Hook(key, DirOutbound, 0, 10, 12)
	assert.Len(t, dumped, 1, "expected dump once a table exceeds the rotation period")
}

func TestFlushDumpsAllDirtyTablesOnce(t *testing.T) {
	var dumped []int
	pool := NewPool(3, 4, func(tb *Table) error {
		dumped = append(dumped, tb.ID)
		return nil
	}, nil)

	pool.Hook(Key{LocalIP: 1, RemoteIP: 2}, DirOutbound, 0, 10, 1)
	pool.Flush()
	require.Equal(t, []int{0}, dumped, "expected exactly table 0 dumped once")

	dumped = nil
	pool.Flush()
	assert.Empty(t, dumped, "flush on a clean pool must be a no-op")
}

func TestCollisionFallsBackToProbing(t *testing.T) {
	pool := NewPool(1, 5, func(*Table) error { return nil }, nil)

	// All 33 keys share LocalIP, RemoteIP, LocalPort and RemotePort, so
	// they hash to the same slot and only differ by L4Protocol, which
	// the hash ignores. With 32 slots (bits=5), the quadratic probe
	// sequence visits every slot exactly once per full pass, so 32
	// distinct colliding keys exactly fill the table.
	base := Key{LocalIP: 1, RemoteIP: 100, LocalPort: 1, RemotePort: 2}
	for i := 0; i < 32; i++ {
		k := base
		k.L4Protocol = uint8(i + 1)
		require.Equal(t, Inserted, pool.Hook(k, DirOutbound, 0, 1, 1), "insert %d should have found a free slot", i)
	}

	overflow := base
	overflow.L4Protocol = 0
	require.Equal(t, Dropped, pool.Hook(overflow, DirOutbound, 0, 1, 1), "33rd colliding key must exhaust all 32 probes")

	tbl := pool.tables[pool.cur]
	assert.Equal(t, uint32(32), tbl.NFlows)
	assert.Equal(t, uint32(1), tbl.NFlowsMissed, "exactly one miss should be recorded for the 33rd key")
}
