package flowtable

import "github.com/obsrvbl/pnaflowd/internal/mulhash"

// rotationPeriod is how often, in seconds, a dirty table becomes
// eligible for rotation once packet timestamps cross a multiple of it.
const rotationPeriod = 10

// DumpFunc persists a dirty table's contents. It is called synchronously
// from Hook (on rotation) and from Flush while the dumped table's lock
// is held; the lock is released after the table is reset.
// Implementations must not retain the passed Table's Entries slice.
type DumpFunc func(*Table) error

// lockMissWarnEvery bounds how often Pool.Hook logs about a run of
// failed-to-lock-any-table misses, mirroring the original project's
// "don't flood the log" throttling for a condition that is expected to
// be rare and transient.
const lockMissWarnEvery = 1000

// warner is satisfied by *logger.Logger.
type warner interface {
	Warn(msg string, fields ...interface{})
}

type nopWarner struct{}

func (nopWarner) Warn(string, ...interface{}) {}

// Pool is a round-robin set of Tables. Exactly one table is "current"
// at a time; Hook rotates to the next table (dumping the one being
// left behind) once it has been dirty long enough.
type Pool struct {
	tables  []*Table
	cur     int
	dumpFn  DumpFunc
	log     warner
	misses  uint64
	bits    uint
	tblCnt  int
}

// NewPool creates a pool of n tables, each with 2^bits slots. dump is
// invoked whenever a dirty table rotates out.
func NewPool(n int, bits uint, dump DumpFunc, log warner) *Pool {
	if log == nil {
		log = nopWarner{}
	}
	tables := make([]*Table, n)
	for i := range tables {
		tables[i] = newTable(i, bits)
	}
	return &Pool{tables: tables, dumpFn: dump, log: log, bits: bits, tblCnt: n}
}

// Tables returns the pool's tables, for inspection (e.g. shutdown flush).
func (p *Pool) Tables() []*Table {
	return p.tables
}

// current returns the table packets should currently be hooked into,
// rotating and dumping as needed. It returns (nil, false) if every
// table in the pool is currently locked by something else.
func (p *Pool) current(tsSec uint32) (*Table, bool) {
	t := p.tables[p.cur]

	tenBound := tsSec%rotationPeriod == 0 && tsSec != t.firstSec
	tooOld := t.dirty && tsSec >= t.firstSec+rotationPeriod

	if t.dirty && (tenBound || tooOld) {
		if err := p.dumpFn(t); err != nil {
			p.log.Warn("flowtable: dump failed", "table", t.ID, "error", err)
		}
		t.reset()
		t.mu.Unlock()
		p.cur = (p.cur + 1) % len(p.tables)
		t = p.tables[p.cur]
	} else if t.dirty {
		return t, true
	}

	tried := 0
	for !t.mu.TryLock() {
		tried++
		if tried >= len(p.tables) {
			p.misses++
			if p.misses%lockMissWarnEvery == 0 {
				p.log.Warn("flowtable: could not lock any table", "misses", p.misses)
			}
			return nil, false
		}
		p.cur = (p.cur + 1) % len(p.tables)
		t = p.tables[p.cur]
	}

	if !t.dirty {
		t.firstSec = tsSec
		t.dirty = true
	}
	return t, true
}

// Hook accumulates one packet's contribution to key's flow. pktLen is
// the packet's IP-layer length; EthOverhead is added internally.
func (p *Pool) Hook(key Key, dir int, flags uint16, pktLen uint32, tsSec uint32) Result {
	t, ok := p.current(tsSec)
	if !ok {
		return Dropped
	}
	hash0 := mulhash.Hash32((key.LocalIP^key.RemoteIP)^(uint32(key.RemotePort)<<16|uint32(key.LocalPort)), t.Bits)
	return t.hook(hash0, key, dir, flags, pktLen, tsSec)
}

// Flush dumps and resets every dirty table in the pool, in reverse
// table-id order, mirroring the original's shutdown-time cleanup walk.
// It is idempotent: calling Flush on an already-clean pool is a no-op.
func (p *Pool) Flush() {
	for i := len(p.tables) - 1; i >= 0; i-- {
		t := p.tables[i]
		// A dirty table's mutex is already held by the writer (see
		// current), so it is dumped under that lock and then released.
		if !t.dirty {
			continue
		}
		if err := p.dumpFn(t); err != nil {
			p.log.Warn("flowtable: flush dump failed", "table", t.ID, "error", err)
		}
		t.reset()
		t.mu.Unlock()
	}
}
