// Package engine wires the decode, localize and flow-accounting steps
// together into the single entry point the capture layer calls for
// every frame, and owns the idempotent shutdown sequence that flushes
// whatever is still accumulated when the process stops.
package engine

import (
	"sync"

	"github.com/obsrvbl/pnaflowd/internal/capture"
	"github.com/obsrvbl/pnaflowd/internal/decoder"
	"github.com/obsrvbl/pnaflowd/internal/domaintrie"
	"github.com/obsrvbl/pnaflowd/internal/flowtable"
	"github.com/obsrvbl/pnaflowd/internal/localize"
	"github.com/obsrvbl/pnaflowd/internal/rtmon"
)

// Stats are running counters exposed for periodic reporting; they are
// not used by any accounting decision.
type Stats struct {
	Received uint64
	Accepted uint64
	Dropped  uint64
}

// Engine is the accounting core. A single Engine must only ever be fed
// from one goroutine via Process; Pool, Decoder and Trie are not
// otherwise safe for concurrent packet processing.
type Engine struct {
	trie    *domaintrie.Trie
	decoder *decoder.Decoder
	pool    *flowtable.Pool
	monitor *rtmon.Registry

	mu       sync.Mutex
	stats    Stats
	shutdown bool
}

// New builds an Engine from its already-constructed collaborators.
func New(trie *domaintrie.Trie, pool *flowtable.Pool, monitor *rtmon.Registry) *Engine {
	if monitor == nil {
		monitor = rtmon.New()
	}
	return &Engine{
		trie:    trie,
		decoder: decoder.New(),
		pool:    pool,
		monitor: monitor,
	}
}

// Process decodes, localizes and accounts for one frame. It must only
// be called from the single packet-processing goroutine. Stats may be
// called concurrently from any goroutine; Shutdown flushes the pool's
// tables without synchronizing with Process, so it must not overlap a
// Process call.
func (e *Engine) Process(frame capture.Frame) {
	e.addReceived()

	res, ok := e.decoder.Decode(frame.Data)
	if !ok {
		e.addDropped()
		return
	}

	res.Key.LocalDomain = e.trie.Lookup(res.Key.LocalIP)
	res.Key.RemoteDomain = e.trie.Lookup(res.Key.RemoteIP)

	dir, ok := localize.Localize(&res.Key)
	if !ok {
		e.addDropped()
		return
	}

	tsSec := uint32(frame.Timestamp.Unix())
	outcome := e.pool.Hook(res.Key, dir, res.Flags, frame.IPFrameLen, tsSec)
	if outcome == flowtable.Dropped {
		e.addDropped()
		return
	}

	e.addAccepted()
	e.monitor.Hook(res.Key, dir, frame.IPFrameLen, frame.Timestamp)
}

// Shutdown flushes every table still holding live counters. It is
// idempotent: calling it more than once only flushes once.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.mu.Unlock()

	e.pool.Flush()
	e.monitor.Release()
}

// Stats returns a snapshot of the running counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) addReceived() {
	e.mu.Lock()
	e.stats.Received++
	e.mu.Unlock()
}

func (e *Engine) addAccepted() {
	e.mu.Lock()
	e.stats.Accepted++
	e.mu.Unlock()
}

func (e *Engine) addDropped() {
	e.mu.Lock()
	e.stats.Dropped++
	e.mu.Unlock()
}
