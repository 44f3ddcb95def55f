// Package fragcache remembers the transport-layer ports carried by the
// first fragment of a fragmented IPv4 datagram so that later fragments
// of the same datagram, which no longer carry a transport header, can
// still be attributed to the right flow.
package fragcache

import "github.com/obsrvbl/pnaflowd/internal/mulhash"

// entries is the size of the fixed ring. It is not configurable: the
// original project hard-codes it, and the accounting core's callers
// never needed more headroom than it provides.
const entries = 512

type slot struct {
	valid       bool
	fingerprint uint64
	localPort   uint16
	remotePort  uint16
}

// Cache is a fixed-size round-robin ring of fragment port mappings. It
// is not safe for concurrent use; it is owned by a single decoder
// instance on the packet-processing goroutine.
type Cache struct {
	slots [entries]slot
	next  int
}

// New returns an empty fragment cache.
func New() *Cache {
	return &Cache{}
}

// Fingerprint computes the fragment fingerprint for a datagram
// identified by its source address, destination address, protocol
// number and IP identification field. All inputs are taken verbatim
// from the decoded IPv4 header; byte order does not matter since the
// result is only ever compared against itself.
func Fingerprint(srcIP, dstIP uint32, protocol uint8, id uint16) uint64 {
	h := mulhash.Hash32(srcIP, 32) ^ mulhash.Hash32(dstIP, 32)
	h ^= mulhash.Hash32(uint32(protocol), 16) << 16
	h ^= mulhash.Hash32(uint32(id), 16)
	return uint64(h)
}

// Lookup returns the ports recorded for fingerprint, if any.
func (c *Cache) Lookup(fingerprint uint64) (localPort, remotePort uint16, ok bool) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.fingerprint == fingerprint {
			return s.localPort, s.remotePort, true
		}
	}
	return 0, 0, false
}

// Insert records the ports for fingerprint if it is not already
// present. Existing entries are never updated; eviction is strictly
// round-robin regardless of hit pattern, matching the original ring.
func (c *Cache) Insert(fingerprint uint64, localPort, remotePort uint16) {
	if _, _, ok := c.Lookup(fingerprint); ok {
		return
	}
	c.slots[c.next] = slot{
		valid:       true,
		fingerprint: fingerprint,
		localPort:   localPort,
		remotePort:  remotePort,
	}
	c.next = (c.next + 1) % entries
}
