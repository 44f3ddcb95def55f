// Package localize assigns a canonical local/remote orientation and
// traffic direction to a flow key, using the domain IDs already
// written into it by the domain trie.
package localize

import "github.com/obsrvbl/pnaflowd/internal/flowtable"

// unknownDomain mirrors domaintrie.Unknown without importing
// domaintrie, since localize only cares about the sentinel value, not
// how it was produced.
const unknownDomain uint16 = 0xFFFF

// Localize decides which side of key is "local" and which direction
// the packet represents, swapping key in place when the remote side
// should be local. It reports ok=false when neither side could be
// placed in a known domain, meaning the flow should be dropped.
func Localize(key *flowtable.Key) (direction int, ok bool) {
	switch {
	case key.LocalDomain < key.RemoteDomain:
		return flowtable.DirOutbound, true

	case key.LocalDomain > key.RemoteDomain:
		swap(key)
		return flowtable.DirInbound, true

	default:
		if key.LocalDomain == unknownDomain {
			return 0, false
		}
		if key.LocalIP <= key.RemoteIP {
			return flowtable.DirOutbound, true
		}
		swap(key)
		return flowtable.DirInbound, true
	}
}

func swap(key *flowtable.Key) {
	key.LocalIP, key.RemoteIP = key.RemoteIP, key.LocalIP
	key.LocalPort, key.RemotePort = key.RemotePort, key.LocalPort
	key.LocalDomain, key.RemoteDomain = key.RemoteDomain, key.LocalDomain
}
