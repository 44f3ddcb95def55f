package localize

import (
	"testing"

	"github.com/obsrvbl/pnaflowd/internal/flowtable"
)

func TestLowerDomainIsLocalOutbound(t *testing.T) {
	key := flowtable.Key{LocalIP: 10, RemoteIP: 20, LocalDomain: 1, RemoteDomain: 5}
	dir, ok := Localize(&key)
	if !ok || dir != flowtable.DirOutbound {
		t.Fatalf("got (%d,%v), want (Outbound,true)", dir, ok)
	}
	if key.LocalIP != 10 || key.RemoteIP != 20 {
		t.Fatal("key should not have been swapped")
	}
}

func TestHigherDomainSwapsToInbound(t *testing.T) {
	key := flowtable.Key{LocalIP: 10, RemoteIP: 20, LocalDomain: 5, RemoteDomain: 1}
	dir, ok := Localize(&key)
	if !ok || dir != flowtable.DirInbound {
		t.Fatalf("got (%d,%v), want (Inbound,true)", dir, ok)
	}
	if key.LocalIP != 20 || key.RemoteIP != 10 {
		t.Fatal("key should have been swapped so the lower-domain side is local")
	}
}

func TestSameDomainBothUnknownDrops(t *testing.T) {
	key := flowtable.Key{LocalDomain: 0xFFFF, RemoteDomain: 0xFFFF}
	_, ok := Localize(&key)
	if ok {
		t.Fatal("expected drop when both sides are in the unknown domain")
	}
}

func TestSameKnownDomainBreaksTieByIP(t *testing.T) {
	key := flowtable.Key{LocalIP: 30, RemoteIP: 10, LocalDomain: 2, RemoteDomain: 2}
	dir, ok := Localize(&key)
	if !ok || dir != flowtable.DirInbound {
		t.Fatalf("got (%d,%v), want (Inbound,true)", dir, ok)
	}
	if key.LocalIP != 10 {
		t.Fatal("lower IP should have become local")
	}
}
