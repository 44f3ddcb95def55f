package tzspsource

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/capture"
)

func buildTZSPPacket(encap []byte) []byte {
	// version(1) type(1) protocol(2) tag-end(1) encap...
	pkt := []byte{1, 0, 0, 1}
	pkt = append(pkt, 1) // TagEnd
	pkt = append(pkt, encap...)
	return pkt
}

func TestSourceDeliversDecodedFrame(t *testing.T) {
	src := New(Config{ListenAddr: "127.0.0.1:0", BufferSize: 2048})

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan capture.Frame, 1)

	errCh := make(chan error, 1)
	ready := make(chan string, 1)

	go func() {
		addr, err := net.ResolveUDPAddr("udp", src.listenAddr)
		if err != nil {
			errCh <- err
			return
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			errCh <- err
			return
		}
		src.conn = conn
		ready <- conn.LocalAddr().String()
		errCh <- src.runLoop(ctx, func(f capture.Frame) { frames <- f })
	}()

	localAddr := <-ready

	encap := make([]byte, 20)
	for i := range encap {
		encap[i] = byte(i)
	}
	raw := buildTZSPPacket(encap)

	conn, err := net.Dial("udp", localAddr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case f := <-frames:
		if len(f.Data) != len(encap) {
			t.Fatalf("expected %d encapsulated bytes, got %d", len(encap), len(f.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	cancel()
	src.Stop()
}

func TestDecodeDropsEmptyEncapsulation(t *testing.T) {
	src := New(Config{})
	_, ok := src.decode([]byte{1, 0, 0, 1, 1}, "1.2.3.4:1000")
	if ok {
		t.Fatal("expected empty encapsulated packet to be dropped")
	}
}

func TestDecodeDropsMalformedTZSP(t *testing.T) {
	src := New(Config{})
	_, ok := src.decode([]byte{9, 0, 0}, "1.2.3.4:1000")
	if ok {
		t.Fatal("expected malformed TZSP header to be dropped")
	}
}
