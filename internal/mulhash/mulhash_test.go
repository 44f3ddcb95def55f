package mulhash

import "testing"

func TestHash32Bounded(t *testing.T) {
	for bits := uint(1); bits <= 24; bits++ {
		max := uint32(1)<<bits - 1
		for _, v := range []uint32{0, 1, 0xdeadbeef, 0xffffffff, 12345} {
			h := Hash32(v, bits)
			if h > max {
				t.Fatalf("Hash32(%#x, %d) = %#x exceeds %d-bit range", v, bits, h, bits)
			}
		}
	}
}

func TestHash32Deterministic(t *testing.T) {
	if Hash32(0xdeadbeef, 20) != Hash32(0xdeadbeef, 20) {
		t.Fatal("hash is not deterministic")
	}
}

func TestHash32ZeroBits(t *testing.T) {
	if Hash32(12345, 0) != 0 {
		t.Fatal("0-bit hash must be 0")
	}
}
