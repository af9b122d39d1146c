package bitio

import "testing"

// TestRoundTrip verifies spec.md §8 property 4: reading the bit-packed
// stream with the entry's bit width recovers the exact values inserted.
func TestRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf, 0)

	values := []struct {
		v     uint64
		nBits int
	}{
		{0x1F2F3F4F5, 38}, // y
		{0xABCDEF, 32},    // x
		{0x3, 2},
		{0, 5},
		{0xFFFFFFFFFFFFFFFF, 64},
	}
	for _, tc := range values {
		w.Write(tc.v, tc.nBits)
	}

	r := NewReader(buf, 0)
	for i, tc := range values {
		got := r.Read(tc.nBits)
		want := tc.v
		if tc.nBits < 64 {
			want &= (uint64(1) << uint(tc.nBits)) - 1
		}
		if got != want {
			t.Errorf("entry %d: got %#x, want %#x", i, got, want)
		}
	}
}

// TestUnalignedStart verifies values can be written/read starting at a
// non-byte-aligned bit offset, since consecutive bucket entries are packed
// without byte padding between them.
func TestUnalignedStart(t *testing.T) {
	buf := make([]byte, 16)
	const startBit = 3
	w := NewWriter(buf, startBit)
	w.Write(0x1A5, 9)
	w.Write(0x3F, 6)

	r := NewReader(buf, startBit)
	if got := r.Read(9); got != 0x1A5 {
		t.Errorf("first value: got %#x, want %#x", got, 0x1A5)
	}
	if got := r.Read(6); got != 0x3F {
		t.Errorf("second value: got %#x, want %#x", got, 0x3F)
	}
}

// TestDisjointCursorsDoNotClobber verifies two Writers over disjoint byte
// ranges of the same buffer (the multi-bucket-cursor scenario of spec.md
// §4.4) do not corrupt each other's output.
func TestDisjointCursorsDoNotClobber(t *testing.T) {
	buf := make([]byte, 32)
	w1 := NewWriter(buf, 0)
	w2 := NewWriter(buf, 128) // byte 16

	w1.Write(0xDEAD, 16)
	w2.Write(0xBEEF, 16)

	r1 := NewReader(buf, 0)
	r2 := NewReader(buf, 128)
	if got := r1.Read(16); got != 0xDEAD {
		t.Errorf("w1 region: got %#x, want 0xDEAD", got)
	}
	if got := r2.Read(16); got != 0xBEEF {
		t.Errorf("w2 region: got %#x, want 0xBEEF", got)
	}
}
