package vnc

import (
	"bytes"
	"testing"
)

func TestCompactLengthRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 129, 16383, 16384, 0x1FFFFF}
	for _, n := range cases {
		buf := writeCompactLength(nil, n)
		got, consumed, err := readCompactLength(buf)
		if err != nil {
			t.Errorf("n=%d: unexpected error: %v", n, err)
			continue
		}
		if got != n {
			t.Errorf("n=%d: round-trip got %d", n, got)
		}
		if consumed != len(buf) {
			t.Errorf("n=%d: consumed %d, want %d", n, consumed, len(buf))
		}
	}
}

func TestCompactLengthByteCounts(t *testing.T) {
	cases := []struct {
		n        int
		wantLen  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{0x1FFFFF, 3},
	}
	for _, c := range cases {
		buf := writeCompactLength(nil, c.n)
		if len(buf) != c.wantLen {
			t.Errorf("n=%d: encoded length %d, want %d", c.n, len(buf), c.wantLen)
		}
	}
}

func TestReadCompactLengthTruncated(t *testing.T) {
	_, _, err := readCompactLength([]byte{0x80})
	if err == nil {
		t.Error("expected error on truncated compact length")
	}
}

func TestReadCompactLengthTooLong(t *testing.T) {
	_, _, err := readCompactLength([]byte{0x80, 0x80, 0x80, 0x01})
	if err == nil {
		t.Error("expected error when compact length exceeds 3 bytes")
	}
}

func TestCompactLengthAppendsToExistingBuffer(t *testing.T) {
	prefix := []byte{0xAA, 0xBB}
	buf := writeCompactLength(bytes.Clone(prefix), 300)
	if !bytes.Equal(buf[:2], prefix) {
		t.Error("writeCompactLength must not disturb bytes already in buf")
	}
	got, _, err := readCompactLength(buf[2:])
	if err != nil || got != 300 {
		t.Errorf("got %d, %v; want 300, nil", got, err)
	}
}
