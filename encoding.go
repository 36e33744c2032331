package vnc

import (
	"github.com/dustinmcafee/rustvncserver/encodings"
)

// RegionEncoder turns one dirty region of server-native RGBA32 pixels into
// the body of a FramebufferUpdate rectangle (everything after the 12-byte
// rectangle header: x,y,w,h,encoding-type). Implementations own whatever
// per-session state their encoding needs (persistent deflate streams,
// previous-tile caches); SPEC_FULL.md §4.C.
type RegionEncoder interface {
	// Type returns the wire encoding-type value this encoder implements.
	Type() encodings.Encoding
	// Encode renders rect's pixels (row-major RGBA32, rect.Area()*4 bytes)
	// for a client using pf, returning the rectangle body bytes.
	Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error)
}

// writeCompactLength appends the RFB "compact length" variable-length
// encoding of n (used by Tight and TightPng) to buf: 7 bits per byte,
// little-endian, continuation in the top bit, 1-3 bytes for the legal
// range 0..0x1FFFFF. See RFC 6143 §7.7.4.
func writeCompactLength(buf []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// readCompactLength decodes a compact-length value from the front of buf,
// returning the value, the number of bytes consumed, and an error if buf
// is truncated or the encoding runs past the 3-byte maximum.
func readCompactLength(buf []byte) (n int, consumed int, err error) {
	for i := 0; i < 3; i++ {
		if i >= len(buf) {
			return 0, 0, NewProtocolError("truncated compact length", nil)
		}
		b := buf[i]
		n |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return n, i + 1, nil
		}
	}
	return 0, 0, NewProtocolError("compact length exceeds 3 bytes", nil)
}
