package vnc

import "testing"

func solidPixels(r, g, b byte, w, h int) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		out[i*4], out[i*4+1], out[i*4+2], out[i*4+3] = r, g, b, 0xFF
	}
	return out
}

func TestTightEncodeSolidFill(t *testing.T) {
	pf := ServerPixelFormat()
	enc := &TightEncoder{Streams: NewCompressionStreams(6), QualityLevel: -1}
	defer enc.Streams.Close()

	rect := Rectangle{X: 0, Y: 0, Width: 4, Height: 4}
	pixels := solidPixels(0x10, 0x20, 0x30, 4, 4)

	body, err := enc.Encode(rect, pixels, pf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Control byte + 3-byte CPIXEL (contiguous RGB24): no deflate, no
	// length prefix for a solid fill.
	want := []byte{tightCtrlFill, 0x30, 0x20, 0x10}
	if len(body) != len(want) {
		t.Fatalf("len(body) = %d, want %d: %x", len(body), len(want), body)
	}
	for i := range want {
		if body[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, body[i], want[i])
		}
	}
}

func TestTightEncodeMonoRectSmallPayloadSkipsDeflate(t *testing.T) {
	pf := ServerPixelFormat()
	enc := &TightEncoder{Streams: NewCompressionStreams(6), QualityLevel: -1}
	defer enc.Streams.Close()

	// 4x4 checkerboard of exactly two colors: small enough that the
	// packed 1bpp bitmap (4 bytes) stays under the 12-byte deflate floor.
	w, h := 4, 4
	pixels := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if (x+y)%2 == 0 {
				pixels[i*4], pixels[i*4+1], pixels[i*4+2] = 0xFF, 0xFF, 0xFF
			} else {
				pixels[i*4], pixels[i*4+1], pixels[i*4+2] = 0x00, 0x00, 0x00
			}
			pixels[i*4+3] = 0xFF
		}
	}

	body, err := enc.Encode(Rectangle{Width: uint16(w), Height: uint16(h)}, pixels, pf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if body[0] != tightCtrlMono {
		t.Fatalf("control byte = %#x, want tightCtrlMono", body[0])
	}
	if body[1] != tightFilterPalette {
		t.Fatalf("filter byte = %#x, want tightFilterPalette", body[1])
	}
	if body[2] != 1 {
		t.Fatalf("palette size byte = %d, want 1", body[2])
	}
	// control(1) + filter(1) + palette-size(1) + 2 CPIXELs(3 each) +
	// compact-length(1, since packed bitmap is 4 bytes < 128) + packed
	// bitmap(4 bytes: 4 rows, 1 byte each since each row of 4 pixels pads
	// out to one byte).
	wantLen := 1 + 1 + 1 + 3 + 3 + 1 + 4
	if len(body) != wantLen {
		t.Fatalf("len(body) = %d, want %d: %x", len(body), wantLen, body)
	}
}

func TestTightEncodeIndexedPalette(t *testing.T) {
	pf := ServerPixelFormat()
	enc := &TightEncoder{Streams: NewCompressionStreams(6), QualityLevel: -1}
	defer enc.Streams.Close()

	w, h := 2, 2
	pixels := make([]byte, w*h*4)
	colors := [][3]byte{{0x10, 0, 0}, {0x20, 0, 0}, {0x30, 0, 0}}
	for i := 0; i < w*h; i++ {
		c := colors[i%len(colors)]
		pixels[i*4], pixels[i*4+1], pixels[i*4+2], pixels[i*4+3] = c[0], c[1], c[2], 0xFF
	}

	body, err := enc.Encode(Rectangle{Width: uint16(w), Height: uint16(h)}, pixels, pf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if body[0] != tightCtrlIndexed {
		t.Fatalf("control byte = %#x, want tightCtrlIndexed", body[0])
	}
	if body[1] != tightFilterPalette {
		t.Fatalf("filter byte = %#x, want tightFilterPalette", body[1])
	}
	if body[2] != 2 {
		t.Fatalf("palette size byte = %d, want 2 (N-1 for 3 colors)", body[2])
	}
}
