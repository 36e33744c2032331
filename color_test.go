package vnc

import (
	"bytes"
	"testing"
)

func TestTranslatePixelServerNative(t *testing.T) {
	pf := ServerPixelFormat()
	buf := make([]byte, 4)
	TranslatePixel(buf, 0x11, 0x22, 0x33, pf)
	want := []byte{0x33, 0x22, 0x11, 0x00} // little-endian, blue-shift 0, red-shift 16
	if !bytes.Equal(buf, want) {
		t.Errorf("got %x, want %x", buf, want)
	}
}

func TestTranslatePixel16BitBigEndian(t *testing.T) {
	// RGB565, big-endian.
	pf := PixelFormat{
		BPP: 16, Depth: 16, BigEndian: true, TrueColor: true,
		RedMax: 31, GreenMax: 63, BlueMax: 31,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
	buf := make([]byte, 2)
	TranslatePixel(buf, 0xFF, 0xFF, 0xFF, pf)
	want := []byte{0xFF, 0xFF} // every channel maxed out
	if !bytes.Equal(buf, want) {
		t.Errorf("got %x, want %x", buf, want)
	}

	buf2 := make([]byte, 2)
	TranslatePixel(buf2, 0, 0, 0, pf)
	if !bytes.Equal(buf2, []byte{0, 0}) {
		t.Errorf("got %x, want zeroed", buf2)
	}
}

func TestCPixelSizeContiguousRGB24(t *testing.T) {
	pf := ServerPixelFormat()
	if CPixelSize(pf) != 3 {
		t.Errorf("CPixelSize = %d, want 3 for contiguous RGB24", CPixelSize(pf))
	}
}

func TestCPixelSizeNonContiguousFallsBackToFull(t *testing.T) {
	pf := PixelFormat{
		BPP: 16, Depth: 16, BigEndian: false, TrueColor: true,
		RedMax: 31, GreenMax: 63, BlueMax: 31,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
	if CPixelSize(pf) != 2 {
		t.Errorf("CPixelSize = %d, want 2 (BytesPerPixel fallback)", CPixelSize(pf))
	}
}

func TestTranslateRectServerNativeFastPath(t *testing.T) {
	pf := ServerPixelFormat()
	src := []byte{
		0x01, 0x02, 0x03, 0xFF,
		0x04, 0x05, 0x06, 0xFF,
	}
	out := TranslateRect(src, pf, false)
	want := []byte{
		0x03, 0x02, 0x01, 0x00,
		0x06, 0x05, 0x04, 0x00,
	}
	if !bytes.Equal(out, want) {
		t.Errorf("got %x, want %x", out, want)
	}
}

func TestTranslateRectCPixelStripsPadding(t *testing.T) {
	pf := ServerPixelFormat()
	src := []byte{0x10, 0x20, 0x30, 0xFF}
	out := TranslateRect(src, pf, true)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	want := []byte{0x30, 0x20, 0x10}
	if !bytes.Equal(out, want) {
		t.Errorf("got %x, want %x", out, want)
	}
}

func TestPixelFormatMarshalUnmarshalRoundTrip(t *testing.T) {
	pf := PixelFormat{
		BPP: 32, Depth: 24, BigEndian: true, TrueColor: true,
		RedMax: 255, GreenMax: 255, BlueMax: 255,
		RedShift: 0, GreenShift: 8, BlueShift: 16,
	}
	buf, err := pf.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(buf) != 16 {
		t.Fatalf("Marshal len = %d, want 16", len(buf))
	}
	got, err := UnmarshalPixelFormat(buf)
	if err != nil {
		t.Fatalf("UnmarshalPixelFormat: %v", err)
	}
	if !got.Equal(pf) {
		t.Errorf("round-trip got %+v, want %+v", got, pf)
	}
}
