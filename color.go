package vnc

import "encoding/binary"

// PixelFormat describes how pixels are packed on the wire for a session.
// See RFC 6143 §7.4 and SPEC_FULL.md §3.
type PixelFormat struct {
	BPP        uint8 // bits per pixel: 8, 16 or 32
	Depth      uint8
	BigEndian  bool
	TrueColor  bool
	RedMax     uint16
	GreenMax   uint16
	BlueMax    uint16
	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
}

// BytesPerPixel returns BPP/8.
func (pf PixelFormat) BytesPerPixel() int { return int(pf.BPP) / 8 }

// ServerPixelFormat is the server's native framebuffer format: 32bpp,
// 24-bit depth, true-colour, little-endian, with the classic
// red-shift-16/green-shift-8/blue-shift-0 arrangement most RFB servers
// advertise by default.
func ServerPixelFormat() PixelFormat {
	return PixelFormat{
		BPP: 32, Depth: 24,
		BigEndian: false, TrueColor: true,
		RedMax: 255, GreenMax: 255, BlueMax: 255,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	}
}

// Equal reports whether pf and o describe the same wire layout.
func (pf PixelFormat) Equal(o PixelFormat) bool {
	return pf.BPP == o.BPP && pf.Depth == o.Depth && pf.BigEndian == o.BigEndian &&
		pf.TrueColor == o.TrueColor && pf.RedMax == o.RedMax && pf.GreenMax == o.GreenMax &&
		pf.BlueMax == o.BlueMax && pf.RedShift == o.RedShift && pf.GreenShift == o.GreenShift &&
		pf.BlueShift == o.BlueShift
}

// Marshal serializes the 16-byte wire representation used by ServerInit
// and SetPixelFormat (the 3 padding bytes are the caller's responsibility).
func (pf PixelFormat) Marshal() ([]byte, error) {
	buf := make([]byte, 16)
	buf[0] = pf.BPP
	buf[1] = pf.Depth
	buf[2] = boolByte(pf.BigEndian)
	buf[3] = boolByte(pf.TrueColor)
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	// buf[13:16] padding, left zero.
	return buf, nil
}

// UnmarshalPixelFormat parses the 16-byte wire representation sent by a
// client in SetPixelFormat.
func UnmarshalPixelFormat(buf []byte) (PixelFormat, error) {
	if len(buf) < 16 {
		return PixelFormat{}, NewProtocolError("pixel format too short", nil)
	}
	return PixelFormat{
		BPP:        buf[0],
		Depth:      buf[1],
		BigEndian:  buf[2] != 0,
		TrueColor:  buf[3] != 0,
		RedMax:     binary.BigEndian.Uint16(buf[4:6]),
		GreenMax:   binary.BigEndian.Uint16(buf[6:8]),
		BlueMax:    binary.BigEndian.Uint16(buf[8:10]),
		RedShift:   buf[10],
		GreenShift: buf[11],
		BlueShift:  buf[12],
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// byteOrder returns the binary.ByteOrder the pixel format's endian flag
// selects.
func (pf PixelFormat) byteOrder() binary.ByteOrder {
	if pf.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// --- Component A: pixel-format translator -------------------------------
//
// Pure, stateless translation of server-native RGBA32 pixels (stored as
// four bytes R,G,B,A per pixel, row-major) to a client's declared
// PixelFormat. See SPEC_FULL.md §4.A.

// scaleChannel applies the RFB channel-scaling formula: c' = (c*max)/255.
func scaleChannel(c byte, max uint16) uint32 {
	return (uint32(c) * uint32(max)) / 255
}

// packPixel packs translated r,g,b channel values into a single word per
// pf's shifts.
func packPixel(r, g, b byte, pf PixelFormat) uint32 {
	rp := scaleChannel(r, pf.RedMax)
	gp := scaleChannel(g, pf.GreenMax)
	bp := scaleChannel(b, pf.BlueMax)
	return rp<<pf.RedShift | gp<<pf.GreenShift | bp<<pf.BlueShift
}

// writePixel serializes a packed pixel value into buf using pf's
// bytes-per-pixel and byte order. buf must have length >= pf.BytesPerPixel().
func writePixel(buf []byte, pixel uint32, pf PixelFormat) {
	n := pf.BytesPerPixel()
	switch n {
	case 1:
		buf[0] = byte(pixel)
	case 2:
		if pf.BigEndian {
			binary.BigEndian.PutUint16(buf, uint16(pixel))
		} else {
			binary.LittleEndian.PutUint16(buf, uint16(pixel))
		}
	case 4:
		if pf.BigEndian {
			binary.BigEndian.PutUint32(buf, pixel)
		} else {
			binary.LittleEndian.PutUint32(buf, pixel)
		}
	}
}

// isContiguousRGB24 reports whether pf is the 32bpp/depth-24 true-colour
// layout whose red/green/blue occupy three distinct, non-overlapping byte
// lanes (shifts {0,8,16} in some order, each channel maxing at 255) — the
// case RFC 6143 lets CPIXEL drop the unused fourth byte for.
func isContiguousRGB24(pf PixelFormat) bool {
	if !(pf.BPP == 32 && pf.Depth == 24 && pf.TrueColor) {
		return false
	}
	if pf.RedMax != 255 || pf.GreenMax != 255 || pf.BlueMax != 255 {
		return false
	}
	shifts := map[uint8]bool{pf.RedShift: true, pf.GreenShift: true, pf.BlueShift: true}
	return len(shifts) == 3 && shifts[0] && shifts[8] && shifts[16]
}

// CPixelSize returns the number of bytes a CPIXEL occupies for pf: 3 for
// the contiguous-RGB24 case, else pf.BytesPerPixel().
func CPixelSize(pf PixelFormat) int {
	if isContiguousRGB24(pf) {
		return 3
	}
	return pf.BytesPerPixel()
}

// writeCPixel serializes a packed 24-bit-in-32-bit pixel into 3 bytes by
// dropping the always-zero byte: the leading byte in big-endian order, the
// trailing byte in little-endian order.
func writeCPixel(buf []byte, pixel uint32, pf PixelFormat) {
	var full [4]byte
	writePixel(full[:], pixel, pf)
	if pf.BigEndian {
		copy(buf, full[1:4])
	} else {
		copy(buf, full[0:3])
	}
}

// TranslatePixel translates one RGBA32 source pixel (r,g,b; alpha ignored)
// into pf's wire bytes, writing BytesPerPixel(pf) bytes into buf.
func TranslatePixel(buf []byte, r, g, b byte, pf PixelFormat) {
	writePixel(buf, packPixel(r, g, b, pf), pf)
}

// TranslateCPixel translates one RGBA32 source pixel into pf's CPIXEL
// bytes, writing CPixelSize(pf) bytes into buf.
func TranslateCPixel(buf []byte, r, g, b byte, pf PixelFormat) {
	if isContiguousRGB24(pf) {
		writeCPixel(buf, packPixel(r, g, b, pf), pf)
		return
	}
	writePixel(buf, packPixel(r, g, b, pf), pf)
}

// isServerNativeFast reports whether pf is byte-for-byte identical to the
// server's native RGBA32 layout modulo the alpha channel, letting the
// translator take the fast identity-copy path described in SPEC_FULL.md
// §4.A.
func isServerNativeFast(pf PixelFormat) bool {
	native := ServerPixelFormat()
	return pf.Equal(native)
}

// TranslateRect translates a row-major run of RGBA32 source pixels (4
// bytes per pixel: R,G,B,A) into pf's wire format. If cpixel is true,
// CPIXEL sizing is used (for Tight/ZRLE); otherwise full BytesPerPixel.
func TranslateRect(src []byte, pf PixelFormat, cpixel bool) []byte {
	n := len(src) / 4
	size := pf.BytesPerPixel()
	if cpixel {
		size = CPixelSize(pf)
	}

	if isServerNativeFast(pf) {
		out := make([]byte, n*size)
		for i := 0; i < n; i++ {
			s := src[i*4 : i*4+4]
			d := out[i*size : i*size+size]
			// ServerPixelFormat has RedShift=16, GreenShift=8, BlueShift=0,
			// so its wire byte order is B,G,R(,pad) — the reverse of the
			// source's R,G,B,A — matching what TranslatePixel/TranslateCPixel
			// would produce for this format.
			d[0], d[1], d[2] = s[2], s[1], s[0]
			if size == 4 {
				d[3] = 0
			}
		}
		return out
	}

	out := make([]byte, n*size)
	for i := 0; i < n; i++ {
		s := src[i*4 : i*4+4]
		d := out[i*size : i*size+size]
		if cpixel {
			TranslateCPixel(d, s[0], s[1], s[2], pf)
		} else {
			TranslatePixel(d, s[0], s[1], s[2], pf)
		}
	}
	return out
}
