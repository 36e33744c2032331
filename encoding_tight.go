package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// Tight compression-control byte values and the deflate stream each
// sub-mode is pinned to, per SPEC_FULL.md §4.C.1.
const (
	tightCtrlFill    = 0x80 // solid fill: one CPIXEL follows, nothing else
	tightCtrlMono    = 0x50 // 2-color: filter+palette header, 2 CPIXELs, compressed 1bpp bitmap, stream 1
	tightCtrlIndexed = 0x60 // 3..16-color: filter+palette header, CPIXELs, compressed packed indices, stream 2
	tightCtrlPng     = 0x90 // compact-length-prefixed JPEG bytes
	tightCtrlBasic   = 0x00 // compact-length-prefixed deflated raw CPIXELs, stream 0

	// tightFilterPalette is the filter-id byte that precedes the palette
	// size byte on both Mono and Indexed sub-modes.
	tightFilterPalette = 0x01

	tightStreamBasic   = 0
	tightStreamMono    = 1
	tightStreamIndexed = 2

	tightMinDeflatePayload = 12
)

// TightEncoder implements the Tight encoding's solid/mono/indexed/basic
// sub-modes, with an optional JPEG sub-mode when QualityLevel is 1..9.
type TightEncoder struct {
	Streams      *CompressionStreams
	QualityLevel int // -1 disables JPEG; 1..9 enables it at that quality
}

func (e *TightEncoder) Type() encodings.Encoding { return encodings.Tight }

func (e *TightEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	w, h := int(rect.Width), int(rect.Height)
	colors := flattenColors(pixels, w, h)
	distinct, index, capped := distinctColorSet(colors, 16)
	cpSize := CPixelSize(pf)

	switch {
	case len(distinct) == 1 && !capped:
		buf := []byte{tightCtrlFill}
		return appendCPixel(buf, distinct[0], pf), nil

	case len(distinct) == 2 && !capped:
		buf := []byte{tightCtrlMono, tightFilterPalette, byte(len(distinct) - 1)}
		buf = appendCPixel(buf, distinct[0], pf)
		buf = appendCPixel(buf, distinct[1], pf)
		packed := packMonoBitmap(colors, distinct[1], w, h)
		return e.finishCompressed(tightStreamMono, buf, packed)

	case !capped:
		buf := []byte{tightCtrlIndexed, tightFilterPalette, byte(len(distinct) - 1)}
		for _, c := range distinct {
			buf = appendCPixel(buf, c, pf)
		}
		packed := packIndices(colors, index, len(distinct), w, h)
		return e.finishCompressed(tightStreamIndexed, buf, packed)

	case e.QualityLevel >= 1 && e.QualityLevel <= 9 && pf.BPP == 32 && pf.TrueColor && w*h >= 16:
		jpegBytes, err := EncodeJPEG(pixels, w, h, e.QualityLevel)
		if err != nil {
			return nil, err
		}
		buf := []byte{tightCtrlPng}
		buf = writeCompactLength(buf, len(jpegBytes))
		return append(buf, jpegBytes...), nil

	default:
		raw := make([]byte, 0, len(colors)*cpSize)
		for _, c := range colors {
			raw = appendCPixel(raw, c, pf)
		}
		return e.finishCompressed(tightStreamBasic, []byte{tightCtrlBasic}, raw)
	}
}

// finishCompressed deflates payload on the given stream and appends
// compact-length-prefixed output after the control bytes already in
// head, except when payload is under 12 bytes: RFB's small-payload rule
// skips deflate and frames the raw bytes instead.
func (e *TightEncoder) finishCompressed(streamID int, head []byte, payload []byte) ([]byte, error) {
	if len(payload) < tightMinDeflatePayload {
		head = writeCompactLength(head, len(payload))
		return append(head, payload...), nil
	}
	compressed, err := e.Streams.CompressFlush(streamID, payload)
	if err != nil {
		return nil, err
	}
	head = writeCompactLength(head, len(compressed))
	return append(head, compressed...), nil
}

// packMonoBitmap packs one bit per pixel (1 = fg color, 0 = the other
// color), MSB first, each row padded to a byte boundary.
func packMonoBitmap(colors []uint32, fg uint32, w, h int) []byte {
	var out []byte
	for y := 0; y < h; y++ {
		var cur byte
		nbits := 0
		for x := 0; x < w; x++ {
			bit := byte(0)
			if colors[y*w+x] == fg {
				bit = 1
			}
			cur = cur<<1 | bit
			nbits++
			if nbits == 8 {
				out = append(out, cur)
				cur, nbits = 0, 0
			}
		}
		if nbits > 0 {
			cur <<= uint(8 - nbits)
			out = append(out, cur)
		}
	}
	return out
}

// packIndices packs the palette-index stream at 2 bits per pixel for a
// 3..4 color palette or 4 bits per pixel for a 5..16 color palette, MSB
// first, each row restarting at a byte boundary — the same convention
// encodeZRLEPalette uses for its own packed-palette tiles.
func packIndices(colors []uint32, index map[uint32]int, numColors, w, h int) []byte {
	bits := 4
	if numColors <= 4 {
		bits = 2
	}

	var out []byte
	for y := 0; y < h; y++ {
		var cur byte
		nbits := 0
		for x := 0; x < w; x++ {
			idx := index[colors[y*w+x]]
			cur = cur<<uint(bits) | byte(idx)
			nbits += bits
			if nbits == 8 {
				out = append(out, cur)
				cur, nbits = 0, 0
			}
		}
		if nbits > 0 {
			cur <<= uint(8 - nbits)
			out = append(out, cur)
		}
	}
	return out
}
