package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

const zrleTileSize = 64

// ZRLE subencoding values, RFC 6143 §7.7.7. Palette sizes 2..16 are
// encoded as packed-bit palettes; palette-RLE (subencoding 129..255) is
// not implemented — plain RLE(128) or raw(0) is used instead whenever a
// tile has more than 16 distinct colors, which a real zlib pass downstream
// still compresses well.
const (
	zrleSubSolid = 1
	zrleSubRaw   = 0
	zrleSubRLE   = 128
)

// ZRLEEncoder implements ZRLE: the rectangle is divided into 64x64 tiles,
// each rendered as raw/solid/packed-palette/plain-RLE CPIXELs, and the
// concatenation of all tile bodies is deflated as one unit on the
// session's persistent stream.
type ZRLEEncoder struct {
	Streams  *CompressionStreams
	StreamID int
}

func (e *ZRLEEncoder) Type() encodings.Encoding { return encodings.ZRLE }

func (e *ZRLEEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	raw, err := e.encodeTiles(rect, pixels, pf)
	if err != nil {
		return nil, err
	}
	compressed, err := e.Streams.CompressFlush(e.StreamID, raw)
	if err != nil {
		return nil, err
	}
	out := NewBuffer(nil)
	if err := out.Write(uint32(len(compressed))); err != nil {
		return nil, err
	}
	if err := out.Write(compressed); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// encodeTiles renders the uncompressed tile stream for rect; shared with
// ZYWRLE, which pre-filters pixels before calling this.
func (e *ZRLEEncoder) encodeTiles(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	w, h := int(rect.Width), int(rect.Height)
	var out []byte
	for ty := 0; ty < h; ty += zrleTileSize {
		th := minInt(zrleTileSize, h-ty)
		for tx := 0; tx < w; tx += zrleTileSize {
			tw := minInt(zrleTileSize, w-tx)
			tile := extractSubPixels(pixels, w, tx, ty, tw, th)
			out = encodeZRLETile(out, tile, tw, th, pf)
		}
	}
	return out, nil
}

func encodeZRLETile(buf []byte, tile []byte, w, h int, pf PixelFormat) []byte {
	colors := flattenColors(tile, w, h)
	cpSize := CPixelSize(pf)
	distinct, index, capped := distinctColorSet(colors, 16)

	switch {
	case len(distinct) == 1 && !capped:
		buf = append(buf, zrleSubSolid)
		return appendCPixel(buf, distinct[0], pf)

	case len(distinct) >= 2 && !capped:
		return encodeZRLEPalette(buf, colors, distinct, index, w, h, pf)

	default:
		runs := calcRuns(colors)
		rleCost := len(runs) * (cpSize + 2)
		rawCost := len(colors) * cpSize
		if len(runs) > 0 && rleCost < rawCost {
			buf = append(buf, zrleSubRLE)
			for _, run := range runs {
				buf = appendCPixel(buf, run.Color, pf)
				buf = writeRunLength(buf, run.Length)
			}
			return buf
		}
		buf = append(buf, zrleSubRaw)
		for _, c := range colors {
			buf = appendCPixel(buf, c, pf)
		}
		return buf
	}
}

// encodeZRLEPalette packs a tile using a 2..16-entry palette, with
// 1/2/4-bit indices restarting at a byte boundary on every row.
func encodeZRLEPalette(buf []byte, colors, distinct []uint32, index map[uint32]int, w, h int, pf PixelFormat) []byte {
	buf = append(buf, byte(len(distinct)))
	for _, c := range distinct {
		buf = appendCPixel(buf, c, pf)
	}

	bits := 4
	switch {
	case len(distinct) <= 2:
		bits = 1
	case len(distinct) <= 4:
		bits = 2
	}

	for y := 0; y < h; y++ {
		var cur byte
		nbits := 0
		for x := 0; x < w; x++ {
			idx := index[colors[y*w+x]]
			cur = cur<<uint(bits) | byte(idx)
			nbits += bits
			if nbits == 8 {
				buf = append(buf, cur)
				cur, nbits = 0, 0
			}
		}
		if nbits > 0 {
			cur <<= uint(8 - nbits)
			buf = append(buf, cur)
		}
	}
	return buf
}
