package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// ZlibHexEncoder implements the ZlibHex encoding: identical tiling and
// subencoding rules to Hextile, except a tile's raw fallback payload is
// deflated on the session's persistent stream and length-prefixed, per
// SPEC_FULL.md §4.C.
type ZlibHexEncoder struct {
	Streams  *CompressionStreams
	StreamID int
}

func (e *ZlibHexEncoder) Type() encodings.Encoding { return encodings.ZlibHex }

func (e *ZlibHexEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	w, h := int(rect.Width), int(rect.Height)
	buf := NewBuffer(nil)
	for ty := 0; ty < h; ty += hextileTileSize {
		th := minInt(hextileTileSize, h-ty)
		for tx := 0; tx < w; tx += hextileTileSize {
			tw := minInt(hextileTileSize, w-tx)
			tile := extractSubPixels(pixels, w, tx, ty, tw, th)
			raw, body, rawPixels := hextileTileEncode(tile, tw, th, pf)
			if raw {
				translated := TranslateRect(rawPixels, pf, false)
				compressed, err := e.Streams.CompressFlush(e.StreamID, translated)
				if err != nil {
					return nil, err
				}
				if err := buf.WriteByte(hextileRaw); err != nil {
					return nil, err
				}
				if err := buf.Write(uint16(len(compressed))); err != nil {
					return nil, err
				}
				if err := buf.Write(compressed); err != nil {
					return nil, err
				}
				continue
			}
			if err := buf.Write(body); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}
