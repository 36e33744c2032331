package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

const hextileTileSize = 16

// Hextile subencoding mask bits, RFC 6143 §7.7.3.
const (
	hextileRaw                 = 1 << 0
	hextileBackgroundSpecified = 1 << 1
	hextileForegroundSpecified = 1 << 2
	hextileAnySubrects         = 1 << 3
	hextileSubrectsColoured    = 1 << 4
)

// HextileEncoder implements Hextile: the rectangle is divided into 16x16
// tiles, each independently background+subrects or raw.
type HextileEncoder struct{}

func (HextileEncoder) Type() encodings.Encoding { return encodings.Hextile }

func (HextileEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	w, h := int(rect.Width), int(rect.Height)
	buf := NewBuffer(nil)
	for ty := 0; ty < h; ty += hextileTileSize {
		th := minInt(hextileTileSize, h-ty)
		for tx := 0; tx < w; tx += hextileTileSize {
			tw := minInt(hextileTileSize, w-tx)
			tile := extractSubPixels(pixels, w, tx, ty, tw, th)
			raw, body, rawPixels := hextileTileEncode(tile, tw, th, pf)
			if raw {
				if err := buf.WriteByte(hextileRaw); err != nil {
					return nil, err
				}
				if err := buf.Write(TranslateRect(rawPixels, pf, false)); err != nil {
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

// hextileTileEncode computes one tile's subencoding body. Every tile
// always specifies its background explicitly (valid, just not the
// minimum-size optimization a cross-tile-state encoder could make) and
// always marks subrects colored rather than tracking a shared foreground,
// trading a little size for a much simpler, always-correct encoder. If
// the tile needs more than 255 subrects to represent (at most 16x16=256
// single-pixel runs), it falls back to raw instead, since the subrect
// count field is one byte.
func hextileTileEncode(tile []byte, w, h int, pf PixelFormat) (raw bool, body []byte, rawPixels []byte) {
	bg := mostFrequentColor(tile, w, h)
	runs := rowRuns(tile, w, h, bg)
	if len(runs) > 255 {
		return true, nil, tile
	}

	sub := byte(hextileBackgroundSpecified)
	if len(runs) > 0 {
		sub |= hextileAnySubrects | hextileSubrectsColoured
	}

	out := []byte{sub}
	out = appendPixel(out, bg, pf)
	if len(runs) > 0 {
		out = append(out, byte(len(runs)))
		for _, run := range runs {
			out = appendPixel(out, run.Color, pf)
			out = append(out, byte(run.X<<4|run.Y), byte((run.W-1)<<4|(run.H-1)))
		}
	}
	return false, out, nil
}
