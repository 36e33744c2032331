package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// TightPngEncoder implements TightPng, the pseudo-encoding pairing that
// forces Tight's full-color payload through PNG instead of a raw-deflate
// stream. The control byte for the PNG sub-mode is 0x0A<<4 (RFC 6143's
// "tightPng" reserves compression-control value 10 in the top nibble).
// A single-color rectangle uses Tight's solid-fill sub-mode; every other
// rectangle, two-color ones included, is sent as PNG. Tight's mono and
// indexed-palette sub-modes are not used.
type TightPngEncoder struct {
	QualityLevel int
}

const tightPngCtrl = 0x0A << 4

func (e *TightPngEncoder) Type() encodings.Encoding { return encodings.TightPng }

func (e *TightPngEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	w, h := int(rect.Width), int(rect.Height)
	colors := flattenColors(pixels, w, h)
	distinct, _, capped := distinctColorSet(colors, 256)

	switch {
	case len(distinct) == 1 && !capped:
		buf := []byte{tightCtrlFill}
		return appendCPixel(buf, distinct[0], pf), nil

	case len(distinct) == 2 && !capped:
		pngBytes, err := EncodePNG(packMonoAsImage(colors, w, h), w, h)
		if err != nil {
			return nil, err
		}
		buf := []byte{tightPngCtrl}
		buf = writeCompactLength(buf, len(pngBytes))
		return append(buf, pngBytes...), nil

	default:
		pngBytes, err := EncodePNG(pixels, w, h)
		if err != nil {
			return nil, err
		}
		buf := []byte{tightPngCtrl}
		buf = writeCompactLength(buf, len(pngBytes))
		return append(buf, pngBytes...), nil
	}
}

// packMonoAsImage expands a 2-color tile back out to full RGBA32 so it
// can go through the shared PNG encoder; the 2-color case is rare enough
// in practice not to warrant its own indexed-PNG path.
func packMonoAsImage(colors []uint32, w, h int) []byte {
	out := make([]byte, w*h*4)
	for i, c := range colors {
		r, g, b := colorToRGB(c)
		out[i*4], out[i*4+1], out[i*4+2], out[i*4+3] = r, g, b, 255
	}
	return out
}
