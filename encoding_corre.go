package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// CoRREEncoder implements the CoRRE variant of RRE: identical structure,
// but subrectangle coordinates and dimensions are single bytes, which
// requires the whole rectangle to fit within 255x255. Callers must tile
// larger dirty regions before selecting this encoding.
type CoRREEncoder struct{}

func (CoRREEncoder) Type() encodings.Encoding { return encodings.CoRRE }

func (CoRREEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	if rect.Width > 255 || rect.Height > 255 {
		return nil, NewProtocolError("corre: rectangle exceeds 255x255", nil)
	}
	w, h := int(rect.Width), int(rect.Height)
	bg := mostFrequentColor(pixels, w, h)
	runs := rowRuns(pixels, w, h, bg)

	buf := NewBuffer(nil)
	if err := buf.Write(uint32(len(runs))); err != nil {
		return nil, err
	}
	if err := buf.Write(appendPixel(nil, bg, pf)); err != nil {
		return nil, err
	}
	for _, run := range runs {
		if err := buf.Write(appendPixel(nil, run.Color, pf)); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(run.X)); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(run.Y)); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(run.W)); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(run.H)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
