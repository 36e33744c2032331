package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// RREEncoder implements Rise-and-Run-length Encoding: a background pixel
// plus a list of colored subrectangles, each with CARD16 coordinates.
type RREEncoder struct{}

func (RREEncoder) Type() encodings.Encoding { return encodings.RRE }

func (RREEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
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
		if err := buf.Write(uint16(run.X)); err != nil {
			return nil, err
		}
		if err := buf.Write(uint16(run.Y)); err != nil {
			return nil, err
		}
		if err := buf.Write(uint16(run.W)); err != nil {
			return nil, err
		}
		if err := buf.Write(uint16(run.H)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
