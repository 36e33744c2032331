package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// RawEncoder implements the Raw encoding: translated pixels, nothing else.
type RawEncoder struct{}

func (RawEncoder) Type() encodings.Encoding { return encodings.Raw }

func (RawEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	return TranslateRect(pixels, pf, false), nil
}
