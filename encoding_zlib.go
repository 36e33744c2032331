package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// ZlibEncoder implements the Zlib encoding: Raw pixel data deflated on
// the session's persistent stream, length-prefixed.
type ZlibEncoder struct {
	Streams  *CompressionStreams
	StreamID int
}

func (e *ZlibEncoder) Type() encodings.Encoding { return encodings.Zlib }

func (e *ZlibEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	raw := TranslateRect(pixels, pf, false)
	compressed, err := e.Streams.CompressFlush(e.StreamID, raw)
	if err != nil {
		return nil, err
	}
	buf := NewBuffer(nil)
	if err := buf.Write(uint32(len(compressed))); err != nil {
		return nil, err
	}
	if err := buf.Write(compressed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
