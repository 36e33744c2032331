package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// ZYWRLEEncoder implements ZYWRLE: a lossy pre-filter wrapped around
// ZRLE's tiling and compression. The filter is a single-level Haar-style
// transform per 2x2 block and per RGB channel — each block's average is
// kept as the low-frequency term, and the high-frequency residual within
// the block is zeroed below a quality-dependent threshold — standing in
// for the multi-level wavelet upstream ZYWRLE implementations run, while
// keeping the same "coarsen detail, then delegate to ZRLE" structure.
type ZYWRLEEncoder struct {
	zrle         *ZRLEEncoder
	QualityLevel int
}

// NewZYWRLEEncoder builds a ZYWRLE encoder on the given streams and
// stream ID; session.go passes the same stream ID it gives ZRLE, so the
// two encodings share one deflate stream.
func NewZYWRLEEncoder(streams *CompressionStreams, streamID int, qualityLevel int) *ZYWRLEEncoder {
	return &ZYWRLEEncoder{zrle: &ZRLEEncoder{Streams: streams, StreamID: streamID}, QualityLevel: qualityLevel}
}

func (e *ZYWRLEEncoder) Type() encodings.Encoding { return encodings.ZYWRLE }

func (e *ZYWRLEEncoder) Encode(rect Rectangle, pixels []byte, pf PixelFormat) ([]byte, error) {
	filtered := zywrleFilter(pixels, int(rect.Width), int(rect.Height), e.QualityLevel)
	raw, err := e.zrle.encodeTiles(rect, filtered, pf)
	if err != nil {
		return nil, err
	}
	compressed, err := e.zrle.Streams.CompressFlush(e.zrle.StreamID, raw)
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

// zywrleThreshold maps a VNC quality level (0..9) to the residual
// magnitude dropped by the filter: level 9 is lossless (threshold 0),
// level 0 discards the most detail.
func zywrleThreshold(level int) int {
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}
	return (9 - level) * 4
}

func zywrleFilter(pixels []byte, w, h, qualityLevel int) []byte {
	threshold := zywrleThreshold(qualityLevel)
	out := make([]byte, len(pixels))
	copy(out, pixels)
	if threshold == 0 {
		return out
	}

	for by := 0; by < h; by += 2 {
		for bx := 0; bx < w; bx += 2 {
			for c := 0; c < 3; c++ {
				sum, count := 0, 0
				for dy := 0; dy < 2 && by+dy < h; dy++ {
					for dx := 0; dx < 2 && bx+dx < w; dx++ {
						off := ((by+dy)*w+(bx+dx))*4 + c
						sum += int(pixels[off])
						count++
					}
				}
				avg := sum / count
				for dy := 0; dy < 2 && by+dy < h; dy++ {
					for dx := 0; dx < 2 && bx+dx < w; dx++ {
						off := ((by+dy)*w+(bx+dx))*4 + c
						residual := int(pixels[off]) - avg
						if residual > -threshold && residual < threshold {
							residual = 0
						}
						v := avg + residual
						if v < 0 {
							v = 0
						}
						if v > 255 {
							v = 255
						}
						out[off] = byte(v)
					}
				}
			}
		}
	}
	return out
}
