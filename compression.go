package vnc

import (
	"bytes"
	"compress/zlib"
	"image"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/dustinmcafee/rustvncserver/encodings"
)

// numDeflateStreams is the number of independently addressable persistent
// deflate contexts a session owns, per SPEC_FULL.md §4.B.
const numDeflateStreams = 4

// CompressionStreams owns a session's four persistent deflate contexts plus
// its stateless JPEG/PNG encoders. Nothing outside the owning session may
// touch it (SPEC_FULL.md §5).
type CompressionStreams struct {
	mu           sync.Mutex
	level        int // level the live writers were created at
	pendingLevel int // level to adopt on next use
	writers      [numDeflateStreams]*zlib.Writer
	bufs         [numDeflateStreams]*bytes.Buffer
}

// NewCompressionStreams returns streams that will be lazily initialized at
// the given compression level (0..9) on first use.
func NewCompressionStreams(level int) *CompressionStreams {
	return &CompressionStreams{level: level, pendingLevel: level}
}

// SetLevel schedules a new compression level for the next CompressFlush
// call. Per SPEC_FULL.md §4.B this does not reset the dictionary unless the
// level actually changes.
func (c *CompressionStreams) SetLevel(level int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingLevel = level
}

// CompressFlush compresses data onto the persistent stream identified by
// streamID (0..3), flushing with Z_SYNC_FLUSH so the dictionary survives
// into the next call, and returns the bytes produced up to the flush
// boundary.
func (c *CompressionStreams) CompressFlush(streamID int, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if streamID < 0 || streamID >= numDeflateStreams {
		return nil, NewResourceError("invalid deflate stream id", nil)
	}

	if c.pendingLevel != c.level {
		c.level = c.pendingLevel
		c.resetLocked()
	}

	if c.writers[streamID] == nil {
		buf := new(bytes.Buffer)
		w, err := zlib.NewWriterLevel(buf, c.level)
		if err != nil {
			return nil, NewResourceError("failed to create deflate stream", err)
		}
		c.writers[streamID] = w
		c.bufs[streamID] = buf
	}

	buf := c.bufs[streamID]
	buf.Reset()
	w := c.writers[streamID]

	if _, err := w.Write(data); err != nil {
		return nil, NewResourceError("deflate write failed", err)
	}
	if err := w.Flush(); err != nil {
		return nil, NewResourceError("deflate flush failed", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// resetLocked discards all four writers so the next use creates a fresh
// stream at the new level. Caller must hold c.mu.
func (c *CompressionStreams) resetLocked() {
	for i := range c.writers {
		c.writers[i] = nil
		c.bufs[i] = nil
	}
}

// Close finalizes and releases every live deflate stream. Called when the
// owning session transitions to Closed.
func (c *CompressionStreams) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for i, w := range c.writers {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		c.writers[i] = nil
	}
	return first
}

// rgbaImage wraps a row-major RGBA32 byte slice as an image.Image without
// copying, for handing to the stdlib JPEG/PNG encoders.
func rgbaImage(pixels []byte, w, h int) *image.RGBA {
	return &image.RGBA{
		Pix:    pixels,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// EncodeJPEG renders server-native RGBA32 pixels as JPEG at the quality
// implied by the session's VNC quality level (see
// encodings.JPEGQuality). Stateless, per SPEC_FULL.md §4.B.
func EncodeJPEG(pixels []byte, w, h, qualityLevel int) ([]byte, error) {
	buf := new(bytes.Buffer)
	img := rgbaImage(pixels, w, h)
	opts := &jpeg.Options{Quality: encodings.JPEGQuality(qualityLevel)}
	if err := jpeg.Encode(buf, img, opts); err != nil {
		return nil, NewResourceError("jpeg encode failed", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG renders server-native RGBA32 pixels as PNG. Stateless.
func EncodePNG(pixels []byte, w, h int) ([]byte, error) {
	buf := new(bytes.Buffer)
	img := rgbaImage(pixels, w, h)
	if err := png.Encode(buf, img); err != nil {
		return nil, NewResourceError("png encode failed", err)
	}
	return buf.Bytes(), nil
}
