package vnc

import (
	"bytes"
	"encoding/binary"
)

// Marshaler is implemented by anything that can serialize itself into wire
// bytes for a FramebufferUpdate rectangle or a protocol message.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Buffer is a small big-endian wire-format builder, used by encoders to
// accumulate rectangle bytes before a single write to the client socket.
type Buffer struct {
	buf *bytes.Buffer
}

// NewBuffer returns a Buffer seeded with b, or empty if b is nil.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: bytes.NewBuffer(b)}
}

// Bytes returns the accumulated wire bytes.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }

// Len returns the number of accumulated bytes.
func (b *Buffer) Len() int { return b.buf.Len() }

// Write appends data to the buffer. A []byte is appended verbatim; any
// other type is serialized big-endian via encoding/binary.
func (b *Buffer) Write(data interface{}) error {
	if raw, ok := data.([]byte); ok {
		_, err := b.buf.Write(raw)
		return err
	}
	return binary.Write(b.buf, binary.BigEndian, data)
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) error { return b.buf.WriteByte(c) }
