package vnc

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCompressionStreamPersistsAcrossRects verifies the core Zlib/ZRLE
// invariant from SPEC_FULL.md §4.B: flushing K rectangles through the same
// stream ID must produce a byte stream that decompresses, concatenated, to
// the K payloads in order — i.e. the dictionary is never silently reset
// between calls at a stable compression level.
func TestCompressionStreamPersistsAcrossRects(t *testing.T) {
	streams := NewCompressionStreams(6)
	defer streams.Close()

	payloads := [][]byte{
		bytes.Repeat([]byte{0x01}, 64),
		bytes.Repeat([]byte{0x02}, 64),
		bytes.Repeat([]byte{0x03}, 64),
	}

	var wire bytes.Buffer
	for _, p := range payloads {
		out, err := streams.CompressFlush(zlibStreamID, p)
		require.NoError(t, err)
		wire.Write(out)
	}

	zr, err := zlib.NewReader(&wire)
	require.NoError(t, err)
	defer zr.Close()

	var want bytes.Buffer
	for _, p := range payloads {
		want.Write(p)
	}

	// The stream is sync-flushed, never closed, so read exactly the
	// payload length rather than waiting for an end-of-stream marker.
	got := make([]byte, want.Len())
	_, err = io.ReadFull(zr, got)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
}

// TestCompressionStreamIDsAreIndependent verifies that stream 0 and stream
// 3 maintain separate dictionaries: interleaving writes to both must not
// perturb either stream's own concatenated output.
func TestCompressionStreamIDsAreIndependent(t *testing.T) {
	streams := NewCompressionStreams(6)
	defer streams.Close()

	a1, err := streams.CompressFlush(0, []byte("alpha-one"))
	require.NoError(t, err)
	b1, err := streams.CompressFlush(3, []byte("bravo-one"))
	require.NoError(t, err)
	a2, err := streams.CompressFlush(0, []byte("alpha-two"))
	require.NoError(t, err)
	b2, err := streams.CompressFlush(3, []byte("bravo-two"))
	require.NoError(t, err)

	decompress := func(n int, chunks ...[]byte) string {
		var wire bytes.Buffer
		for _, c := range chunks {
			wire.Write(c)
		}
		zr, err := zlib.NewReader(&wire)
		require.NoError(t, err)
		defer zr.Close()
		out := make([]byte, n)
		_, err = io.ReadFull(zr, out)
		require.NoError(t, err)
		return string(out)
	}

	require.Equal(t, "alpha-onealpha-two", decompress(len("alpha-onealpha-two"), a1, a2))
	require.Equal(t, "bravo-onebravo-two", decompress(len("bravo-onebravo-two"), b1, b2))
}

// TestCompressionLevelChangeResetsStream verifies that SetLevel only
// resets the dictionary once the level actually changes on next use, not
// on every CompressFlush call at a stable level.
func TestCompressionLevelChangeResetsStream(t *testing.T) {
	streams := NewCompressionStreams(6)
	defer streams.Close()

	out1, err := streams.CompressFlush(zlibStreamID, []byte("first"))
	require.NoError(t, err)

	// Same level: out2 continues the stream begun by out1.
	streams.SetLevel(6)
	out2, err := streams.CompressFlush(zlibStreamID, []byte("second"))
	require.NoError(t, err)

	zr, err := zlib.NewReader(bytes.NewReader(append(append([]byte{}, out1...), out2...)))
	require.NoError(t, err)
	got := make([]byte, len("firstsecond"))
	_, err = io.ReadFull(zr, got)
	require.NoError(t, err)
	require.Equal(t, "firstsecond", string(got))

	// New level: out3 starts a fresh stream that decodes on its own.
	streams.SetLevel(9)
	out3, err := streams.CompressFlush(zlibStreamID, []byte("third"))
	require.NoError(t, err)
	zr3, err := zlib.NewReader(bytes.NewReader(out3))
	require.NoError(t, err)
	got3 := make([]byte, len("third"))
	_, err = io.ReadFull(zr3, got3)
	require.NoError(t, err)
	require.Equal(t, "third", string(got3))
}

func TestCompressFlushInvalidStreamID(t *testing.T) {
	streams := NewCompressionStreams(6)
	defer streams.Close()

	_, err := streams.CompressFlush(numDeflateStreams, []byte("x"))
	require.Error(t, err)
}
