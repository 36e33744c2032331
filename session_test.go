package vnc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dustinmcafee/rustvncserver/encodings"
	"github.com/dustinmcafee/rustvncserver/internal/metrics"
)

func newTestSessionPipe(t *testing.T, cfg SessionConfig) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	fb := NewFramebuffer(64, 48)
	cfg.Metrics = metrics.New()
	sess := NewSession(1, server, fb, cfg)
	return sess, client
}

// TestHandshakeGoldenTranscriptNoAuth walks the wire bytes of a
// no-authentication handshake end to end: ProtocolVersion, the
// single-security-type offer, the 4-byte OK (zero) SecurityResult, and
// ServerInit's fields, matching spec.md §8 scenario 6.
func TestHandshakeGoldenTranscriptNoAuth(t *testing.T) {
	sess, client := newTestSessionPipe(t, SessionConfig{
		DesktopName:        "test desktop",
		InitialQuality:     5,
		InitialCompression: 6,
	})
	defer client.Close()

	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	// ProtocolVersion
	version := make([]byte, 12)
	_, err := io.ReadFull(client, version)
	require.NoError(t, err)
	require.Equal(t, "RFB 003.008\n", string(version))
	_, err = client.Write([]byte("RFB 003.008\n"))
	require.NoError(t, err)

	// Security-type offer: one type, None.
	secHeader := make([]byte, 2)
	_, err = io.ReadFull(client, secHeader)
	require.NoError(t, err)
	require.Equal(t, []byte{1, secTypeNone}, secHeader)
	_, err = client.Write([]byte{secTypeNone})
	require.NoError(t, err)

	// SecurityResult: OK.
	result := make([]byte, 4)
	_, err = io.ReadFull(client, result)
	require.NoError(t, err)
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(result))

	// ClientInit: shared-flag true.
	_, err = client.Write([]byte{1})
	require.NoError(t, err)

	// ServerInit
	dims := make([]byte, 4)
	_, err = io.ReadFull(client, dims)
	require.NoError(t, err)
	require.Equal(t, uint16(64), binary.BigEndian.Uint16(dims[0:2]))
	require.Equal(t, uint16(48), binary.BigEndian.Uint16(dims[2:4]))

	pfBytes := make([]byte, 16)
	_, err = io.ReadFull(client, pfBytes)
	require.NoError(t, err)
	pf, err := UnmarshalPixelFormat(pfBytes)
	require.NoError(t, err)
	require.True(t, pf.Equal(ServerPixelFormat()))

	nameLen := make([]byte, 4)
	_, err = io.ReadFull(client, nameLen)
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(nameLen)
	nameBytes := make([]byte, n)
	_, err = io.ReadFull(client, nameBytes)
	require.NoError(t, err)
	require.Equal(t, "test desktop", string(nameBytes))

	require.Equal(t, StateRunning, sess.State())

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not exit after connection close")
	}
}

// TestHandshakeRejectsUnknownSecurityType verifies the server tears down
// the connection when the client echoes a security type it wasn't
// offered.
func TestHandshakeRejectsUnknownSecurityType(t *testing.T) {
	sess, client := newTestSessionPipe(t, SessionConfig{DesktopName: "d"})
	defer client.Close()

	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	version := make([]byte, 12)
	_, err := io.ReadFull(client, version)
	require.NoError(t, err)
	_, err = client.Write([]byte("RFB 003.008\n"))
	require.NoError(t, err)

	secHeader := make([]byte, 2)
	_, err = io.ReadFull(client, secHeader)
	require.NoError(t, err)

	_, err = client.Write([]byte{secTypeVNCAuth}) // not offered: server offered None
	require.NoError(t, err)

	// net.Pipe is unbuffered: drain the failure SecurityResult the server
	// writes before closing, or its write blocks forever.
	go io.Copy(io.Discard, client)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session should have closed on unsupported security type")
	}
	require.Equal(t, StateClosed, sess.State())
}

// TestApplyEncodingsPreservesClientOrder verifies SPEC_FULL.md §9: the
// client's own SetEncodings order is authoritative, never silently
// reordered to the server's own tie-break preference, which would put
// Tight before Hextile regardless of what the client asked for.
func TestApplyEncodingsPreservesClientOrder(t *testing.T) {
	sess, client := newTestSessionPipe(t, SessionConfig{})
	defer client.Close()
	defer sess.streams.Close()

	sess.applyEncodings([]encodings.Encoding{encodings.Hextile, encodings.Tight})

	rect := Rectangle{X: 0, Y: 0, Width: 8, Height: 8}
	got := sess.selectEncoder(rect)
	require.Equal(t, encodings.Hextile, got.Type())
}

// TestSendServerCutTextWiresMessage verifies the ServerCutText wire
// format a pushed clipboard broadcast produces: message type 3, 3
// padding bytes, a uint32 length, then the text.
func TestSendServerCutTextWiresMessage(t *testing.T) {
	sess, client := newTestSessionPipe(t, SessionConfig{})
	defer client.Close()
	defer sess.streams.Close()

	done := make(chan error, 1)
	go func() { done <- sess.sendServerCutText("hello clipboard") }()

	header := make([]byte, 8)
	_, err := io.ReadFull(client, header)
	require.NoError(t, err)
	require.Equal(t, byte(msgServerCutText), header[0])
	require.Equal(t, []byte{0, 0, 0}, header[1:4])
	length := binary.BigEndian.Uint32(header[4:8])
	require.Equal(t, uint32(len("hello clipboard")), length)

	text := make([]byte, length)
	_, err = io.ReadFull(client, text)
	require.NoError(t, err)
	require.Equal(t, "hello clipboard", string(text))

	require.NoError(t, <-done)
}

// TestPushCutTextDropsOnFullBacklog verifies a wedged cutText channel
// drops the broadcast instead of blocking the caller (Server.SendCutText
// iterates every session under one lock, so one stalled session must
// never stall the whole broadcast).
func TestPushCutTextDropsOnFullBacklog(t *testing.T) {
	sess, client := newTestSessionPipe(t, SessionConfig{})
	defer client.Close()
	defer sess.streams.Close()

	for i := 0; i < cutTextBacklog; i++ {
		sess.PushCutText("fill")
	}
	done := make(chan struct{})
	go func() {
		sess.PushCutText("dropped")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushCutText blocked on a full backlog")
	}
	require.Len(t, sess.cutText, cutTextBacklog)
}

// TestApplyEncodingsExtractsQualityAndCompressionLevels verifies the
// pseudo-encoding extraction in applyEncodings.
func TestApplyEncodingsExtractsQualityAndCompressionLevels(t *testing.T) {
	sess, client := newTestSessionPipe(t, SessionConfig{})
	defer client.Close()
	defer sess.streams.Close()

	sess.applyEncodings([]encodings.Encoding{
		encodings.Tight,
		encodings.QualityLevelMin + 3,     // quality level 3
		encodings.CompressionLevelMin + 7, // compression level 7
	})

	require.Equal(t, 3, sess.qualityLevel)
	require.Equal(t, 7, sess.compressionLevel)
}
