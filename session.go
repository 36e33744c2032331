package vnc

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"

	"github.com/golang/glog"

	"github.com/dustinmcafee/rustvncserver/encodings"
	"github.com/dustinmcafee/rustvncserver/internal/metrics"
)

// SessionState is a position in the state machine described in
// SPEC_FULL.md §4.E.
type SessionState int

const (
	StateHandshaking SessionState = iota
	StateAuthenticating
	StateInitializing
	StateRunning
	StateClosed
)

// Client-to-server message types, RFC 6143 §7.5.
const (
	msgSetPixelFormat           = 0
	msgSetEncodings             = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
	msgClientCutText            = 6
)

// Server-to-client message types, RFC 6143 §7.6.
const (
	msgServerCutText = 3
)

// cutTextBacklog bounds the number of server-pushed clipboard broadcasts
// a session will queue; once it is full, new pushes are dropped and the
// queued ones kept. ServerCutText is advisory, not a delivery guarantee.
const cutTextBacklog = 8

// Security types, RFC 6143 §7.2.2.
const (
	secTypeNone    = 1
	secTypeVNCAuth = 2
)

// Deflate stream assignments out of the session's four persistent
// CompressionStreams contexts, per SPEC_FULL.md §4.C.1: Zlib and ZlibHex
// share stream 0 (neither is ever active on the same session at once as
// the other's rectangles, since only one encoding answers a given
// rectangle, but RFC 6143 pins them to stream 0 regardless); ZRLE and
// ZYWRLE share stream 3 likewise. Tight's three sub-streams are declared
// separately in encoding_tight.go.
const (
	zlibStreamID = 0
	zrleStreamID = 3
)

// serverEncodingPreference is the order selectEncoder falls back to only
// when no entry of the client's list has a registered encoder. Since the
// client list always contains Raw (its initial value before the first
// SetEncodings, and appended by applyEncodings when omitted), the client's
// own order always settles the choice in practice (SPEC_FULL.md §9); this
// list is a fallback, not a default override.
var serverEncodingPreference = []encodings.Encoding{
	encodings.Tight,
	encodings.TightPng,
	encodings.ZRLE,
	encodings.ZYWRLE,
	encodings.ZlibHex,
	encodings.Zlib,
	encodings.Hextile,
	encodings.CoRRE,
	encodings.RRE,
	encodings.Raw,
}

// SessionConfig carries the per-session settings a Server supplies when
// constructing a Session.
type SessionConfig struct {
	DesktopName         string
	Password            string // empty disables VNC-Authentication
	InitialQuality      int    // 0..9
	InitialCompression  int    // 0..9
	Events              *EventBus
	Metrics             *metrics.Metrics
}

// Session is one client connection driving the RFB state machine. Only
// its own goroutine (Run) touches its mutable fields after construction,
// except for the framebuffer's per-session dirty accounting, which is
// synchronized independently.
type Session struct {
	ID   uint64
	conn net.Conn
	r    *bufio.Reader
	fb   *Framebuffer

	desktopName string
	password    string
	events      *EventBus
	metrics     *metrics.Metrics

	mu    sync.Mutex
	state SessionState

	pf               PixelFormat
	clientEncodings  []encodings.Encoding // client's SetEncodings order; authoritative preference
	qualityLevel     int
	compressionLevel int

	streams      *CompressionStreams
	encoderTable map[encodings.Encoding]RegionEncoder

	viewport        Rectangle
	updateRequested bool

	cutText chan string
}

// NewSession constructs a session for an already-accepted (or dialed)
// connection. Call Run to drive it.
func NewSession(id uint64, conn net.Conn, fb *Framebuffer, cfg SessionConfig) *Session {
	s := &Session{
		ID:               id,
		conn:             conn,
		r:                bufio.NewReader(conn),
		fb:               fb,
		desktopName:      cfg.DesktopName,
		password:         cfg.Password,
		events:           cfg.Events,
		metrics:          cfg.Metrics,
		pf:               ServerPixelFormat(),
		qualityLevel:     cfg.InitialQuality,
		compressionLevel: cfg.InitialCompression,
		clientEncodings:  []encodings.Encoding{encodings.Raw},
		streams:          NewCompressionStreams(cfg.InitialCompression),
		cutText:          make(chan string, cutTextBacklog),
	}
	s.rebuildEncoderTable()
	return s
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// PushCutText enqueues a server-to-client clipboard broadcast for
// delivery on this session's own Run goroutine, which is the only
// goroutine allowed to write s.conn. A full backlog drops the push
// rather than blocking the caller (typically Server.SendCutText,
// iterating every live session).
func (s *Session) PushCutText(text string) {
	select {
	case s.cutText <- text:
	default:
		glog.Warningf("vnc: session %d: dropped cut-text broadcast, backlog full", s.ID)
	}
}

// Run drives the session to completion: handshake, then the message
// loop, until the connection closes, a protocol/auth error occurs, or
// ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	if err := s.handshake(); err != nil {
		glog.Warningf("vnc: session %d: handshake failed: %v", s.ID, err)
		s.setState(StateClosed)
		return
	}

	if s.metrics != nil {
		s.metrics.IncSessions()
		defer s.metrics.DecSessions()
	}

	notify := s.fb.Register(s.ID)
	defer s.fb.Unregister(s.ID)
	defer s.streams.Close()

	msgCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go s.readLoop(msgCh, errCh)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return

		case err := <-errCh:
			if err != io.EOF {
				glog.Warningf("vnc: session %d: %v", s.ID, err)
			}
			s.setState(StateClosed)
			return

		case msg := <-msgCh:
			if err := s.handleMessage(msg); err != nil {
				glog.Warningf("vnc: session %d: %v", s.ID, err)
				s.setState(StateClosed)
				return
			}
			if err := s.trySendUpdate(); err != nil {
				glog.Warningf("vnc: session %d: %v", s.ID, err)
				s.setState(StateClosed)
				return
			}

		case <-notify:
			if err := s.trySendUpdate(); err != nil {
				glog.Warningf("vnc: session %d: %v", s.ID, err)
				s.setState(StateClosed)
				return
			}

		case text := <-s.cutText:
			if err := s.sendServerCutText(text); err != nil {
				glog.Warningf("vnc: session %d: %v", s.ID, err)
				s.setState(StateClosed)
				return
			}
		}
	}
}

// --- Handshaking / Authenticating / Initializing -----------------------

func (s *Session) handshake() error {
	s.setState(StateHandshaking)

	if _, err := s.conn.Write([]byte("RFB 003.008\n")); err != nil {
		return NewTransportError("failed to write version", err)
	}
	clientVersion := make([]byte, 12)
	if _, err := io.ReadFull(s.r, clientVersion); err != nil {
		return NewTransportError("failed to read client version", err)
	}
	if !bytes.HasPrefix(clientVersion, []byte("RFB 003.")) {
		return NewProtocolError("unsupported client protocol version", nil)
	}

	secType := byte(secTypeNone)
	if s.password != "" {
		secType = secTypeVNCAuth
	}
	if _, err := s.conn.Write([]byte{1, secType}); err != nil {
		return NewTransportError("failed to write security types", err)
	}
	selected := make([]byte, 1)
	if _, err := io.ReadFull(s.r, selected); err != nil {
		return NewTransportError("failed to read selected security type", err)
	}
	if selected[0] != secType {
		s.sendSecurityResult(false, "unsupported security type")
		return NewProtocolError("client selected unsupported security type", nil)
	}

	s.setState(StateAuthenticating)
	if secType == secTypeVNCAuth {
		if err := s.authenticate(); err != nil {
			return err
		}
	} else {
		if err := s.sendSecurityResult(true, ""); err != nil {
			return err
		}
	}

	s.setState(StateInitializing)
	clientInit := make([]byte, 1)
	if _, err := io.ReadFull(s.r, clientInit); err != nil {
		return NewTransportError("failed to read ClientInit", err)
	}
	// shared-flag observed, not enforced: concurrent clients are always
	// permitted (SPEC_FULL.md §9 open question, resolved in DESIGN.md).

	if err := s.sendServerInit(); err != nil {
		return err
	}
	s.setState(StateRunning)
	return nil
}

func (s *Session) authenticate() error {
	challenge, err := NewChallenge()
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(challenge); err != nil {
		return NewTransportError("failed to write auth challenge", err)
	}
	response := make([]byte, 16)
	if _, err := io.ReadFull(s.r, response); err != nil {
		return NewTransportError("failed to read auth response", err)
	}
	ok, err := CheckResponse(s.password, challenge, response)
	if err != nil {
		return err
	}
	if !ok {
		s.sendSecurityResult(false, "Authentication failed")
		return NewAuthError("VNC authentication failed")
	}
	return s.sendSecurityResult(true, "")
}

func (s *Session) sendSecurityResult(ok bool, reason string) error {
	buf := NewBuffer(nil)
	if ok {
		if err := buf.Write(uint32(0)); err != nil {
			return err
		}
		_, err := s.conn.Write(buf.Bytes())
		return err
	}
	if err := buf.Write(uint32(1)); err != nil {
		return err
	}
	reasonBytes := []byte(reason)
	if err := buf.Write(uint32(len(reasonBytes))); err != nil {
		return err
	}
	if err := buf.Write(reasonBytes); err != nil {
		return err
	}
	_, err := s.conn.Write(buf.Bytes())
	return err
}

func (s *Session) sendServerInit() error {
	w, h := s.fb.Size()
	pfBytes, err := ServerPixelFormat().Marshal()
	if err != nil {
		return err
	}
	buf := NewBuffer(nil)
	if err := buf.Write(w); err != nil {
		return err
	}
	if err := buf.Write(h); err != nil {
		return err
	}
	if err := buf.Write(pfBytes); err != nil {
		return err
	}
	nameBytes := []byte(s.desktopName)
	if err := buf.Write(uint32(len(nameBytes))); err != nil {
		return err
	}
	if err := buf.Write(nameBytes); err != nil {
		return err
	}
	if _, err := s.conn.Write(buf.Bytes()); err != nil {
		return NewTransportError("failed to write ServerInit", err)
	}
	return nil
}

// --- Message loop --------------------------------------------------------

type setPixelFormatMsg struct{ pf PixelFormat }
type setEncodingsMsg struct{ list []encodings.Encoding }
type fbUpdateRequestMsg struct {
	incremental bool
	rect        Rectangle
}
type keyEventMsg struct {
	down   bool
	keysym uint32
}
type pointerEventMsg struct {
	mask uint8
	x, y uint16
}
type clientCutTextMsg struct{ text string }

func (s *Session) readLoop(msgCh chan<- interface{}, errCh chan<- error) {
	for {
		msg, n, err := s.readMessage()
		if err != nil {
			errCh <- err
			return
		}
		if s.metrics != nil {
			s.metrics.AddBytesRecv(n)
		}
		msgCh <- msg
	}
}

func (s *Session) readMessage() (interface{}, int, error) {
	typeBuf := make([]byte, 1)
	if _, err := io.ReadFull(s.r, typeBuf); err != nil {
		return nil, 0, NewTransportError("failed to read message type", err)
	}
	n := 1

	switch typeBuf[0] {
	case msgSetPixelFormat:
		body := make([]byte, 3+16)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return nil, n, NewTransportError("short SetPixelFormat", err)
		}
		n += len(body)
		pf, err := UnmarshalPixelFormat(body[3:])
		if err != nil {
			return nil, n, err
		}
		return setPixelFormatMsg{pf: pf}, n, nil

	case msgSetEncodings:
		head := make([]byte, 3)
		if _, err := io.ReadFull(s.r, head); err != nil {
			return nil, n, NewTransportError("short SetEncodings header", err)
		}
		n += len(head)
		count := int(head[1])<<8 | int(head[2])
		body := make([]byte, count*4)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return nil, n, NewTransportError("short SetEncodings body", err)
		}
		n += len(body)
		list := make([]encodings.Encoding, count)
		for i := 0; i < count; i++ {
			v := int32(body[i*4])<<24 | int32(body[i*4+1])<<16 | int32(body[i*4+2])<<8 | int32(body[i*4+3])
			list[i] = encodings.Encoding(v)
		}
		return setEncodingsMsg{list: list}, n, nil

	case msgFramebufferUpdateRequest:
		body := make([]byte, 9)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return nil, n, NewTransportError("short FramebufferUpdateRequest", err)
		}
		n += len(body)
		rect := Rectangle{
			X:      uint16(body[1])<<8 | uint16(body[2]),
			Y:      uint16(body[3])<<8 | uint16(body[4]),
			Width:  uint16(body[5])<<8 | uint16(body[6]),
			Height: uint16(body[7])<<8 | uint16(body[8]),
		}
		return fbUpdateRequestMsg{incremental: body[0] != 0, rect: rect}, n, nil

	case msgKeyEvent:
		body := make([]byte, 7)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return nil, n, NewTransportError("short KeyEvent", err)
		}
		n += len(body)
		keysym := uint32(body[3])<<24 | uint32(body[4])<<16 | uint32(body[5])<<8 | uint32(body[6])
		return keyEventMsg{down: body[0] != 0, keysym: keysym}, n, nil

	case msgPointerEvent:
		body := make([]byte, 5)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return nil, n, NewTransportError("short PointerEvent", err)
		}
		n += len(body)
		x := uint16(body[1])<<8 | uint16(body[2])
		y := uint16(body[3])<<8 | uint16(body[4])
		return pointerEventMsg{mask: body[0], x: x, y: y}, n, nil

	case msgClientCutText:
		head := make([]byte, 7)
		if _, err := io.ReadFull(s.r, head); err != nil {
			return nil, n, NewTransportError("short ClientCutText header", err)
		}
		n += len(head)
		length := uint32(head[3])<<24 | uint32(head[4])<<16 | uint32(head[5])<<8 | uint32(head[6])
		text := make([]byte, length)
		if _, err := io.ReadFull(s.r, text); err != nil {
			return nil, n, NewTransportError("short ClientCutText body", err)
		}
		n += len(text)
		return clientCutTextMsg{text: string(text)}, n, nil

	default:
		return nil, n, NewProtocolError("unknown client message type", nil)
	}
}

func (s *Session) handleMessage(msg interface{}) error {
	switch m := msg.(type) {
	case setPixelFormatMsg:
		s.pf = m.pf
		return nil

	case setEncodingsMsg:
		s.applyEncodings(m.list)
		return nil

	case fbUpdateRequestMsg:
		s.viewport = m.rect
		s.updateRequested = true
		if !m.incremental {
			s.fb.MarkDirtyFor(s.ID, m.rect)
		}
		return nil

	case keyEventMsg:
		if s.events != nil {
			s.events.Publish(Event{SessionID: s.ID, Kind: EventKeyEvent, KeyDown: m.down, Keysym: m.keysym})
		}
		return nil

	case pointerEventMsg:
		if s.events != nil {
			s.events.Publish(Event{SessionID: s.ID, Kind: EventPointerEvent, ButtonMask: m.mask, X: m.x, Y: m.y})
		}
		return nil

	case clientCutTextMsg:
		if s.events != nil {
			s.events.Publish(Event{SessionID: s.ID, Kind: EventClipboard, Text: m.text})
		}
		return nil

	default:
		return NewProtocolError("unrecognized decoded message", nil)
	}
}

// applyEncodings replaces the client's encoding list, extracting the
// quality-level and compression-level pseudo-encodings and silently
// dropping anything else unrecognized (SPEC_FULL.md §4.E). The order of
// region-encoding entries is preserved: it is the client's own priority,
// authoritative over the server's tie-break order (SPEC_FULL.md §9).
func (s *Session) applyEncodings(list []encodings.Encoding) {
	real := make([]encodings.Encoding, 0, len(list)+1)
	haveRaw := false

	for _, e := range list {
		if level, ok := encodings.IsQualityLevel(e); ok {
			s.qualityLevel = level
			continue
		}
		if level, ok := encodings.IsCompressionLevel(e); ok {
			s.compressionLevel = level
			continue
		}
		switch e {
		case encodings.Raw, encodings.CopyRect, encodings.RRE, encodings.CoRRE,
			encodings.Hextile, encodings.Zlib, encodings.Tight, encodings.ZlibHex,
			encodings.ZRLE, encodings.ZYWRLE, encodings.TightPng:
			real = append(real, e)
			if e == encodings.Raw {
				haveRaw = true
			}
		}
		// other pseudo-encodings (cursor, desktop-size, fence, ...) are
		// acknowledged by being parsed but otherwise ignored: those
		// features are out of scope.
	}
	if !haveRaw {
		// Raw is every client's mandatory fallback even if omitted from
		// the request (RFC 6143 §7.7.1); keep it last so it never
		// out-ranks something the client actually asked for.
		real = append(real, encodings.Raw)
	}

	s.clientEncodings = real
	s.streams.SetLevel(s.compressionLevel)
	s.rebuildEncoderTable()
}

func (s *Session) rebuildEncoderTable() {
	s.encoderTable = map[encodings.Encoding]RegionEncoder{
		encodings.Raw:     RawEncoder{},
		encodings.RRE:     RREEncoder{},
		encodings.CoRRE:   CoRREEncoder{},
		encodings.Hextile: HextileEncoder{},
		encodings.Zlib:    &ZlibEncoder{Streams: s.streams, StreamID: zlibStreamID},
		encodings.ZlibHex: &ZlibHexEncoder{Streams: s.streams, StreamID: zlibStreamID},
		encodings.ZRLE:    &ZRLEEncoder{Streams: s.streams, StreamID: zrleStreamID},
		encodings.ZYWRLE:  NewZYWRLEEncoder(s.streams, zrleStreamID, s.qualityLevel),
		encodings.Tight:   &TightEncoder{Streams: s.streams, QualityLevel: s.qualityLevel},
		encodings.TightPng: &TightPngEncoder{QualityLevel: s.qualityLevel},
	}
}

// selectEncoder picks the client's most-preferred usable encoding for
// rect, honoring CoRRE's 255x255 size ceiling, and only consults the
// server's own tie-break order as a fallback (SPEC_FULL.md §9).
func (s *Session) selectEncoder(rect Rectangle) RegionEncoder {
	for _, e := range s.clientEncodings {
		if e == encodings.CoRRE && (rect.Width > 255 || rect.Height > 255) {
			continue
		}
		if enc, ok := s.encoderTable[e]; ok {
			return enc
		}
	}
	for _, p := range serverEncodingPreference {
		if p == encodings.CoRRE && (rect.Width > 255 || rect.Height > 255) {
			continue
		}
		if enc, ok := s.encoderTable[p]; ok {
			return enc
		}
	}
	return s.encoderTable[encodings.Raw]
}

// --- Update cadence -------------------------------------------------------

func rectHeader(rect Rectangle, enc encodings.Encoding) []byte {
	buf := NewBuffer(nil)
	buf.Write(rect.X)
	buf.Write(rect.Y)
	buf.Write(rect.Width)
	buf.Write(rect.Height)
	buf.Write(int32(enc))
	return buf.Bytes()
}

// extractSubRegion returns the pixel bytes for clipped, a sub-rectangle
// of region.Rect, out of region's already-extracted pixel buffer.
func extractSubRegion(region DirtyRegion, clipped Rectangle) []byte {
	if clipped == region.Rect {
		return region.Pixels
	}
	dx := clipped.X - region.Rect.X
	dy := clipped.Y - region.Rect.Y
	out := make([]byte, clipped.Area()*4)
	rowBytes := int(clipped.Width) * 4
	for row := uint16(0); row < clipped.Height; row++ {
		srcOff := (int(dy+row)*int(region.Rect.Width) + int(dx)) * 4
		copy(out[int(row)*rowBytes:int(row)*rowBytes+rowBytes], region.Pixels[srcOff:srcOff+rowBytes])
	}
	return out
}

// trySendUpdate sends a FramebufferUpdate if a request is outstanding
// and the framebuffer has work for this session, per the update cadence
// in SPEC_FULL.md §4.E: scheduled copies first, then dirty rectangles
// clipped to the requested viewport.
func (s *Session) trySendUpdate() error {
	if !s.updateRequested {
		return nil
	}
	snap, err := s.fb.SnapshotFor(s.ID)
	if err != nil {
		return err
	}
	if snap.Empty() {
		return nil
	}

	var rects [][]byte
	for _, op := range snap.Copies {
		body, err := CopyRectEncoder{}.EncodeCopyRect(op.SrcX, op.SrcY)
		if err != nil {
			return err
		}
		rects = append(rects, append(rectHeader(op.Dst, encodings.CopyRect), body...))
	}
	for _, region := range snap.Regions {
		clipped := region.Rect.Intersect(s.viewport)
		if clipped.Empty() {
			continue
		}
		pixels := extractSubRegion(region, clipped)
		enc := s.selectEncoder(clipped)
		body, err := enc.Encode(clipped, pixels, s.pf)
		if err != nil {
			return err
		}
		rects = append(rects, append(rectHeader(clipped, enc.Type()), body...))
	}

	if len(rects) == 0 {
		// Only geometry-change notice was pending; desktop-size
		// pseudo-encoding is out of scope, so there is nothing more to
		// send until real pixel work arrives.
		return nil
	}

	if err := s.sendFramebufferUpdate(rects); err != nil {
		return err
	}
	s.updateRequested = false
	if s.metrics != nil {
		s.metrics.IncUpdatesSent()
	}
	return nil
}

func (s *Session) sendFramebufferUpdate(rects [][]byte) error {
	msg := NewBuffer(nil)
	if err := msg.WriteByte(0); err != nil {
		return err
	}
	if err := msg.WriteByte(0); err != nil {
		return err
	}
	if err := msg.Write(uint16(len(rects))); err != nil {
		return err
	}
	for _, r := range rects {
		if err := msg.Write(r); err != nil {
			return err
		}
	}
	data := msg.Bytes()
	if _, err := s.conn.Write(data); err != nil {
		return NewTransportError("failed to write FramebufferUpdate", err)
	}
	if s.metrics != nil {
		s.metrics.AddBytesSent(len(data))
	}
	return nil
}

// sendServerCutText implements ServerCutText, RFC 6143 §7.6.4: a message
// type byte, 3 padding bytes, a uint32 length, then the text itself.
func (s *Session) sendServerCutText(text string) error {
	textBytes := []byte(text)
	buf := NewBuffer(nil)
	if err := buf.WriteByte(msgServerCutText); err != nil {
		return err
	}
	if err := buf.Write(make([]byte, 3)); err != nil {
		return err
	}
	if err := buf.Write(uint32(len(textBytes))); err != nil {
		return err
	}
	if err := buf.Write(textBytes); err != nil {
		return err
	}
	data := buf.Bytes()
	if _, err := s.conn.Write(data); err != nil {
		return NewTransportError("failed to write ServerCutText", err)
	}
	if s.metrics != nil {
		s.metrics.AddBytesSent(len(data))
	}
	return nil
}
