package vnc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dustinmcafee/rustvncserver/internal/metrics"
)

// repeaterIDBlockSize is the UltraVNC Mode-2 repeater ID block: a fixed
// 250-byte field, the ID as ASCII zero-padded, sent before the RFB
// handshake begins. See SPEC_FULL.md §4.E.
const repeaterIDBlockSize = 250

// Server owns the shared framebuffer, event bus, and metrics for one VNC
// desktop, and drives however many sessions are concurrently attached to
// it — accepted over plain TCP, dialed out in reverse mode, dialed via an
// UltraVNC repeater, or bridged in over WebSocket. See SPEC_FULL.md §4.F.
type Server struct {
	cfg *Config
	fb  *Framebuffer

	events  *EventBus
	metrics *metrics.Metrics

	acceptLimiter *connRateLimiter

	mu       sync.Mutex
	nextID   uint64
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	listener net.Listener

	sessMu   sync.Mutex
	sessions map[uint64]*Session
}

// New constructs a Server with a freshly allocated width x height
// framebuffer, per the embedding API's new(width, height) operation.
func New(cfg *Config) *Server {
	m := metrics.New()
	return &Server{
		cfg:           cfg,
		fb:            NewFramebuffer(uint16(cfg.Width), uint16(cfg.Height)),
		events:        NewEventBus(256, m),
		metrics:       m,
		acceptLimiter: newConnRateLimiter(rate.Limit(cfg.AcceptRatePerSec), cfg.AcceptBurst),
		sessions:      make(map[uint64]*Session),
	}
}

func (s *Server) allocID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Server) sessionConfig() SessionConfig {
	return SessionConfig{
		DesktopName:        s.cfg.DesktopName,
		Password:           s.cfg.Password,
		InitialQuality:     s.cfg.InitialQuality,
		InitialCompression: s.cfg.InitialCompression,
		Events:             s.events,
		Metrics:            s.metrics,
	}
}

func (s *Server) group0() (*errgroup.Group, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		ctx, cancel := context.WithCancel(context.Background())
		g, gctx := errgroup.WithContext(ctx)
		s.cancel = cancel
		s.group = g
		s.groupCtx = gctx
	}
	return s.group, s.groupCtx
}

// runSession runs a session to completion inside the server's errgroup,
// never returning an error itself: one session's failure must not cancel
// every other session's goroutine, so errors are logged, not propagated.
func (s *Server) runSession(ctx context.Context, conn net.Conn) error {
	sess := NewSession(s.allocID(), conn, s.fb, s.sessionConfig())
	s.registerSession(sess)
	defer s.unregisterSession(sess.ID)
	sess.Run(ctx)
	return nil
}

func (s *Server) registerSession(sess *Session) {
	s.sessMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessMu.Unlock()
}

func (s *Server) unregisterSession(id uint64) {
	s.sessMu.Lock()
	delete(s.sessions, id)
	s.sessMu.Unlock()
}

// Listen accepts plain-TCP RFB connections on addr until Stop is called
// or the listener fails. It blocks until the listener stops.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return NewTransportError("listen failed", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	g, gctx := s.group0()
	glog.Infof("vnc: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			return NewTransportError("accept failed", err)
		}
		if !s.acceptLimiter.allow(remoteIP(conn.RemoteAddr())) {
			glog.Warningf("vnc: rejecting connection from %s: accept rate exceeded", conn.RemoteAddr())
			conn.Close()
			continue
		}
		g.Go(func() error { return s.runSession(gctx, conn) })
	}
}

// ConnectReverse dials host:port and, once connected, drives the RFB
// state machine exactly as for an accepted connection: the distinction
// between "listener" and "reverse connection" is only in which side
// dialed, not in protocol behavior. See SPEC_FULL.md §4.E.
func (s *Server) ConnectReverse(hostport string) error {
	conn, err := net.Dial("tcp", hostport)
	if err != nil {
		return NewTransportError("reverse connect failed", err)
	}
	g, gctx := s.group0()
	g.Go(func() error { return s.runSession(gctx, conn) })
	return nil
}

// ConnectRepeater dials an UltraVNC Mode-2 repeater at hostport, sends
// the 250-byte zero-padded ID block identifying which desktop to bind to,
// then drives the session exactly as any other connection.
func (s *Server) ConnectRepeater(hostport, id string) error {
	conn, err := net.Dial("tcp", hostport)
	if err != nil {
		return NewTransportError("repeater connect failed", err)
	}
	block := make([]byte, repeaterIDBlockSize)
	copy(block, []byte(id))
	if _, err := conn.Write(block); err != nil {
		conn.Close()
		return NewTransportError("repeater ID block write failed", err)
	}
	g, gctx := s.group0()
	g.Go(func() error { return s.runSession(gctx, conn) })
	return nil
}

// UpdateFramebuffer implements update_framebuffer(data, x, y, w, h).
func (s *Server) UpdateFramebuffer(data []byte, x, y, w, h uint16) error {
	return s.fb.Update(data, x, y, w, h)
}

// ResizeFramebuffer implements resize_framebuffer(w, h).
func (s *Server) ResizeFramebuffer(w, h uint16) error {
	return s.fb.Resize(w, h)
}

// ScheduleCopyRect implements schedule_copy_rect(x, y, w, h, dx, dy).
func (s *Server) ScheduleCopyRect(srcX, srcY, w, h, dstX, dstY int32) {
	s.fb.ScheduleCopy(srcX, srcY, w, h, dstX, dstY)
}

// CommitCopyRects implements commit_copy_rects().
func (s *Server) CommitCopyRects() {
	s.fb.CommitCopies()
}

// SendCutText implements send_cut_text(text): broadcasts the clipboard
// to every currently connected client. Delivery is best-effort per
// session, matching EventBus's own drop-on-backpressure policy, since a
// slow or wedged client must never block the broadcaster.
func (s *Server) SendCutText(text string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for _, sess := range s.sessions {
		sess.PushCutText(text)
	}
	return nil
}

// PollEvents implements poll_events().
func (s *Server) PollEvents() []Event {
	return s.events.PollEvents()
}

// Metrics returns a snapshot of the server's runtime counters.
func (s *Server) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Stop implements stop(): cancels every running session's context and
// closes the listener (if any), then returns once the listener itself
// has unwound. It does not wait for every session goroutine to finish —
// callers that need that should track the errgroup externally via Wait,
// which Stop does not expose because sessions deliberately never return
// errors into it (see runSession).
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// connRateLimiter is ratelimit.RateLimiter adapted from HTTP requests to
// raw TCP connections: keyed on remote IP, same per-visitor token bucket
// and idle-eviction sweep.
type connRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*connVisitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type connVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnRateLimiter(r rate.Limit, burst int) *connRateLimiter {
	rl := &connRateLimiter{
		visitors: make(map[string]*connVisitor),
		rate:     r,
		burst:    burst,
		idle:     3 * time.Minute,
	}
	go rl.sweepLoop()
	return rl
}

func (rl *connRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &connVisitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

func (rl *connRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.idle {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// remoteIP strips the port off a remote address.
func remoteIP(addr net.Addr) string {
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
