package vnc

import (
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 8192
	wsWriteBufferSize = 16384
)

// wsConn adapts a *websocket.Conn into the net.Conn shape Session expects,
// so a browser-facing WebSocket transport can drive the exact same RFB
// state machine used for plain TCP connections instead of a separate
// relay pipeline. Each Read drains one inbound binary message at a time,
// buffering any leftover bytes for the next call, since RFB's byte stream
// does not align with WebSocket message boundaries.
type wsConn struct {
	ws   *websocket.Conn
	rest []byte
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.rest = data
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error         { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// isAllowedOrigin reports whether a WebSocket handshake's Origin header
// may proceed. Absent an ALLOWED_ORIGINS environment variable, only
// localhost-style origins are accepted (development default); when set,
// it is a comma-separated allow-list, with localhost always permitted
// regardless for local debugging against a remote server.
func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	normalized := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://"), "/")

	if strings.HasPrefix(normalized, "localhost") || strings.HasPrefix(normalized, "127.0.0.1") {
		return true
	}
	allowed := os.Getenv("ALLOWED_ORIGINS")
	if allowed == "" {
		return false
	}
	for _, entry := range strings.Split(allowed, ",") {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}
		if candidate == origin || candidate == normalized ||
			strings.TrimPrefix(candidate, "http://") == normalized ||
			strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}
	return false
}

// ListenWebSocket serves RFB-over-WebSocket on addr: each upgraded
// connection is wrapped and handed to the same session machinery used
// for plain TCP, per SPEC_FULL.md §6/§4.F.
func (s *Server) ListenWebSocket(addr string) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r.Header.Get("Origin"))
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			glog.Warningf("vnc: websocket upgrade failed: %v", err)
			return
		}
		if !s.acceptLimiter.allow(remoteIP(ws.RemoteAddr())) {
			glog.Warningf("vnc: rejecting websocket connection from %s: accept rate exceeded", ws.RemoteAddr())
			ws.Close()
			return
		}
		g, gctx := s.group0()
		g.Go(func() error { return s.runSession(gctx, newWSConn(ws)) })
	})

	glog.Infof("vnc: websocket listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		return NewTransportError("websocket listen failed", err)
	}
	return nil
}
