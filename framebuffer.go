package vnc

import "sync"

// perSessionDirty is the per-session dirty-rectangle and pending-copy
// accounting described in SPEC_FULL.md §4.D/§5: each session's view is
// cleared independently by its own SnapshotFor call, never by another
// session's.
type perSessionDirty struct {
	mu            sync.Mutex
	dirty         []Rectangle
	copies        []CopyRectOp
	needsGeometry bool
	notify        chan struct{}
}

func (s *perSessionDirty) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// DirtyRegion pairs a clipped dirty rectangle with a private copy of the
// pixels under it, taken while the framebuffer's read lock was held. It is
// safe to retain across a socket write.
type DirtyRegion struct {
	Rect   Rectangle
	Pixels []byte // row-major RGBA32, Rect.Width*Rect.Height*4 bytes
}

// Snapshot is what SnapshotFor hands to a session: its outstanding pending
// copies and dirty regions, plus current geometry.
type Snapshot struct {
	Width, Height uint16
	NeedsGeometry bool
	Copies        []CopyRectOp
	Regions       []DirtyRegion
}

// Empty reports whether there is nothing to send.
func (s *Snapshot) Empty() bool {
	return len(s.Copies) == 0 && len(s.Regions) == 0 && !s.NeedsGeometry
}

// Framebuffer is the server's shared framebuffer: current pixels, the
// producer's dirty/copy bookkeeping fanned out per-session. See
// SPEC_FULL.md §3/§4.D/§5.
type Framebuffer struct {
	mu     sync.RWMutex
	width  uint16
	height uint16
	pix    []byte // width*height*4 bytes, RGBA32 row-major

	copyMu        sync.Mutex
	pendingCopies []CopyRectOp

	sessMu   sync.Mutex
	sessions map[uint64]*perSessionDirty
}

// NewFramebuffer creates a framebuffer of the given dimensions, zero
// initialized. Width and height must each be >0 and <=65535.
func NewFramebuffer(width, height uint16) *Framebuffer {
	return &Framebuffer{
		width:    width,
		height:   height,
		pix:      make([]byte, int(width)*int(height)*4),
		sessions: make(map[uint64]*perSessionDirty),
	}
}

// Size returns the current framebuffer dimensions.
func (fb *Framebuffer) Size() (uint16, uint16) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.width, fb.height
}

// Register adds a new session to the fan-out set and returns a channel
// that receives a wakeup whenever new dirty state is fanned out to this
// session, so the session task can block on it instead of polling. Must
// be called before the session's first SnapshotFor. Sessions registered
// after a CommitCopies call do not receive copies committed before
// registration, per SPEC_FULL.md §4.D/§9 — they will see the equivalent
// pixels as dirty rectangles instead, since registration starts with an
// empty dirty set and any subsequent Update/CommitCopies populates it
// normally.
func (fb *Framebuffer) Register(id uint64) <-chan struct{} {
	fb.sessMu.Lock()
	defer fb.sessMu.Unlock()
	s := &perSessionDirty{notify: make(chan struct{}, 1)}
	fb.sessions[id] = s
	return s.notify
}

// Unregister removes a session from the fan-out set.
func (fb *Framebuffer) Unregister(id uint64) {
	fb.sessMu.Lock()
	defer fb.sessMu.Unlock()
	delete(fb.sessions, id)
}

func (fb *Framebuffer) fanOutDirty(rect Rectangle) {
	fb.sessMu.Lock()
	defer fb.sessMu.Unlock()
	for _, s := range fb.sessions {
		s.mu.Lock()
		s.dirty = append(s.dirty, rect)
		s.mu.Unlock()
		s.wake()
	}
}

// Update copies data into the framebuffer at (x,y,w,h), clipping to the
// current dimensions, and marks the clipped rectangle dirty for every
// session. A rectangle fully outside the framebuffer is a silent no-op per
// SPEC_FULL.md §7 (caller contract violations are clipped, not errored).
func (fb *Framebuffer) Update(data []byte, x, y, w, h uint16) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	req := Rectangle{X: x, Y: y, Width: w, Height: h}
	clipped := req.Clip(fb.width, fb.height)
	if clipped.Empty() {
		return nil
	}
	if len(data) < int(w)*int(h)*4 {
		return NewResourceError("update: pixel data shorter than w*h*4", nil)
	}

	dx := clipped.X - x
	dy := clipped.Y - y
	rowBytes := int(clipped.Width) * 4
	for row := uint16(0); row < clipped.Height; row++ {
		srcOff := (int(dy+row)*int(w) + int(dx)) * 4
		dstOff := (int(clipped.Y+row)*int(fb.width) + int(clipped.X)) * 4
		copy(fb.pix[dstOff:dstOff+rowBytes], data[srcOff:srcOff+rowBytes])
	}

	fb.fanOutDirty(clipped)
	return nil
}

// Resize reallocates the framebuffer to w*h*4 bytes, zero-initialized,
// clears all dirty/copy state, and flags every session to re-announce
// geometry at its next update. Per SPEC_FULL.md §7 a zero dimension is
// rejected as a no-op.
func (fb *Framebuffer) Resize(w, h uint16) error {
	if w == 0 || h == 0 {
		return nil
	}

	fb.mu.Lock()
	fb.width = w
	fb.height = h
	fb.pix = make([]byte, int(w)*int(h)*4)
	fb.mu.Unlock()

	fb.copyMu.Lock()
	fb.pendingCopies = nil
	fb.copyMu.Unlock()

	fb.sessMu.Lock()
	for _, s := range fb.sessions {
		s.mu.Lock()
		s.dirty = nil
		s.copies = nil
		s.needsGeometry = true
		s.mu.Unlock()
	}
	fb.sessMu.Unlock()
	return nil
}

// clampCopyDims fits a requested copy-rect op inside fbw x fbh, shrinking
// width/height so both source and destination stay fully inside the
// framebuffer (SPEC_FULL.md §3 invariant). ok is false if the op has no
// valid area once clamped.
func clampCopyDims(srcX, srcY, dstX, dstY, w, h int32, fbw, fbh uint16) (op CopyRectOp, ok bool) {
	if w <= 0 || h <= 0 {
		return CopyRectOp{}, false
	}
	if srcX < 0 || srcY < 0 || dstX < 0 || dstY < 0 {
		return CopyRectOp{}, false
	}
	if srcX >= int32(fbw) || srcY >= int32(fbh) || dstX >= int32(fbw) || dstY >= int32(fbh) {
		return CopyRectOp{}, false
	}
	maxW := int32(fbw) - srcX
	if t := int32(fbw) - dstX; t < maxW {
		maxW = t
	}
	maxH := int32(fbh) - srcY
	if t := int32(fbh) - dstY; t < maxH {
		maxH = t
	}
	if maxW <= 0 || maxH <= 0 {
		return CopyRectOp{}, false
	}
	if w > maxW {
		w = maxW
	}
	if h > maxH {
		h = maxH
	}
	return CopyRectOp{
		Dst:  Rectangle{X: uint16(dstX), Y: uint16(dstY), Width: uint16(w), Height: uint16(h)},
		SrcX: uint16(srcX), SrcY: uint16(srcY),
	}, true
}

// ScheduleCopy queues a copy-rect operation; it does not touch pixels
// until CommitCopies runs. See SPEC_FULL.md §4.D.
func (fb *Framebuffer) ScheduleCopy(srcX, srcY, w, h, dstX, dstY int32) {
	fb.mu.RLock()
	fbw, fbh := fb.width, fb.height
	fb.mu.RUnlock()

	op, ok := clampCopyDims(srcX, srcY, dstX, dstY, w, h, fbw, fbh)
	if !ok {
		return
	}
	fb.copyMu.Lock()
	fb.pendingCopies = append(fb.pendingCopies, op)
	fb.copyMu.Unlock()
}

// extractRect copies the pixels under rect out of pix (row-major, width
// fbw) into a freshly allocated buffer.
func extractRect(pix []byte, fbw uint16, rect Rectangle) []byte {
	out := make([]byte, rect.Area()*4)
	rowBytes := int(rect.Width) * 4
	for row := uint16(0); row < rect.Height; row++ {
		srcOff := (int(rect.Y+row)*int(fbw) + int(rect.X)) * 4
		copy(out[int(row)*rowBytes:int(row)*rowBytes+rowBytes], pix[srcOff:srcOff+rowBytes])
	}
	return out
}

// writeRect is the inverse of extractRect.
func writeRect(pix []byte, fbw uint16, rect Rectangle, data []byte) {
	rowBytes := int(rect.Width) * 4
	for row := uint16(0); row < rect.Height; row++ {
		dstOff := (int(rect.Y+row)*int(fbw) + int(rect.X)) * 4
		copy(pix[dstOff:dstOff+rowBytes], data[int(row)*rowBytes:int(row)*rowBytes+rowBytes])
	}
}

// CommitCopies applies every queued copy-rect op to the pixel buffer, adds
// each destination rect to the dirty set, and fans the op list out to
// every currently-registered session's pending-copy list exactly once.
func (fb *Framebuffer) CommitCopies() {
	fb.copyMu.Lock()
	ops := fb.pendingCopies
	fb.pendingCopies = nil
	fb.copyMu.Unlock()
	if len(ops) == 0 {
		return
	}

	fb.mu.Lock()
	for _, op := range ops {
		src := extractRect(fb.pix, fb.width, Rectangle{X: op.SrcX, Y: op.SrcY, Width: op.Dst.Width, Height: op.Dst.Height})
		writeRect(fb.pix, fb.width, op.Dst, src)
	}
	fb.mu.Unlock()

	fb.sessMu.Lock()
	for _, s := range fb.sessions {
		s.mu.Lock()
		s.copies = append(s.copies, ops...)
		for _, op := range ops {
			s.dirty = append(s.dirty, op.Dst)
		}
		s.mu.Unlock()
		s.wake()
	}
	fb.sessMu.Unlock()
}

// SnapshotFor atomically takes and clears a session's dirty-rect set and
// pending-copy list, returning them with a private, immutable copy of the
// affected pixels. After this call the session's pending work is empty
// until the next Update/CommitCopies (SPEC_FULL.md §4.D invariant).
func (fb *Framebuffer) SnapshotFor(id uint64) (*Snapshot, error) {
	fb.sessMu.Lock()
	s, ok := fb.sessions[id]
	fb.sessMu.Unlock()
	if !ok {
		return nil, NewResourceError("snapshot_for: unknown session", nil)
	}

	s.mu.Lock()
	dirty := s.dirty
	s.dirty = nil
	copies := s.copies
	s.copies = nil
	needsGeometry := s.needsGeometry
	s.needsGeometry = false
	s.mu.Unlock()

	fb.mu.RLock()
	defer fb.mu.RUnlock()

	regions := make([]DirtyRegion, 0, len(dirty))
	for _, r := range dirty {
		clipped := r.Clip(fb.width, fb.height)
		if clipped.Empty() {
			continue
		}
		regions = append(regions, DirtyRegion{Rect: clipped, Pixels: extractRect(fb.pix, fb.width, clipped)})
	}

	return &Snapshot{
		Width: fb.width, Height: fb.height,
		NeedsGeometry: needsGeometry,
		Copies:        copies,
		Regions:       regions,
	}, nil
}

// MarkDirtyFor adds rect directly to one session's dirty set, used by
// FramebufferUpdateRequest(incremental=0) per SPEC_FULL.md §4.E.
func (fb *Framebuffer) MarkDirtyFor(id uint64, rect Rectangle) {
	fb.sessMu.Lock()
	s, ok := fb.sessions[id]
	fb.sessMu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.dirty = append(s.dirty, rect)
	s.mu.Unlock()
	s.wake()
}
