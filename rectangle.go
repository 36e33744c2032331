package vnc

// Rectangle is an RFB rectangle: (x, y, width, height), all 16-bit unsigned
// on the wire. See RFC 6143 §7.4.
type Rectangle struct {
	X, Y          uint16
	Width, Height uint16
}

// Area returns width*height as an int, safe for slice indexing.
func (r Rectangle) Area() int { return int(r.Width) * int(r.Height) }

// Empty reports whether the rectangle has zero area; zero-area rectangles
// are never transmitted per SPEC_FULL.md §3.
func (r Rectangle) Empty() bool { return r.Width == 0 || r.Height == 0 }

// Marshal writes the four 16-bit fields big-endian, the header shared by
// every rectangle-carrying wire structure.
func (r Rectangle) Marshal() ([]byte, error) {
	buf := NewBuffer(nil)
	if err := buf.Write(r.X); err != nil {
		return nil, err
	}
	if err := buf.Write(r.Y); err != nil {
		return nil, err
	}
	if err := buf.Write(r.Width); err != nil {
		return nil, err
	}
	if err := buf.Write(r.Height); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Intersect returns the overlap of r and o, which may be empty.
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	x0, y0 := max16(r.X, o.X), max16(r.Y, o.Y)
	x1, y1 := min16(r.X+r.Width, o.X+o.Width), min16(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rectangle{}
	}
	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Clip returns r clipped to a 0,0 - w,h bounding box.
func (r Rectangle) Clip(w, h uint16) Rectangle {
	return r.Intersect(Rectangle{Width: w, Height: h})
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

// CopyRectOp represents "the pixels currently at SrcX,SrcY..+(W,H) are now
// at Dst". See SPEC_FULL.md §3.
type CopyRectOp struct {
	Dst        Rectangle
	SrcX, SrcY uint16
}
