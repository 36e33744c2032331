package vnc

import "github.com/dustinmcafee/rustvncserver/encodings"

// CopyRectEncoder implements the CopyRect encoding. It does not satisfy
// RegionEncoder — its body is the source coordinates, not translated
// pixels — so the session message loop calls EncodeCopyRect directly for
// queued CopyRectOps instead of going through the generic encoder table.
type CopyRectEncoder struct{}

func (CopyRectEncoder) Type() encodings.Encoding { return encodings.CopyRect }

// EncodeCopyRect renders the 4-byte src-x,src-y body of a CopyRect
// rectangle.
func (CopyRectEncoder) EncodeCopyRect(srcX, srcY uint16) ([]byte, error) {
	buf := NewBuffer(nil)
	if err := buf.Write(srcX); err != nil {
		return nil, err
	}
	if err := buf.Write(srcY); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
