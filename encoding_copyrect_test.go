package vnc

import (
	"bytes"
	"testing"

	"github.com/dustinmcafee/rustvncserver/encodings"
)

func TestCopyRectEncodeGoldenBytes(t *testing.T) {
	body, err := CopyRectEncoder{}.EncodeCopyRect(0x0102, 0x0304)
	if err != nil {
		t.Fatalf("EncodeCopyRect: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(body, want) {
		t.Errorf("got %x, want %x", body, want)
	}
}

func TestCopyRectType(t *testing.T) {
	if CopyRectEncoder{}.Type() != encodings.CopyRect {
		t.Errorf("Type() = %v, want encodings.CopyRect", CopyRectEncoder{}.Type())
	}
}
