package vnc

import "fmt"

// ErrorKind classifies a VNCError per the error taxonomy in SPEC_FULL.md §7.
type ErrorKind int

const (
	// KindTransport covers socket closed, partial read, write failure.
	KindTransport ErrorKind = iota
	// KindProtocol covers malformed messages, unknown message types,
	// impossible lengths, security negotiation mismatches.
	KindProtocol
	// KindAuth covers VNC-Authentication challenge/response failure.
	KindAuth
	// KindResource covers allocation failure, deflate stream errors.
	KindResource
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// VNCError is the error type returned for all session-closing faults. Kind
// lets callers (and tests) distinguish transport failures, which are never
// the session's fault, from protocol and auth failures that warrant a
// logged diagnostic.
type VNCError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *VNCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vnc: %s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("vnc: %s: %s", e.Kind, e.Msg)
}

func (e *VNCError) Unwrap() error { return e.Err }

// NewVNCError returns a protocol-kind error with the given message, the
// default kind used by the teacher's NewVNCError helper.
func NewVNCError(msg string) error {
	return &VNCError{Kind: KindProtocol, Msg: msg}
}

// Errorf formats a protocol-kind error.
func Errorf(format string, a ...interface{}) error {
	return &VNCError{Kind: KindProtocol, Msg: fmt.Sprintf(format, a...)}
}

// NewTransportError wraps a socket-layer error.
func NewTransportError(msg string, err error) error {
	return &VNCError{Kind: KindTransport, Msg: msg, Err: err}
}

// NewProtocolError wraps a malformed-message error.
func NewProtocolError(msg string, err error) error {
	return &VNCError{Kind: KindProtocol, Msg: msg, Err: err}
}

// NewAuthError wraps a VNC-Authentication failure.
func NewAuthError(msg string) error {
	return &VNCError{Kind: KindAuth, Msg: msg}
}

// NewResourceError wraps an allocation or compression-stream error.
func NewResourceError(msg string, err error) error {
	return &VNCError{Kind: KindResource, Msg: msg, Err: err}
}
