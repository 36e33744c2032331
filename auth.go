package vnc

import (
	"crypto/des"
	"crypto/rand"
	"crypto/subtle"
)

// fixDESKeyByte mirrors the bits of a key byte. VNC-Authentication's DES
// key schedule is derived from the password with each byte bit-reversed
// — undocumented in RFC 6143 itself but required for interoperability
// with every real VNC client.
func fixDESKeyByte(val byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out <<= 1
		out |= val & 1
		val >>= 1
	}
	return out
}

// fixDESKey truncates or zero-pads password to 8 bytes and bit-reverses
// each byte to form the DES key VNC-Authentication actually uses.
func fixDESKey(password string) []byte {
	raw := []byte(password)
	key := make([]byte, 8)
	copy(key, raw)
	for i := range key {
		key[i] = fixDESKeyByte(key[i])
	}
	return key
}

// NewChallenge returns a fresh 16-byte VNC-Authentication challenge.
func NewChallenge() ([]byte, error) {
	challenge := make([]byte, 16)
	if _, err := rand.Read(challenge); err != nil {
		return nil, NewResourceError("failed to generate auth challenge", err)
	}
	return challenge, nil
}

// ExpectedResponse DES-encrypts challenge (as two independent 8-byte ECB
// blocks, per the protocol) with the password-derived key.
func ExpectedResponse(password string, challenge []byte) ([]byte, error) {
	if len(challenge) != 16 {
		return nil, NewProtocolError("auth challenge must be 16 bytes", nil)
	}
	block, err := des.NewCipher(fixDESKey(password))
	if err != nil {
		return nil, NewResourceError("failed to build auth cipher", err)
	}
	out := make([]byte, 16)
	block.Encrypt(out[0:8], challenge[0:8])
	block.Encrypt(out[8:16], challenge[8:16])
	return out, nil
}

// CheckResponse reports whether response is the expected DES encryption
// of challenge under password, in constant time.
func CheckResponse(password string, challenge, response []byte) (bool, error) {
	expected, err := ExpectedResponse(password, challenge)
	if err != nil {
		return false, err
	}
	if len(response) != len(expected) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(expected, response) == 1, nil
}
