// Package secoc authenticates outgoing frames for vehicles whose ECUs
// require secured onboard communication: a truncated AES-CMAC over the
// address, payload and a freshness value is carried in the frame.
package secoc

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/jacobsa/crypto/cmac"

	"github.com/banshee-data/canbridge/internal/can"
)

// KeyLen is the raw key length in bytes.
const KeyLen = 16

// PayloadLen is the largest data length that still leaves room for the
// freshness counter and MAC in a classical frame.
const PayloadLen = 4

const macLen = can.MaxDataLen - PayloadLen - 1

// ErrInvalidKey is returned for key material that is not 32 hex
// characters.
var ErrInvalidKey = errors.New("secoc: key must be 32 hex characters")

// ParseKey decodes a stored hex key. Surrounding whitespace is ignored.
func ParseKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != KeyLen {
		return nil, ErrInvalidKey
	}
	return b, nil
}

// Freshness is the anti-replay state mixed into every MAC.
type Freshness struct {
	Trip  uint16
	Reset uint32
	Msg   uint8
}

func (f Freshness) bytes() []byte {
	b := make([]byte, 7)
	binary.BigEndian.PutUint16(b[0:2], f.Trip)
	binary.BigEndian.PutUint32(b[2:6], f.Reset)
	b[6] = f.Msg
	return b
}

// Authenticator signs frames with one key. It is not safe for concurrent
// use.
type Authenticator struct {
	mac hash.Hash
}

// NewAuthenticator creates an Authenticator for a 16-byte key.
func NewAuthenticator(key []byte) (*Authenticator, error) {
	if len(key) != KeyLen {
		return nil, ErrInvalidKey
	}
	h, err := cmac.New(key)
	if err != nil {
		return nil, fmt.Errorf("secoc: %w", err)
	}
	return &Authenticator{mac: h}, nil
}

// MAC returns the truncated MAC of payload sent at addr with fv.
func (a *Authenticator) MAC(addr uint32, payload []byte, fv Freshness) []byte {
	a.mac.Reset()
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], addr)
	a.mac.Write(id[:])
	a.mac.Write(payload)
	a.mac.Write(fv.bytes())
	return a.mac.Sum(nil)[:macLen]
}

// Sign returns f with its payload extended to the secured layout: data,
// low byte of the message counter, truncated MAC.
func (a *Authenticator) Sign(f can.Frame, fv Freshness) (can.Frame, error) {
	if len(f.Data) > PayloadLen {
		return can.Frame{}, fmt.Errorf("secoc: payload of %d bytes leaves no room for a MAC", len(f.Data))
	}
	data := make([]byte, PayloadLen, can.MaxDataLen)
	copy(data, f.Data)
	data = append(data, fv.Msg)
	data = append(data, a.MAC(f.Address, data[:PayloadLen], fv)...)
	f.Data = data
	return f, nil
}

// Verify reports whether a secured frame carries a valid MAC for fv.
func (a *Authenticator) Verify(f can.Frame, fv Freshness) bool {
	if len(f.Data) != can.MaxDataLen || f.Data[PayloadLen] != fv.Msg {
		return false
	}
	want := a.MAC(f.Address, f.Data[:PayloadLen], fv)
	got := f.Data[PayloadLen+1:]
	var diff byte
	for i := range want {
		diff |= want[i] ^ got[i]
	}
	return diff == 0
}
