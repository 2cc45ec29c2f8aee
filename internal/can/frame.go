// Package can defines the raw frame types that flow between bus sources,
// the ingest queue and the vehicle interfaces, plus the wire encodings
// used to move them over SocketCAN, SLCAN serial adapters and capture
// files.
package can

import (
	"errors"
	"fmt"

	bcan "github.com/brutella/can"
)

// LoopbackOffset is added to the bus number of frames we transmitted when
// they are echoed back into the receive path.
const LoopbackOffset = 128

// MaxDataLen is the classical CAN payload limit.
const MaxDataLen = 8

const (
	maxStdID   = 0x7FF
	maxExtID   = 0x1FFFFFFF
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is one raw message on a logical bus. Timestamp is monotonic
// nanoseconds.
type Frame struct {
	Bus       uint8
	Address   uint32
	Data      []byte
	Timestamp uint64
}

// Extended reports whether the address needs a 29-bit identifier.
func (f Frame) Extended() bool {
	return f.Address > maxStdID
}

// Loopback reports whether the frame is an echo of one we transmitted.
func (f Frame) Loopback() bool {
	return f.Bus >= LoopbackOffset
}

// Validate returns an error if the frame cannot be put on a classical CAN bus.
func (f Frame) Validate() error {
	if len(f.Data) > MaxDataLen {
		return ErrInvalidLen
	}
	if f.Address > maxExtID {
		return ErrInvalidID
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("bus=%d addr=0x%x data=%x", f.Bus, f.Address, f.Data)
}

// LoopbackBus returns the bus number a transmitted frame on bus is echoed on.
func LoopbackBus(bus uint8) uint8 {
	return bus + LoopbackOffset
}

// Batch is every frame a source delivered in one acquisition window.
type Batch struct {
	LogMonoTime uint64
	Frames      []Frame
	Valid       bool
}

// ToWire converts f into the SocketCAN frame representation.
func ToWire(f Frame) (bcan.Frame, error) {
	if err := f.Validate(); err != nil {
		return bcan.Frame{}, err
	}
	id := f.Address
	if f.Extended() {
		id |= canEffFlag
	}
	wf := bcan.Frame{
		ID:     id,
		Length: uint8(len(f.Data)),
		Res0:   f.Bus,
	}
	copy(wf.Data[:], f.Data)
	return wf, nil
}

// FromWire converts a SocketCAN frame received on bus into a Frame. Error
// and remote frames carry no payload for decoding and report ok=false.
func FromWire(bus uint8, wf bcan.Frame, ts uint64) (Frame, bool) {
	if wf.ID&(canErrFlag|canRtrFlag) != 0 {
		return Frame{}, false
	}
	n := int(wf.Length)
	if n > MaxDataLen {
		return Frame{}, false
	}
	addr := wf.ID & maxStdID
	if wf.ID&canEffFlag != 0 {
		addr = wf.ID & maxExtID
	}
	data := make([]byte, n)
	copy(data, wf.Data[:n])
	return Frame{Bus: bus, Address: addr, Data: data, Timestamp: ts}, true
}

// MarshalFrame encodes f in the 16-byte can_frame layout with the bus
// number stored in the first reserved byte.
func MarshalFrame(f Frame) ([]byte, error) {
	wf, err := ToWire(f)
	if err != nil {
		return nil, err
	}
	return bcan.Marshal(wf)
}

// UnmarshalFrame decodes a frame written by MarshalFrame.
func UnmarshalFrame(b []byte, ts uint64) (Frame, error) {
	var wf bcan.Frame
	if err := bcan.Unmarshal(b, &wf); err != nil {
		return Frame{}, fmt.Errorf("can: unmarshal frame: %w", err)
	}
	f, ok := FromWire(wf.Res0, wf, ts)
	if !ok {
		return Frame{}, fmt.Errorf("can: unsupported frame id 0x%x", wf.ID)
	}
	return f, nil
}
