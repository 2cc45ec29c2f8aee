package car

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/monitoring"
)

// Default arguments for DisableECU.
var (
	DefaultComContReq = []byte{0x28, 0x83, 0x01}

	extDiagRequest  = []byte{0x10, 0x03}
	extDiagResponse = []byte{0x50, 0x03}
)

const (
	disableECURetries = 10

	// responseReceives bounds how many blocking receives one request
	// waits for a reply, about 100 ms at the default receive timeout.
	responseReceives    = 5
	isoTPResponseOffset = 8
)

// ErrNoECUResponse is returned when the ECU never acknowledged the
// diagnostic session request.
var ErrNoECUResponse = errors.New("car: no response from ECU")

// DisableECU opens an extended diagnostic session with the ECU at addr on
// bus, then sends the communication control request comContReq to stop
// its normal transmissions. The control request is not acknowledged.
func DisableECU(ctx context.Context, h BusHandle, bus uint8, addr uint32, comContReq []byte) error {
	if comContReq == nil {
		comContReq = DefaultComContReq
	}
	monitoring.Logf("[car] disabling ECU 0x%x on bus %d", addr, bus)

	for i := 0; i < disableECURetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.Send([]can.Frame{isoTPSingleFrame(bus, addr, extDiagRequest)})
		if awaitResponse(ctx, h, bus, addr+isoTPResponseOffset, extDiagResponse) {
			h.Send([]can.Frame{isoTPSingleFrame(bus, addr, comContReq)})
			monitoring.Logf("[car] ECU 0x%x disabled", addr)
			return nil
		}
		monitoring.Logf("[car] ECU 0x%x disable retry %d", addr, i+1)
	}
	return fmt.Errorf("%w 0x%x on bus %d", ErrNoECUResponse, addr, bus)
}

func awaitResponse(ctx context.Context, h BusHandle, bus uint8, rxAddr uint32, want []byte) bool {
	for i := 0; i < responseReceives; i++ {
		for _, b := range h.Receive(ctx, true) {
			for _, f := range b.Frames {
				if f.Bus != bus || f.Address != rxAddr {
					continue
				}
				if payload, ok := isoTPSinglePayload(f.Data); ok && bytes.HasPrefix(payload, want) {
					return true
				}
			}
		}
	}
	return false
}

// isoTPSingleFrame wraps a request of up to 7 bytes in one padded frame.
func isoTPSingleFrame(bus uint8, addr uint32, payload []byte) can.Frame {
	data := make([]byte, can.MaxDataLen)
	data[0] = byte(len(payload))
	copy(data[1:], payload)
	return can.Frame{Bus: bus, Address: addr, Data: data}
}

func isoTPSinglePayload(data []byte) ([]byte, bool) {
	if len(data) == 0 || data[0]>>4 != 0 {
		return nil, false
	}
	n := int(data[0] & 0x0f)
	if n == 0 || n+1 > len(data) {
		return nil, false
	}
	return data[1 : n+1], true
}
