package serialmux

import "io"

// SerialPorter is what SerialMux needs from an adapter connection. Tests
// substitute TestableSerialPort.
type SerialPorter interface {
	io.ReadWriteCloser
}
