package serialmux

import "strings"

// Line kinds reported by an SLCAN adapter.
const (
	LineFrame   = "frame"
	LineAck     = "ack"
	LineError   = "error"
	LineVersion = "version"
	LineSerial  = "serial"
	LineUnknown = "unknown"
)

// AdapterStatus is what the adapter has told us about itself.
type AdapterStatus struct {
	Version string `json:"version"`
	Serial  string `json:"serial"`
	Frames  uint64 `json:"frames"`
	Errors  uint64 `json:"errors"`
}

// ClassifyLine returns the kind of an adapter line. Empty lines are the
// acknowledgement of a command.
func ClassifyLine(line string) string {
	if line == "" || line == "z" || line == "Z" {
		return LineAck
	}
	switch line[0] {
	case '\a':
		return LineError
	case 't', 'T', 'r', 'R':
		return LineFrame
	case 'V', 'v':
		return LineVersion
	case 'N':
		return LineSerial
	}
	if strings.HasPrefix(line, "F") && len(line) == 3 {
		// status flags reply; nonzero means bus errors
		if line != "F00" {
			return LineError
		}
		return LineAck
	}
	return LineUnknown
}

func (s *SerialMux[T]) observe(line string) {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	switch ClassifyLine(line) {
	case LineFrame:
		s.status.Frames++
	case LineError:
		s.status.Errors++
	case LineVersion:
		s.status.Version = line[1:]
	case LineSerial:
		s.status.Serial = line[1:]
	}
}

// Status returns a snapshot of the adapter status.
func (s *SerialMux[T]) Status() AdapterStatus {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	return s.status
}
