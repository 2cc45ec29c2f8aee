package can

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// SLCAN (Lawicel) bitrate commands, indexed by the S<n> setting.
var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// SLCANOpenCommands returns the command sequence that closes, configures
// and opens an SLCAN channel at bitrate.
func SLCANOpenCommands(bitrate int) ([]string, error) {
	speed, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}
	return []string{"C", speed, "Z0", "O"}, nil
}

// ParseSLCAN decodes one SLCAN receive line ("t" standard or "T" extended
// data frame) into a frame on bus. Status replies and remote frames return
// ok=false with a nil error.
func ParseSLCAN(line string, bus uint8, ts uint64) (Frame, bool, error) {
	line = strings.TrimRight(line, "\r\n\a")
	if line == "" {
		return Frame{}, false, nil
	}
	var idLen int
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	default:
		return Frame{}, false, nil
	}
	if len(line) < 1+idLen+1 {
		return Frame{}, false, fmt.Errorf("slcan: short frame %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, false, fmt.Errorf("slcan: bad id in %q: %w", line, err)
	}
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > MaxDataLen {
		return Frame{}, false, fmt.Errorf("slcan: bad dlc in %q", line)
	}
	start := 2 + idLen
	end := start + 2*dlc
	if len(line) < end {
		return Frame{}, false, fmt.Errorf("slcan: truncated payload %q", line)
	}
	data, err := hex.DecodeString(line[start:end])
	if err != nil {
		return Frame{}, false, fmt.Errorf("slcan: bad payload in %q: %w", line, err)
	}
	f := Frame{Bus: bus, Address: uint32(id), Data: data, Timestamp: ts}
	if err := f.Validate(); err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

// FormatSLCAN encodes f as an SLCAN transmit command without the trailing
// carriage return.
func FormatSLCAN(f Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	if f.Extended() {
		fmt.Fprintf(&b, "T%08X", f.Address)
	} else {
		fmt.Fprintf(&b, "t%03X", f.Address)
	}
	fmt.Fprintf(&b, "%d%s", len(f.Data), strings.ToUpper(hex.EncodeToString(f.Data)))
	return b.String(), nil
}
