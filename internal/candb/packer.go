package candb

import (
	"fmt"
	"math"

	"github.com/banshee-data/canbridge/internal/can"
)

// Packer encodes named signal values into frames.
type Packer struct {
	db *Database
}

// NewPacker returns a packer for db.
func NewPacker(db *Database) *Packer {
	return &Packer{db: db}
}

// Make builds a frame for msg on bus. Signals not named in values are
// zero. Physical values are scaled, rounded and clamped to the signal's
// range.
func (p *Packer) Make(bus uint8, msg string, values map[string]float64) (can.Frame, error) {
	m, ok := p.db.Message(msg)
	if !ok {
		return can.Frame{}, fmt.Errorf("candb: %s has no message %q", p.db.Name, msg)
	}
	data := make([]byte, m.Size)
	for name, v := range values {
		s, ok := m.Signal(name)
		if !ok {
			return can.Frame{}, fmt.Errorf("candb: %s has no signal %q", msg, name)
		}
		s.put(data, s.clampRaw(math.Round((v-s.Offset)/s.Factor)))
	}
	return can.Frame{Bus: bus, Address: m.Address, Data: data}, nil
}

func (s *Signal) clampRaw(v float64) int64 {
	var lo, hi float64
	if s.Signed {
		lo = -math.Pow(2, float64(s.Size-1))
		hi = math.Pow(2, float64(s.Size-1)) - 1
	} else {
		hi = math.Pow(2, float64(s.Size)) - 1
	}
	return int64(math.Max(lo, math.Min(hi, v)))
}
