package car

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
)

// Parsers holds one signal parser per bus.
type Parsers map[uint8]*candb.Parser

// NewParsers builds a parser for every bus in msgs. Buses with no messages
// still get a parser so lookups on them return defaults.
func NewParsers(db *candb.Database, msgs map[uint8][]candb.MessageSpec) (Parsers, error) {
	ps := make(Parsers, len(msgs))
	for bus, specs := range msgs {
		p, err := candb.NewParser(db, bus, specs)
		if err != nil {
			return nil, fmt.Errorf("bus %d: %w", bus, err)
		}
		ps[bus] = p
	}
	return ps, nil
}

// Update feeds batches to every parser.
func (ps Parsers) Update(batches []can.Batch) {
	for _, p := range ps {
		p.Update(batches)
	}
}

// CanValid reports whether every parser considers its bus valid.
func (ps Parsers) CanValid() bool {
	for _, p := range ps {
		if !p.CanValid() {
			return false
		}
	}
	return true
}

// Subscriptions turns parser message lists into the subscription spec,
// ordered by bus then message name.
func Subscriptions(db *candb.Database, msgs map[uint8][]candb.MessageSpec) []Subscription {
	var out []Subscription
	for bus, specs := range msgs {
		for _, s := range specs {
			sub := Subscription{Bus: bus, Message: s.Name, FrequencyHz: s.FrequencyHz}
			if m, ok := db.Message(s.Name); ok {
				sub.Address = m.Address
			}
			if s.FrequencyHz > 0 {
				sub.MaxStaleCycles = int(math.Ceil(10 / (s.FrequencyHz * DtCtrl)))
			}
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bus != out[j].Bus {
			return out[i].Bus < out[j].Bus
		}
		return out[i].Message < out[j].Message
	})
	return out
}
