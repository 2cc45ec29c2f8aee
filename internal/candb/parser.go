package candb

import (
	"fmt"

	"github.com/banshee-data/canbridge/internal/can"
)

// invalidCountLimit is the number of consecutive stale updates tolerated
// before the parser reports the bus as invalid.
const invalidCountLimit = 5

// stalePeriods is how many expected periods a checked message may be
// missing before it counts as stale.
const stalePeriods = 10

// MessageSpec names a message to parse and its expected frequency. A zero
// frequency disables the staleness check for that message.
type MessageSpec struct {
	Name        string
	FrequencyHz float64
}

type messageState struct {
	def       *Message
	threshold uint64
	lastNanos uint64
	seen      bool
	values    map[string]float64
	all       map[string][]float64
}

// Parser decodes the messages of one bus. It keeps the freshest value of
// every signal so lookups always resolve, even when a message has not been
// received this cycle.
type Parser struct {
	db       *Database
	bus      uint8
	byAddr   map[uint32]*messageState
	byName   map[string]*messageState
	invalid  int
	canValid bool
	badLen   uint64
}

// NewParser builds a parser for msgs on bus. Unknown message names are a
// configuration error.
func NewParser(db *Database, bus uint8, msgs []MessageSpec) (*Parser, error) {
	p := &Parser{
		db:      db,
		bus:     bus,
		byAddr:  make(map[uint32]*messageState, len(msgs)),
		byName:  make(map[string]*messageState, len(msgs)),
		invalid: invalidCountLimit,
	}
	for _, spec := range msgs {
		def, ok := db.Message(spec.Name)
		if !ok {
			return nil, fmt.Errorf("candb: %s has no message %q", db.Name, spec.Name)
		}
		st := &messageState{
			def:    def,
			values: make(map[string]float64, len(def.Signals)),
			all:    make(map[string][]float64, len(def.Signals)),
		}
		if spec.FrequencyHz > 0 {
			st.threshold = uint64(1e9 / spec.FrequencyHz * stalePeriods)
		}
		for _, s := range def.Signals {
			st.values[s.Name] = 0
		}
		p.byAddr[def.Address] = st
		p.byName[def.Name] = st
	}
	// nothing to check means nothing can go stale
	p.canValid = len(msgs) == 0
	return p, nil
}

// Bus returns the bus this parser reads.
func (p *Parser) Bus() uint8 { return p.bus }

// Update decodes every frame for this bus in batches. Frames with an
// unexpected length are skipped and counted.
func (p *Parser) Update(batches []can.Batch) {
	for _, st := range p.byName {
		for k := range st.all {
			st.all[k] = st.all[k][:0]
		}
	}

	var latest uint64
	for _, b := range batches {
		t := b.LogMonoTime
		for _, f := range b.Frames {
			if f.Bus != p.bus {
				continue
			}
			st, ok := p.byAddr[f.Address]
			if !ok {
				continue
			}
			if len(f.Data) != st.def.Size {
				p.badLen++
				continue
			}
			ts := t
			if ts == 0 {
				ts = f.Timestamp
			}
			for i := range st.def.Signals {
				s := &st.def.Signals[i]
				v := s.decode(f.Data)
				st.values[s.Name] = v
				st.all[s.Name] = append(st.all[s.Name], v)
			}
			st.lastNanos = ts
			st.seen = true
		}
		if t > latest {
			latest = t
		}
	}
	if latest > 0 {
		p.updateValid(latest)
	}
}

func (p *Parser) updateValid(now uint64) {
	valid := true
	for _, st := range p.byName {
		if st.threshold == 0 {
			continue
		}
		if !st.seen || now-st.lastNanos > st.threshold {
			valid = false
		}
	}
	if valid {
		p.invalid = 0
	} else if p.invalid < invalidCountLimit {
		p.invalid++
	}
	p.canValid = p.invalid < invalidCountLimit
}

// CanValid reports whether every checked message is fresh.
func (p *Parser) CanValid() bool { return p.canValid }

// BadLength returns the number of frames skipped for a wrong payload size.
func (p *Parser) BadLength() uint64 { return p.badLen }

// Lookup returns the last decoded value of a signal and whether the
// message has been received at all.
func (p *Parser) Lookup(msg, sig string) (float64, bool) {
	st, ok := p.byName[msg]
	if !ok {
		return 0, false
	}
	v, ok := st.values[sig]
	return v, ok && st.seen
}

// Value returns the last decoded value of a signal, or 0 if the message
// was never received or is not parsed.
func (p *Parser) Value(msg, sig string) float64 {
	v, _ := p.Lookup(msg, sig)
	return v
}

// All returns every value of a signal decoded in the last Update.
func (p *Parser) All(msg, sig string) []float64 {
	st, ok := p.byName[msg]
	if !ok {
		return nil
	}
	return st.all[sig]
}

// TimestampNanos returns when msg was last received, 0 if never.
func (p *Parser) TimestampNanos(msg string) uint64 {
	st, ok := p.byName[msg]
	if !ok {
		return 0
	}
	return st.lastNanos
}

// Seen reports whether msg has been received at least once.
func (p *Parser) Seen(msg string) bool {
	st, ok := p.byName[msg]
	return ok && st.seen
}
