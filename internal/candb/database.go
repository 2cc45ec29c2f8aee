// Package candb holds bus message definitions and the two operations the
// vehicle interfaces need from them: decoding received frames into named
// signal values (Parser) and encoding named values into frames (Packer).
//
// Definitions are loaded from TOML tables embedded by each platform
// package. Bit numbering follows the usual DBC convention: little-endian
// signals give the position of the least significant bit, big-endian
// signals give the position of the most significant bit in the
// byte-major "sawtooth" numbering.
package candb

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Signal describes one scaled field of a message.
type Signal struct {
	Name         string            `toml:"name"`
	Start        int               `toml:"start"`
	Size         int               `toml:"size"`
	LittleEndian bool              `toml:"little_endian"`
	Signed       bool              `toml:"signed"`
	Factor       float64           `toml:"factor"`
	Offset       float64           `toml:"offset"`
	Values       map[string]string `toml:"values"`
}

// Message describes one addressed frame layout.
type Message struct {
	Name    string   `toml:"name"`
	Address uint32   `toml:"address"`
	Size    int      `toml:"size"`
	Signals []Signal `toml:"signal"`

	signals map[string]*Signal
}

// Signal returns the named signal definition.
func (m *Message) Signal(name string) (*Signal, bool) {
	s, ok := m.signals[name]
	return s, ok
}

// Database is a named set of message definitions.
type Database struct {
	Name     string    `toml:"name"`
	Messages []Message `toml:"message"`

	byName    map[string]*Message
	byAddress map[uint32]*Message
}

// Load parses a TOML message table.
func Load(data []byte) (*Database, error) {
	var db Database
	if _, err := toml.Decode(string(data), &db); err != nil {
		return nil, fmt.Errorf("candb: parse table: %w", err)
	}
	if err := db.index(); err != nil {
		return nil, err
	}
	return &db, nil
}

// MustLoad is Load for embedded tables; it panics on a malformed table.
func MustLoad(data []byte) *Database {
	db, err := Load(data)
	if err != nil {
		panic(err)
	}
	return db
}

func (db *Database) index() error {
	db.byName = make(map[string]*Message, len(db.Messages))
	db.byAddress = make(map[uint32]*Message, len(db.Messages))
	for i := range db.Messages {
		m := &db.Messages[i]
		if m.Size <= 0 || m.Size > 64 {
			return fmt.Errorf("candb: %s: message %s has invalid size %d", db.Name, m.Name, m.Size)
		}
		if _, dup := db.byName[m.Name]; dup {
			return fmt.Errorf("candb: %s: duplicate message %s", db.Name, m.Name)
		}
		if _, dup := db.byAddress[m.Address]; dup {
			return fmt.Errorf("candb: %s: duplicate address 0x%x", db.Name, m.Address)
		}
		m.signals = make(map[string]*Signal, len(m.Signals))
		for j := range m.Signals {
			s := &m.Signals[j]
			if s.Factor == 0 {
				s.Factor = 1
			}
			if s.Size <= 0 || s.Size > 64 {
				return fmt.Errorf("candb: %s.%s: invalid size %d", m.Name, s.Name, s.Size)
			}
			if !s.fits(m.Size) {
				return fmt.Errorf("candb: %s.%s: does not fit in %d bytes", m.Name, s.Name, m.Size)
			}
			m.signals[s.Name] = s
		}
		db.byName[m.Name] = m
		db.byAddress[m.Address] = m
	}
	return nil
}

// Message returns the message with the given name.
func (db *Database) Message(name string) (*Message, bool) {
	m, ok := db.byName[name]
	return m, ok
}

// MessageAt returns the message defined at addr.
func (db *Database) MessageAt(addr uint32) (*Message, bool) {
	m, ok := db.byAddress[addr]
	return m, ok
}

// ValueTable returns the enumeration of a signal keyed by raw value.
func (db *Database) ValueTable(msg, sig string) map[int]string {
	m, ok := db.byName[msg]
	if !ok {
		return nil
	}
	s, ok := m.signals[sig]
	if !ok || len(s.Values) == 0 {
		return nil
	}
	out := make(map[int]string, len(s.Values))
	for k, v := range s.Values {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[n] = v
	}
	return out
}

// bitPositions returns the payload bit index of each signal bit, most
// significant first.
func (s *Signal) bitPositions() []int {
	pos := make([]int, s.Size)
	if s.LittleEndian {
		for i := 0; i < s.Size; i++ {
			pos[s.Size-1-i] = s.Start + i
		}
		return pos
	}
	bit := s.Start
	for i := 0; i < s.Size; i++ {
		pos[i] = bit
		if bit%8 == 0 {
			bit += 15
		} else {
			bit--
		}
	}
	return pos
}

func (s *Signal) fits(size int) bool {
	for _, p := range s.bitPositions() {
		if p < 0 || p >= size*8 {
			return false
		}
	}
	return true
}

// raw extracts the unscaled integer value from data. Bits beyond the
// payload read as zero.
func (s *Signal) raw(data []byte) int64 {
	var v uint64
	for _, p := range s.bitPositions() {
		v <<= 1
		if p/8 < len(data) && data[p/8]&(1<<(uint(p)%8)) != 0 {
			v |= 1
		}
	}
	if s.Signed && s.Size < 64 && v&(1<<uint(s.Size-1)) != 0 {
		v |= ^uint64(0) << uint(s.Size)
	}
	return int64(v)
}

// decode returns the scaled physical value.
func (s *Signal) decode(data []byte) float64 {
	return float64(s.raw(data))*s.Factor + s.Offset
}

// put writes the unscaled integer value into data.
func (s *Signal) put(data []byte, raw int64) {
	v := uint64(raw)
	pos := s.bitPositions()
	for i := len(pos) - 1; i >= 0; i-- {
		p := pos[i]
		mask := byte(1 << (uint(p) % 8))
		if v&1 != 0 {
			data[p/8] |= mask
		} else {
			data[p/8] &^= mask
		}
		v >>= 1
	}
}
