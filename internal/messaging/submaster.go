package messaging

import (
	"time"

	"github.com/banshee-data/canbridge/internal/timeutil"
)

type topicState struct {
	ch        <-chan Message
	freq      float64
	latest    Message
	updated   bool
	seen      bool
	count     uint64
	recvTime  time.Time
	recvFrame uint64
}

// SubMaster reads a fixed set of topics and tracks, per topic, whether it
// was updated this frame, has ever been seen, is alive (received within
// ten expected periods) and is valid (the writer marked it valid).
type SubMaster struct {
	hub    *Hub
	clock  timeutil.Clock
	ids    []string
	topics map[string]*topicState
	frame  uint64
}

// NewSubMaster subscribes to topics on hub.
func NewSubMaster(hub *Hub, clock timeutil.Clock, topics ...string) *SubMaster {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &SubMaster{hub: hub, clock: clock, topics: make(map[string]*topicState, len(topics))}
	for _, t := range topics {
		if _, dup := s.topics[t]; dup {
			continue
		}
		id, ch := hub.Subscribe(t, 64)
		s.ids = append(s.ids, id)
		s.topics[t] = &topicState{ch: ch, freq: Frequencies[t]}
	}
	return s
}

// Close unsubscribes from every topic.
func (s *SubMaster) Close() {
	for _, id := range s.ids {
		s.hub.Unsubscribe(id)
	}
}

// Update drains every subscription without blocking and advances the
// frame counter. Only the newest message per topic is kept.
func (s *SubMaster) Update() {
	s.frame++
	now := s.clock.Now()
	for _, st := range s.topics {
		st.updated = false
	drain:
		for {
			select {
			case m, ok := <-st.ch:
				if !ok {
					break drain
				}
				st.latest = m
				st.updated = true
				st.seen = true
				st.count++
				st.recvTime = logTime(m, now)
				st.recvFrame = s.frame
			default:
				break drain
			}
		}
	}
}

// logTime is when m was published. Messages without a log time count as
// published when they were drained.
func logTime(m Message, drained time.Time) time.Time {
	if m.LogMonoTime == 0 {
		return drained
	}
	return time.Unix(0, int64(m.LogMonoTime))
}

// Frame returns the number of Update calls.
func (s *SubMaster) Frame() uint64 { return s.frame }

// Get returns the newest message on topic, zero if none.
func (s *SubMaster) Get(topic string) Message {
	if st, ok := s.topics[topic]; ok {
		return st.latest
	}
	return Message{}
}

// Updated reports whether topic received a message in the last Update.
func (s *SubMaster) Updated(topic string) bool {
	st, ok := s.topics[topic]
	return ok && st.updated
}

// Seen reports whether topic has ever received a message.
func (s *SubMaster) Seen(topic string) bool {
	st, ok := s.topics[topic]
	return ok && st.seen
}

// Count returns how many messages topic has received.
func (s *SubMaster) Count(topic string) uint64 {
	if st, ok := s.topics[topic]; ok {
		return st.count
	}
	return 0
}

// RecvFrame returns the frame topic was last received on.
func (s *SubMaster) RecvFrame(topic string) uint64 {
	if st, ok := s.topics[topic]; ok {
		return st.recvFrame
	}
	return 0
}

// Alive reports whether the newest message on topic was published within
// ten expected periods. Topics without a nominal rate are alive once seen.
func (s *SubMaster) Alive(topic string) bool {
	st, ok := s.topics[topic]
	if !ok || !st.seen {
		return false
	}
	if st.freq <= 1e-5 {
		return true
	}
	maxAge := time.Duration(10 / st.freq * float64(time.Second))
	return s.clock.Since(st.recvTime) < maxAge
}

// Valid reports whether the newest message on topic was marked valid.
func (s *SubMaster) Valid(topic string) bool {
	st, ok := s.topics[topic]
	return ok && st.seen && st.latest.Valid
}

// AllAlive reports Alive for every topic, or all subscribed topics when
// none are named.
func (s *SubMaster) AllAlive(topics ...string) bool {
	return s.all(s.Alive, topics)
}

// AllValid reports Valid for every topic.
func (s *SubMaster) AllValid(topics ...string) bool {
	return s.all(s.Valid, topics)
}

// AllChecks reports that every topic is both alive and valid.
func (s *SubMaster) AllChecks(topics ...string) bool {
	return s.AllAlive(topics...) && s.AllValid(topics...)
}

func (s *SubMaster) all(check func(string) bool, topics []string) bool {
	if len(topics) == 0 {
		for t := range s.topics {
			topics = append(topics, t)
		}
	}
	for _, t := range topics {
		if !check(t) {
			return false
		}
	}
	return true
}
