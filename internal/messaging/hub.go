// Package messaging is the in-process publish/subscribe layer between the
// bridge and the rest of the stack. Each topic has one writer; readers use
// a SubMaster that tracks freshness so no value is trusted without a check
// of its age.
package messaging

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Topic names.
const (
	TopicPandaStates         = "pandaStates"
	TopicCarControl          = "carControl"
	TopicLiveCalibration     = "liveCalibration"
	TopicOnroadEvents        = "onroadEvents"
	TopicFrogpilotPlan       = "frogpilotPlan"
	TopicGPSLocation         = "gpsLocation"
	TopicGPSLocationExternal = "gpsLocationExternal"
	TopicCarState            = "carState"
	TopicFrogpilotCarState   = "frogpilotCarState"
	TopicCarOutput           = "carOutput"
	TopicCarParams           = "carParams"
	TopicSendCAN             = "sendcan"
	TopicCAN                 = "can"
)

// Frequencies are the nominal publish rates in Hz used for liveness
// checks. Topics not listed are event driven and always alive once seen.
var Frequencies = map[string]float64{
	TopicPandaStates:         10,
	TopicCarControl:          100,
	TopicLiveCalibration:     4,
	TopicOnroadEvents:        1,
	TopicFrogpilotPlan:       20,
	TopicGPSLocation:         1,
	TopicGPSLocationExternal: 10,
	TopicCarState:            100,
	TopicFrogpilotCarState:   100,
	TopicCarOutput:           100,
	TopicCarParams:           0.02,
	TopicSendCAN:             100,
	TopicCAN:                 100,
}

// Message is one published value. Payload is owned by the reader after
// delivery and must not be mutated by the writer.
type Message struct {
	Topic       string
	LogMonoTime uint64
	Valid       bool
	Payload     any
}

// Hub fans published messages out to subscribers without blocking the
// publisher. A subscriber whose buffer is full loses its oldest message so
// it always holds the newest ones.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]map[string]chan Message
	topic map[string]string
	drops atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[string]map[string]chan Message),
		topic: make(map[string]string),
	}
}

// Subscribe registers for topic with a buffer of size buf.
func (h *Hub) Subscribe(topic string, buf int) (string, <-chan Message) {
	if buf < 1 {
		buf = 1
	}
	id := uuid.NewString()
	ch := make(chan Message, buf)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[string]chan Message)
	}
	h.subs[topic][id] = ch
	h.topic[id] = topic
	return id, ch
}

// Unsubscribe closes and removes the subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic, ok := h.topic[id]
	if !ok {
		return
	}
	close(h.subs[topic][id])
	delete(h.subs[topic], id)
	delete(h.topic, id)
}

// Publish delivers m to every subscriber of m.Topic.
func (h *Hub) Publish(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[m.Topic] {
		deliver(ch, m, &h.drops)
	}
}

// deliver sends m on ch, discarding the oldest buffered message while the
// buffer is full.
func deliver(ch chan Message, m Message, drops *atomic.Uint64) {
	for {
		select {
		case ch <- m:
			return
		default:
		}
		select {
		case <-ch:
			drops.Add(1)
		default:
		}
	}
}

// Drops returns the number of buffered messages discarded for newer ones.
func (h *Hub) Drops() uint64 { return h.drops.Load() }
