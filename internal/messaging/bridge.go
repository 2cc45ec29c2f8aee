package messaging

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

const bridgeWriteTimeout = time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Bridge streams hub topics to websocket clients. Clients pick topics with
// repeated ?topic= parameters and get binary envelopes, or JSON envelopes
// with ?format=json. A slow client misses messages rather than slowing the
// hub. Envelopes a client sends are published on the hub when their topic
// is one of the bridge's inbound topics, and dropped otherwise. Inbound
// messages are stamped with their arrival time since the client's clock
// is not the hub's.
type Bridge struct {
	hub     *Hub
	clock   timeutil.Clock
	inbound map[string]bool
	once    monitoring.OnceLogger
}

// NewBridge creates a websocket bridge on hub that accepts inbound
// messages on the given topics.
func NewBridge(hub *Hub, inbound ...string) *Bridge {
	b := &Bridge{hub: hub, clock: timeutil.RealClock{}, inbound: make(map[string]bool, len(inbound))}
	for _, t := range inbound {
		b.inbound[t] = true
	}
	return b
}

// accept publishes one inbound websocket message.
func (b *Bridge) accept(kind int, data []byte) {
	var m Message
	var err error
	if kind == websocket.TextMessage {
		m, err = DecodeJSON(data)
	} else {
		m, err = Decode(data)
	}
	if err != nil {
		b.once.Logf("decode", "[messaging] bridge: %v", err)
		return
	}
	if !b.inbound[m.Topic] {
		b.once.Logf("topic:"+m.Topic, "[messaging] bridge: %s is not an inbound topic", m.Topic)
		return
	}
	m.LogMonoTime = timeutil.Nanos(b.clock)
	b.hub.Publish(m)
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 && len(b.inbound) == 0 {
		http.Error(w, "at least one topic is required", http.StatusBadRequest)
		return
	}
	asJSON := r.URL.Query().Get("format") == "json"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			monitoring.Warnf("[messaging] failed to close websocket: %v", err)
		}
	}()

	merged := make(chan Message, 64)
	for _, t := range topics {
		id, ch := b.hub.Subscribe(t, 16)
		defer b.hub.Unsubscribe(id)
		go func() {
			for m := range ch {
				select {
				case merged <- m:
				default:
				}
			}
		}()
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.accept(kind, data)
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case m := <-merged:
			kind := websocket.BinaryMessage
			var data []byte
			var err error
			if asJSON {
				kind = websocket.TextMessage
				data, err = EncodeJSON(m)
			} else {
				data, err = Encode(m)
			}
			if err != nil {
				monitoring.Logf("[messaging] bridge: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}
}
