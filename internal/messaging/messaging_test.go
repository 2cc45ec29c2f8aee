package messaging

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canbridge/internal/timeutil"
)

func TestHub_FanOutAndDrops(t *testing.T) {
	h := NewHub()
	id1, ch1 := h.Subscribe("a", 1)
	_, ch2 := h.Subscribe("a", 1)
	_, other := h.Subscribe("b", 1)

	h.Publish(Message{Topic: "a", Payload: 1})
	h.Publish(Message{Topic: "a", Payload: 2})

	assert.Equal(t, 2, (<-ch1).Payload)
	assert.Equal(t, 2, (<-ch2).Payload)
	assert.Len(t, other, 0)
	assert.Equal(t, uint64(2), h.Drops())

	h.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok)
	h.Unsubscribe(id1)
}

func TestSubMaster_Freshness(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	hub := NewHub()
	sm := NewSubMaster(hub, clock, TopicCarControl, TopicOnroadEvents, "custom")
	pm := NewPubMaster(hub, clock)

	sm.Update()
	assert.False(t, sm.Seen(TopicCarControl))
	assert.False(t, sm.Alive(TopicCarControl))
	assert.False(t, sm.AllChecks(TopicCarControl))

	pm.Send(TopicCarControl, "first", true)
	pm.Send(TopicCarControl, "second", true)
	sm.Update()
	assert.True(t, sm.Updated(TopicCarControl))
	assert.Equal(t, "second", sm.Get(TopicCarControl).Payload)
	assert.Equal(t, uint64(2), sm.Count(TopicCarControl))
	assert.Equal(t, uint64(2), sm.RecvFrame(TopicCarControl))
	assert.True(t, sm.AllChecks(TopicCarControl))

	// 100 Hz topic is stale after 100ms without a message
	clock.Advance(99 * time.Millisecond)
	sm.Update()
	assert.False(t, sm.Updated(TopicCarControl))
	assert.True(t, sm.Alive(TopicCarControl))
	clock.Advance(time.Millisecond)
	sm.Update()
	assert.False(t, sm.Alive(TopicCarControl))
	assert.True(t, sm.Seen(TopicCarControl))

	pm.Send(TopicCarControl, "bad", false)
	sm.Update()
	assert.True(t, sm.Alive(TopicCarControl))
	assert.False(t, sm.AllChecks(TopicCarControl))

	// no nominal rate: alive once seen
	pm.Send("custom", nil, true)
	sm.Update()
	clock.Advance(time.Hour)
	assert.True(t, sm.Alive("custom"))
	assert.False(t, sm.AllAlive())
	assert.Equal(t, uint64(6), sm.Frame())

	sm.Close()
}

func TestSubMaster_BacklogKeepsNewest(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	hub := NewHub()
	sm := NewSubMaster(hub, clock, TopicCarControl)
	defer sm.Close()
	pm := NewPubMaster(hub, clock)

	// a stalled reader: 100 messages 10ms apart and no Update
	for i := 1; i <= 100; i++ {
		pm.Send(TopicCarControl, i, true)
		clock.Advance(10 * time.Millisecond)
	}
	sm.Update()

	assert.Equal(t, 100, sm.Get(TopicCarControl).Payload)
	assert.True(t, sm.Alive(TopicCarControl))
	assert.Equal(t, uint64(100-64), hub.Drops())

	// a backlog that ended long ago is not alive even though it was just drained
	for i := 101; i <= 110; i++ {
		pm.Send(TopicCarControl, i, true)
	}
	clock.Advance(time.Second)
	sm.Update()
	assert.True(t, sm.Updated(TopicCarControl))
	assert.Equal(t, 110, sm.Get(TopicCarControl).Payload)
	assert.False(t, sm.Alive(TopicCarControl))
}

func TestCodec_RoundTrip(t *testing.T) {
	type state struct {
		VEgo       float64 `json:"vEgo"`
		Standstill bool    `json:"standstill"`
	}
	in := Message{Topic: TopicCarState, LogMonoTime: 1<<60 + 1, Valid: true, Payload: state{VEgo: 12.5, Standstill: true}}

	b, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, in.Topic, out.Topic)
	assert.Equal(t, in.LogMonoTime, out.LogMonoTime)
	assert.True(t, out.Valid)
	assert.Equal(t, map[string]any{"vEgo": 12.5, "standstill": true}, out.Payload)

	js, err := EncodeJSON(in)
	require.NoError(t, err)
	assert.Contains(t, string(js), `"carState"`)

	_, err = Decode([]byte{0xff, 0xff})
	assert.Error(t, err)
	_, err = Encode(Message{Payload: make(chan int)})
	assert.Error(t, err)
}

func TestBridge_StreamsTopics(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewBridge(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topic=carState&format=json"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				hub.Publish(Message{Topic: TopicCarState, Valid: true, Payload: map[string]any{"vEgo": 1}})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(got), "vEgo")
}

func TestBridge_RequiresTopic(t *testing.T) {
	w := httptest.NewRecorder()
	NewBridge(NewHub()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 400, w.Code)
}

func TestCodec_JSONRoundTrip(t *testing.T) {
	in := Message{Topic: TopicCarControl, LogMonoTime: 42, Valid: true, Payload: map[string]any{"latActive": true}}
	js, err := EncodeJSON(in)
	require.NoError(t, err)
	out, err := DecodeJSON(js)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeJSON([]byte(`{"valid": true}`))
	assert.Error(t, err, "an envelope needs a topic")
}

func TestBridge_PublishesInboundTopics(t *testing.T) {
	hub := NewHub()
	_, ctrl := hub.Subscribe(TopicCarControl, 4)
	_, state := hub.Subscribe(TopicCarState, 4)
	srv := httptest.NewServer(NewBridge(hub, TopicCarControl))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	// not inbound, dropped
	js, err := EncodeJSON(Message{Topic: TopicCarState, Valid: true, Payload: map[string]any{"vEgo": 3}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, js))

	b, err := Encode(Message{Topic: TopicCarControl, LogMonoTime: 7, Valid: true, Payload: map[string]any{"enabled": true}})
	require.NoError(t, err)
	sent := uint64(time.Now().UnixNano())
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, b))

	select {
	case m := <-ctrl:
		assert.GreaterOrEqual(t, m.LogMonoTime, sent, "stamped on arrival")
		assert.Equal(t, map[string]any{"enabled": true}, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound carControl was not published")
	}
	select {
	case m := <-state:
		t.Fatalf("outbound-only topic was published: %+v", m)
	default:
	}
}
