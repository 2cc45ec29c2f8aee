package messaging

import "github.com/banshee-data/canbridge/internal/timeutil"

// PubMaster stamps and publishes messages on a hub.
type PubMaster struct {
	hub   *Hub
	clock timeutil.Clock
}

// NewPubMaster creates a publisher on hub.
func NewPubMaster(hub *Hub, clock timeutil.Clock) *PubMaster {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PubMaster{hub: hub, clock: clock}
}

// Send publishes payload on topic with the current time.
func (p *PubMaster) Send(topic string, payload any, valid bool) {
	p.hub.Publish(Message{
		Topic:       topic,
		LogMonoTime: timeutil.Nanos(p.clock),
		Valid:       valid,
		Payload:     payload,
	})
}
