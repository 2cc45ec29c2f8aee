// Package monitor is the bridge's debug surface: loop status and counters
// under /debug/, a cycle lag chart, a live websocket stream of the hub
// and a gRPC health service for process supervisors.
package monitor

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/canbridge/internal/card"
	"github.com/banshee-data/canbridge/internal/messaging"
)

// Loop is the part of the control loop the debug surface reads.
type Loop interface {
	Status() card.Status
	LagHistory() []float64
}

// Server serves the debug routes for one loop.
type Server struct {
	loop    Loop
	hub     *messaging.Hub
	inbound []string

	mu       sync.Mutex
	counters map[string]func() uint64
}

// NewServer creates a debug server. hub may be nil, which disables the
// live stream. Stream clients may publish on the inbound topics.
func NewServer(loop Loop, hub *messaging.Hub, inbound ...string) *Server {
	return &Server{loop: loop, hub: hub, inbound: inbound, counters: make(map[string]func() uint64)}
}

// AddCounter exposes a monotonic counter on the debug index and in
// /debug/counters.
func (s *Server) AddCounter(name string, f func() uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] = f
}

func (s *Server) counterValues() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counters))
	for name, f := range s.counters {
		out[name] = f()
	}
	return out
}

// AttachAdminRoutes mounts the debug routes on mux. Counters must be
// added before this is called to appear on the index page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	s.mu.Lock()
	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := s.counters[name]
		debug.KVFunc(name, func() any { return f() })
	}
	s.mu.Unlock()
	debug.KVFunc("mode", func() any { return s.loop.Status().Mode.String() })

	debug.Handle("card", "Control loop status (JSON)", http.HandlerFunc(s.handleStatus))
	debug.Handle("counters", "Ingest, transmit and params counters (JSON)", http.HandlerFunc(s.handleCounters))
	debug.Handle("lag", "Cycle lag chart", http.HandlerFunc(s.handleLagChart))
	debug.Handle("lag.png", "Cycle lag histogram", http.HandlerFunc(s.handleLagHistogram))
	if s.hub != nil {
		debug.HandleSilent("stream", messaging.NewBridge(s.hub, s.inbound...))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.loop.Status())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.counterValues())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
