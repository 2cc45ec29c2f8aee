package monitor

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/canbridge/internal/monitoring"
)

// ServiceName is the gRPC health service the control loop reports under.
const ServiceName = "canbridge.card"

// DefaultHealthInterval is how often Health re-evaluates the loop.
const DefaultHealthInterval = time.Second

// Health reports the loop as SERVING while it keeps cycling and its
// frames keep arriving.
type Health struct {
	loop Loop
	srv  *health.Server

	mu           sync.Mutex
	lastFrame    uint64
	lastTimeouts uint64
	status       healthpb.HealthCheckResponse_ServingStatus
}

// NewHealth creates a health reporter. The loop starts NOT_SERVING until
// the first Update sees it cycle.
func NewHealth(loop Loop) *Health {
	h := &Health{loop: loop, srv: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Update re-evaluates the loop. It is serving when the frame counter
// moved since the last Update and not every one of those cycles timed out
// waiting for frames.
func (h *Health) Update() healthpb.HealthCheckResponse_ServingStatus {
	st := h.loop.Status()

	h.mu.Lock()
	cycles := st.Frame - h.lastFrame
	timeouts := st.CanTimeouts - h.lastTimeouts
	h.lastFrame = st.Frame
	h.lastTimeouts = st.CanTimeouts
	h.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if cycles == 0 || timeouts >= cycles {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(status)
	return status
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	changed := h.status != status
	h.status = status
	h.mu.Unlock()
	if changed {
		monitoring.Logf("[monitor] health %s", status)
	}
	h.srv.SetServingStatus(ServiceName, status)
	h.srv.SetServingStatus("", status)
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Run updates the status every interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Update()
		}
	}
}

// ServeGRPC serves the health service on addr until ctx is done.
func ServeGRPC(ctx context.Context, addr string, h *Health) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: listen %s: %w", addr, err)
	}
	s := grpc.NewServer()
	h.Register(s)

	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	log.Printf("[monitor] gRPC health listening on %s", lis.Addr())
	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("monitor: serve gRPC: %w", err)
	}
	return nil
}
