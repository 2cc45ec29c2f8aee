// Command card runs the vehicle bridge: it reads the vehicle buses,
// publishes decoded state at 100 Hz and sends control commands when the
// control stack asks for them and it is allowed to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/car"
	_ "github.com/banshee-data/canbridge/internal/car/gm"
	_ "github.com/banshee-data/canbridge/internal/car/mock"
	_ "github.com/banshee-data/canbridge/internal/car/subaru"
	"github.com/banshee-data/canbridge/internal/card"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/ingest"
	"github.com/banshee-data/canbridge/internal/messaging"
	"github.com/banshee-data/canbridge/internal/monitor"
	"github.com/banshee-data/canbridge/internal/params"
	"github.com/banshee-data/canbridge/internal/realtime"
	"github.com/banshee-data/canbridge/internal/timeutil"
	"github.com/banshee-data/canbridge/internal/version"
)

var (
	configPath  = flag.String("config", "", "Bridge config file (.json, .yaml or .toml)")
	fingerprint = flag.String("fingerprint", "", "Platform to run, overrides the config file")
	listModels  = flag.Bool("list-models", false, "Print the supported platforms and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// inboundTopics are the upstream topics stream clients may publish.
var inboundTopics = []string{
	messaging.TopicCarControl,
	messaging.TopicOnroadEvents,
	messaging.TopicLiveCalibration,
	messaging.TopicFrogpilotPlan,
	messaging.TopicGPSLocation,
	messaging.TopicGPSLocationExternal,
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listModels {
		for _, m := range car.Models() {
			fmt.Println(m)
		}
		return
	}

	cfg, err := loadConfig(*configPath, *fingerprint)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("%s starting for %s", version.String(), cfg.GetFingerprint())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clock := timeutil.RealClock{}

	store, err := params.Open(cfg.GetParamsPath())
	if err != nil {
		log.Fatalf("failed to open params store: %v", err)
	}
	defer store.Close()
	writer := params.NewWriter(store, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()

	hub := messaging.NewHub()
	rx := ingest.NewReceiver(ingest.ReceiverConfig{Timeout: cfg.GetReceiveTimeout(), Clock: clock})
	sinks := []func(can.Batch){rx.Push}

	var recorder *ingest.Recorder
	if path := cfg.GetRecordPath(); path != "" {
		recorder, err = ingest.NewRecorder(path)
		if err != nil {
			log.Fatalf("failed to start recording: %v", err)
		}
		sinks = append(sinks, recorder.Record)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Run(ctx); err != nil {
				log.Printf("recorder stopped: %v", err)
			}
		}()
	}
	deliver := func(b can.Batch) {
		for _, sink := range sinks {
			sink(b)
		}
	}

	batcher := ingest.NewBatcher(ingest.DefaultBatchWindow, clock, deliver)
	wg.Add(1)
	go func() {
		defer wg.Done()
		batcher.Run(ctx)
	}()

	links, adapter, err := openLinks(cfg, clock)
	if err != nil {
		log.Fatalf("failed to open vehicle link: %v", err)
	}
	defer adapter.Close()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adapter.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial adapter: %v", err)
		}
	}()
	for _, l := range links {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Run(ctx, batcher.Add); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", l, err)
			}
		}()
	}

	replay := cfg.GetCANSource() == config.SourceReplay
	if replay {
		src := ingest.NewReplaySource(cfg.GetReplayPath(), ingest.ReplayConfig{
			SpeedMultiplier: cfg.GetReplaySpeed(),
			Clock:           clock,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(ctx, deliver); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", src, err)
				return
			}
			log.Printf("%s finished", src)
		}()
	}

	tx := ingest.NewTransmitter(frameSinks(links, replay), batcher.Add)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tx.Run(ctx)
	}()

	panda := newPandaReporter(links, rx, replay)
	wg.Add(1)
	go func() {
		defer wg.Done()
		panda.Run(ctx, messaging.NewPubMaster(hub, clock), clock)
	}()

	loop, err := card.New(ctx, card.Config{
		Fingerprint:       cfg.GetFingerprint(),
		Hub:               hub,
		Receiver:          rx,
		Sender:            tx,
		Store:             store,
		Writer:            writer,
		Clock:             clock,
		RateHz:            cfg.GetRateHz(),
		LagPrintThreshold: cfg.GetLagPrintThreshold(),
		StartupTimeout:    cfg.GetStartupTimeout(),
		CacheDir:          cfg.GetCacheDir(),
		Replay:            replay,
	})
	if errors.Is(err, car.ErrUnknownPlatform) {
		log.Fatalf("%v (see -list-models)", err)
	}
	if err != nil {
		log.Fatalf("failed to start control loop: %v", err)
	}
	defer loop.Close()
	panda.SetSafety(loop.Params().SafetyConfigs)

	if addr := cfg.GetDebugListen(); addr != "" {
		mon := monitor.NewServer(loop, hub, inboundTopics...)
		mon.AddCounter("ingest.received", rx.Received)
		mon.AddCounter("ingest.timeouts", rx.TimeoutCount)
		mon.AddCounter("ingest.drops", rx.Drops)
		mon.AddCounter("transmit.sent", tx.Sent)
		mon.AddCounter("transmit.failed", tx.Failed)
		mon.AddCounter("transmit.dropped", tx.Dropped)
		mon.AddCounter("params.written", writer.Written)
		mon.AddCounter("params.dropped", writer.Dropped)
		mon.AddCounter("hub.drops", hub.Drops)
		if recorder != nil {
			mon.AddCounter("record.dropped", recorder.Dropped)
		}

		mux := http.NewServeMux()
		mon.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("params admin routes unavailable: %v", err)
		}
		adapter.AttachAdminRoutes(mux)

		server := &http.Server{Addr: addr, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("debug server failed: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown: %v", err)
			}
		}()
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		health := monitor.NewHealth(loop)
		wg.Add(2)
		go func() {
			defer wg.Done()
			health.Run(ctx, monitor.DefaultHealthInterval)
		}()
		go func() {
			defer wg.Done()
			if err := monitor.ServeGRPC(ctx, addr, health); err != nil {
				log.Printf("gRPC health server: %v", err)
			}
		}()
	}

	// The loop owns its goroutine; realtime setup locks it to one thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if err := realtime.ConfigRealtimeProcess(cfg.GetRealtimeCores(), cfg.GetRealtimePriority()); err != nil {
			log.Printf("running without realtime scheduling: %v", err)
		}
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("control loop stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	wg.Wait()
}
