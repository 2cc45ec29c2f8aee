package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/canbridge/internal/params"
)

func TestDefaultBridgeConfig(t *testing.T) {
	cfg := DefaultBridgeConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.GetCANSource() != SourceSocketCAN {
		t.Errorf("GetCANSource() = %q, want %q", cfg.GetCANSource(), SourceSocketCAN)
	}
	if cfg.GetRateHz() != 100 {
		t.Errorf("GetRateHz() = %f, want 100", cfg.GetRateHz())
	}
	if cfg.GetReceiveTimeout() != 20*time.Millisecond {
		t.Errorf("GetReceiveTimeout() = %v, want 20ms", cfg.GetReceiveTimeout())
	}
	if cfg.GetLagPrintThreshold() != 0 {
		t.Errorf("GetLagPrintThreshold() = %v, want 0", cfg.GetLagPrintThreshold())
	}
}

func TestEmptyBridgeConfigGetters(t *testing.T) {
	cfg := &BridgeConfig{}

	if got := cfg.GetInterfaces(); len(got) != 1 || got[0] != "can0" {
		t.Errorf("GetInterfaces() = %v, want [can0]", got)
	}
	if cfg.GetParamsPath() != DefaultParamsPath {
		t.Errorf("GetParamsPath() = %q", cfg.GetParamsPath())
	}
	if cfg.GetCacheDir() != DefaultCacheDir {
		t.Errorf("GetCacheDir() = %q", cfg.GetCacheDir())
	}
	if cfg.GetStartupTimeout() != 10*time.Second {
		t.Errorf("GetStartupTimeout() = %v", cfg.GetStartupTimeout())
	}
	if cfg.GetRealtimePriority() != DefaultRealtimePriority {
		t.Errorf("GetRealtimePriority() = %d", cfg.GetRealtimePriority())
	}
	if cfg.GetReplaySpeed() != 1 {
		t.Errorf("GetReplaySpeed() = %f", cfg.GetReplaySpeed())
	}
	if cfg.GetGRPCListen() != "" {
		t.Errorf("GetGRPCListen() = %q, want empty", cfg.GetGRPCListen())
	}
	opts := cfg.GetSerialOptions()
	if opts.BaudRate != 115200 || opts.CANBitrate != 500000 || opts.Parity != "N" {
		t.Errorf("GetSerialOptions() = %+v", opts)
	}
}

func TestLoadBridgeConfigFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "bridge.json",
			body: `{
  "fingerprint": "CHEVROLET_BOLT_EUV",
  "can_source": "slcan",
  "serial_port": "/dev/ttyACM0",
  "serial": {"baud_rate": 921600, "can_bitrate": 250000},
  "rate_hz": 50,
  "receive_timeout": "15ms",
  "lag_print_threshold_ms": 2.5,
  "realtime_cores": [3]
}`,
		},
		{
			name: "yaml",
			file: "bridge.yaml",
			body: `fingerprint: CHEVROLET_BOLT_EUV
can_source: slcan
serial_port: /dev/ttyACM0
serial:
  baud_rate: 921600
  can_bitrate: 250000
rate_hz: 50
receive_timeout: 15ms
lag_print_threshold_ms: 2.5
realtime_cores: [3]
`,
		},
		{
			name: "toml",
			file: "bridge.toml",
			body: `fingerprint = "CHEVROLET_BOLT_EUV"
can_source = "slcan"
serial_port = "/dev/ttyACM0"
rate_hz = 50.0
receive_timeout = "15ms"
lag_print_threshold_ms = 2.5
realtime_cores = [3]

[serial]
baud_rate = 921600
can_bitrate = 250000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadBridgeConfig(path)
			if err != nil {
				t.Fatalf("LoadBridgeConfig: %v", err)
			}
			if cfg.GetFingerprint() != "CHEVROLET_BOLT_EUV" {
				t.Errorf("fingerprint = %q", cfg.GetFingerprint())
			}
			if cfg.GetCANSource() != SourceSLCAN {
				t.Errorf("can_source = %q", cfg.GetCANSource())
			}
			if cfg.GetRateHz() != 50 {
				t.Errorf("rate_hz = %f", cfg.GetRateHz())
			}
			if cfg.GetReceiveTimeout() != 15*time.Millisecond {
				t.Errorf("receive_timeout = %v", cfg.GetReceiveTimeout())
			}
			if cfg.GetLagPrintThreshold() != 2500*time.Microsecond {
				t.Errorf("lag threshold = %v", cfg.GetLagPrintThreshold())
			}
			if got := cfg.GetRealtimeCores(); len(got) != 1 || got[0] != 3 {
				t.Errorf("realtime_cores = %v", got)
			}
			opts := cfg.GetSerialOptions()
			if opts.BaudRate != 921600 || opts.CANBitrate != 250000 {
				t.Errorf("serial = %+v", opts)
			}
		})
	}
}

func TestLoadBridgeConfigRejects(t *testing.T) {
	dir := t.TempDir()

	badExt := filepath.Join(dir, "bridge.ini")
	if err := os.WriteFile(badExt, []byte("x=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBridgeConfig(badExt); err == nil {
		t.Error("expected error for .ini extension")
	}

	if _, err := LoadBridgeConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := filepath.Join(dir, "big.json")
	if err := os.WriteFile(big, []byte(`{"fingerprint":"`+strings.Repeat("x", maxConfigFileSize)+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBridgeConfig(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBridgeConfig(garbage); err == nil {
		t.Error("expected parse error")
	}
}

func TestBridgeConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"unknown source", `{"can_source": "carrier-pigeon"}`},
		{"slcan without port", `{"can_source": "slcan"}`},
		{"replay without path", `{"can_source": "replay"}`},
		{"zero rate", `{"rate_hz": 0}`},
		{"bad timeout", `{"receive_timeout": "soon"}`},
		{"negative timeout", `{"receive_timeout": "-1ms"}`},
		{"negative lag threshold", `{"lag_print_threshold_ms": -1}`},
		{"priority too high", `{"realtime_priority": 100}`},
		{"negative core", `{"realtime_cores": [-1]}`},
		{"bad parity", `{"can_source": "slcan", "serial_port": "/dev/ttyACM0", "serial": {"parity": "X"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBridgeConfig(".json", []byte(tt.json))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ParseBridgeConfig(%s) err = %v, want ErrInvalidConfig", tt.json, err)
			}
		})
	}
}

type fakeParams map[string]string

func (f fakeParams) GetBool(key string) bool { return f[key] == "1" }

func (f fakeParams) GetInt(key string, def int) int {
	switch f[key] {
	case "":
		return def
	case "3":
		return 3
	default:
		return def
	}
}

func TestLoadToggles(t *testing.T) {
	got := LoadToggles(fakeParams{
		params.OpenpilotEnabledToggle: "1",
		params.DisengageOnAccelerator: "0",
		params.AccelerationProfile:    "3",
		params.AlwaysOnLateral:        "1",
	})
	want := Toggles{
		OpenpilotEnabled:    true,
		AccelerationProfile: AccelerationProfileSport,
		AlwaysOnLateral:     true,
	}
	if got != want {
		t.Errorf("LoadToggles() = %+v, want %+v", got, want)
	}

	if empty := LoadToggles(fakeParams{}); empty != (Toggles{}) {
		t.Errorf("LoadToggles(empty) = %+v, want zero", empty)
	}

	def := DefaultToggles()
	if !def.OpenpilotEnabled || !def.DisengageOnAccelerator {
		t.Errorf("DefaultToggles() = %+v", def)
	}
}
