package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/canbridge/internal/serialmux"
)

// CAN sources understood by the bridge.
const (
	SourceSocketCAN = "socketcan"
	SourceSLCAN     = "slcan"
	SourceReplay    = "replay"
)

// Defaults applied by the Get* accessors.
const (
	DefaultRateHz              = 100.0
	DefaultReceiveTimeout      = "20ms"
	DefaultParamsPath          = "params.db"
	DefaultCacheDir            = "/cache"
	DefaultDebugListen         = "127.0.0.1:8081"
	DefaultStartupTimeout      = "10s"
	DefaultRealtimePriority    = 3
	DefaultReplaySpeed         = 1.0
	DefaultLagPrintThresholdMs = 0.0
)

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// BridgeConfig is the bridge process configuration. Every field is
// optional; the Get* methods supply defaults for fields the file omits.
type BridgeConfig struct {
	// Vehicle
	Fingerprint *string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty" toml:"fingerprint,omitempty"`

	// CAN input
	CANSource   *string                `json:"can_source,omitempty" yaml:"can_source,omitempty" toml:"can_source,omitempty"`
	Interfaces  []string               `json:"interfaces,omitempty" yaml:"interfaces,omitempty" toml:"interfaces,omitempty"`
	SerialPort  *string                `json:"serial_port,omitempty" yaml:"serial_port,omitempty" toml:"serial_port,omitempty"`
	Serial      *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty" toml:"serial,omitempty"`
	ReplayPath  *string                `json:"replay_path,omitempty" yaml:"replay_path,omitempty" toml:"replay_path,omitempty"`
	ReplaySpeed *float64               `json:"replay_speed,omitempty" yaml:"replay_speed,omitempty" toml:"replay_speed,omitempty"`
	RecordPath  *string                `json:"record_path,omitempty" yaml:"record_path,omitempty" toml:"record_path,omitempty"`

	// Storage
	ParamsPath *string `json:"params_path,omitempty" yaml:"params_path,omitempty" toml:"params_path,omitempty"`
	CacheDir   *string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" toml:"cache_dir,omitempty"`

	// Loop
	RateHz              *float64 `json:"rate_hz,omitempty" yaml:"rate_hz,omitempty" toml:"rate_hz,omitempty"`
	ReceiveTimeout      *string  `json:"receive_timeout,omitempty" yaml:"receive_timeout,omitempty" toml:"receive_timeout,omitempty"` // duration string like "20ms"
	StartupTimeout      *string  `json:"startup_timeout,omitempty" yaml:"startup_timeout,omitempty" toml:"startup_timeout,omitempty"`
	LagPrintThresholdMs *float64 `json:"lag_print_threshold_ms,omitempty" yaml:"lag_print_threshold_ms,omitempty" toml:"lag_print_threshold_ms,omitempty"`
	RealtimeCores       []int    `json:"realtime_cores,omitempty" yaml:"realtime_cores,omitempty" toml:"realtime_cores,omitempty"`
	RealtimePriority    *int     `json:"realtime_priority,omitempty" yaml:"realtime_priority,omitempty" toml:"realtime_priority,omitempty"`

	// Debug surface
	DebugListen *string `json:"debug_listen,omitempty" yaml:"debug_listen,omitempty" toml:"debug_listen,omitempty"`
	GRPCListen  *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty" toml:"grpc_listen,omitempty"`
}

// LoadBridgeConfig reads a BridgeConfig from a .json, .yaml/.yml or .toml
// file. The file must be under 1MB. Omitted fields keep their defaults.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml", ".toml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseBridgeConfig(ext, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseBridgeConfig decodes data in the format named by ext and validates
// the result.
func ParseBridgeConfig(ext string, data []byte) (*BridgeConfig, error) {
	cfg := &BridgeConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *BridgeConfig) Validate() error {
	switch c.GetCANSource() {
	case SourceSocketCAN:
		if len(c.GetInterfaces()) == 0 {
			return fmt.Errorf("socketcan source needs at least one interface")
		}
	case SourceSLCAN:
		if c.GetSerialPort() == "" {
			return fmt.Errorf("slcan source needs serial_port")
		}
		if c.Serial != nil {
			if _, err := c.Serial.Normalize(); err != nil {
				return fmt.Errorf("serial: %w", err)
			}
		}
	case SourceReplay:
		if c.GetReplayPath() == "" {
			return fmt.Errorf("replay source needs replay_path")
		}
	default:
		return fmt.Errorf("unknown can_source %q", c.GetCANSource())
	}

	if c.RateHz != nil && (*c.RateHz <= 0 || *c.RateHz > 1000) {
		return fmt.Errorf("rate_hz must be in (0, 1000], got %f", *c.RateHz)
	}
	if c.ReplaySpeed != nil && *c.ReplaySpeed < 0 {
		return fmt.Errorf("replay_speed must be non-negative, got %f", *c.ReplaySpeed)
	}
	if c.LagPrintThresholdMs != nil && *c.LagPrintThresholdMs < 0 {
		return fmt.Errorf("lag_print_threshold_ms must be non-negative, got %f", *c.LagPrintThresholdMs)
	}

	for name, v := range map[string]*string{
		"receive_timeout": c.ReceiveTimeout,
		"startup_timeout": c.StartupTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.RealtimePriority != nil && (*c.RealtimePriority < 0 || *c.RealtimePriority > 99) {
		return fmt.Errorf("realtime_priority must be in [0, 99], got %d", *c.RealtimePriority)
	}
	for _, core := range c.RealtimeCores {
		if core < 0 {
			return fmt.Errorf("realtime_cores must be non-negative, got %d", core)
		}
	}
	return nil
}

// GetFingerprint returns the configured platform name, empty if unset.
func (c *BridgeConfig) GetFingerprint() string {
	if c.Fingerprint == nil {
		return ""
	}
	return *c.Fingerprint
}

// GetCANSource returns the CAN source kind, socketcan by default.
func (c *BridgeConfig) GetCANSource() string {
	if c.CANSource == nil || *c.CANSource == "" {
		return SourceSocketCAN
	}
	return *c.CANSource
}

// GetInterfaces returns the SocketCAN interfaces in bus order.
func (c *BridgeConfig) GetInterfaces() []string {
	if len(c.Interfaces) == 0 {
		return []string{"can0"}
	}
	return c.Interfaces
}

// GetSerialPort returns the SLCAN adapter device path.
func (c *BridgeConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerialOptions returns normalized serial options.
func (c *BridgeConfig) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	norm, err := opts.Normalize()
	if err != nil {
		return serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}
	}
	return norm
}

// GetReplayPath returns the capture file to replay.
func (c *BridgeConfig) GetReplayPath() string {
	if c.ReplayPath == nil {
		return ""
	}
	return *c.ReplayPath
}

// GetReplaySpeed returns the replay speed multiplier. 0 replays as fast
// as possible.
func (c *BridgeConfig) GetReplaySpeed() float64 {
	if c.ReplaySpeed == nil {
		return DefaultReplaySpeed
	}
	return *c.ReplaySpeed
}

// GetRecordPath returns the capture file received traffic is teed to,
// empty to disable recording.
func (c *BridgeConfig) GetRecordPath() string {
	if c.RecordPath == nil {
		return ""
	}
	return *c.RecordPath
}

// GetParamsPath returns the params database path.
func (c *BridgeConfig) GetParamsPath() string {
	if c.ParamsPath == nil || *c.ParamsPath == "" {
		return DefaultParamsPath
	}
	return *c.ParamsPath
}

// GetCacheDir returns the directory a user-supplied SecOC key is read from.
func (c *BridgeConfig) GetCacheDir() string {
	if c.CacheDir == nil || *c.CacheDir == "" {
		return DefaultCacheDir
	}
	return *c.CacheDir
}

// GetRateHz returns the control loop frequency.
func (c *BridgeConfig) GetRateHz() float64 {
	if c.RateHz == nil {
		return DefaultRateHz
	}
	return *c.RateHz
}

// GetReceiveTimeout returns how long one blocking receive waits.
func (c *BridgeConfig) GetReceiveTimeout() time.Duration {
	return parseDurationOr(c.ReceiveTimeout, DefaultReceiveTimeout)
}

// GetStartupTimeout returns how long startup waits for the first CAN batch
// and the first panda state.
func (c *BridgeConfig) GetStartupTimeout() time.Duration {
	return parseDurationOr(c.StartupTimeout, DefaultStartupTimeout)
}

// GetLagPrintThreshold returns the lag above which the rate keeper logs,
// 0 to disable.
func (c *BridgeConfig) GetLagPrintThreshold() time.Duration {
	ms := DefaultLagPrintThresholdMs
	if c.LagPrintThresholdMs != nil {
		ms = *c.LagPrintThresholdMs
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// GetRealtimeCores returns the CPUs the control loop is pinned to.
func (c *BridgeConfig) GetRealtimeCores() []int {
	return c.RealtimeCores
}

// GetRealtimePriority returns the SCHED_FIFO priority, 0 to leave the
// scheduler alone.
func (c *BridgeConfig) GetRealtimePriority() int {
	if c.RealtimePriority == nil {
		return DefaultRealtimePriority
	}
	return *c.RealtimePriority
}

// GetDebugListen returns the debug HTTP listen address, empty to disable.
func (c *BridgeConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return DefaultDebugListen
	}
	return *c.DebugListen
}

// GetGRPCListen returns the gRPC health listen address, empty to disable.
func (c *BridgeConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

func parseDurationOr(v *string, def string) time.Duration {
	s := def
	if v != nil && *v != "" {
		s = *v
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

// DefaultBridgeConfig returns a config with every defaultable field set.
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		CANSource:           ptrString(SourceSocketCAN),
		Interfaces:          []string{"can0"},
		ParamsPath:          ptrString(DefaultParamsPath),
		CacheDir:            ptrString(DefaultCacheDir),
		RateHz:              ptrFloat64(DefaultRateHz),
		ReceiveTimeout:      ptrString(DefaultReceiveTimeout),
		StartupTimeout:      ptrString(DefaultStartupTimeout),
		LagPrintThresholdMs: ptrFloat64(DefaultLagPrintThresholdMs),
		RealtimePriority:    ptrInt(DefaultRealtimePriority),
		DebugListen:         ptrString(DefaultDebugListen),
	}
}

func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
