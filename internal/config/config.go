package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Linak DeskLine CBD control box.
const (
	DefaultVendorID  = 0x12d3
	DefaultProductID = 0x0002
)

// DeviceConfig selects the USB device and its transfer timeout.
type DeviceConfig struct {
	VendorID  uint16 `yaml:"vendor_id" env:"DESKGO_VENDOR_ID"`
	ProductID uint16 `yaml:"product_id" env:"DESKGO_PRODUCT_ID"`
	TimeoutMs int    `yaml:"timeout_ms" env:"DESKGO_TIMEOUT_MS"` // per control transfer
	Mock      bool   `yaml:"mock" env:"DESKGO_MOCK"`             // use the in-process simulator instead of USB
}

// MotionConfig tunes the closed-loop move.
type MotionConfig struct {
	MaxRetry      int `yaml:"max_retry" env:"DESKGO_MAX_RETRY"`             // consecutive settled polls before a move is done
	Epsilon       int `yaml:"epsilon" env:"DESKGO_EPSILON"`                 // position tolerance in device units
	SettleDelayMs int `yaml:"settle_delay_ms" env:"DESKGO_SETTLE_DELAY_MS"` // delay between move command and status poll
}

// HandshakeConfig holds the delays of the readiness handshake.
type HandshakeConfig struct {
	ModeSettleMs int `yaml:"mode_settle_ms"` // after SET_MODE
	InitSettleMs int `yaml:"init_settle_ms"` // after the initial MOVE_END
}

// SimulatorConfig describes the simulated desk used when device.mock is set.
type SimulatorConfig struct {
	Speed       int    `yaml:"speed"` // position units per status poll
	MinPosition uint16 `yaml:"min_position"`
	MaxPosition uint16 `yaml:"max_position"`
	Start       uint16 `yaml:"start"`
	Ready       bool   `yaml:"ready"` // skip the blank "not ready" state
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level" env:"DESKGO_DEBUG_LEVEL"` // 0-4 (0=errors, 1=info, 2=live, 3=verbose, 4=trace)
	LogFormat  string `yaml:"log_format" env:"DESKGO_LOG_FORMAT"`   // "console" or "json"
}

// WebConfig configures the serve subcommand.
type WebConfig struct {
	Addr string `yaml:"addr" env:"DESKGO_WEB_ADDR"`
}

// Config aggregates all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Motion    MotionConfig    `yaml:"motion"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Web       WebConfig       `yaml:"web"`
}

// Default returns the built-in configuration. No file is needed to drive a desk.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			VendorID:  DefaultVendorID,
			ProductID: DefaultProductID,
			TimeoutMs: 1000,
		},
		Motion: MotionConfig{
			MaxRetry:      3,
			Epsilon:       13,
			SettleDelayMs: 200,
		},
		Handshake: HandshakeConfig{
			ModeSettleMs: 1,
			InitSettleMs: 100,
		},
		Simulator: SimulatorConfig{
			Speed:       150,
			MinPosition: 0,
			MaxPosition: 6500,
			Start:       2450,
		},
		Defaults: DefaultsConfig{
			LogFormat: "console",
		},
		Web: WebConfig{
			Addr: ":8080",
		},
	}
}

// Load returns the configuration: built-in defaults, then the YAML file at
// path (if path is not empty), then DESKGO_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults replaces zero values left by a partial file with defaults.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Device.VendorID == 0 {
		c.Device.VendorID = d.Device.VendorID
	}
	if c.Device.ProductID == 0 {
		c.Device.ProductID = d.Device.ProductID
	}
	if c.Device.TimeoutMs <= 0 {
		c.Device.TimeoutMs = d.Device.TimeoutMs
	}
	if c.Motion.MaxRetry == 0 {
		c.Motion.MaxRetry = d.Motion.MaxRetry
	}
	if c.Motion.Epsilon == 0 {
		c.Motion.Epsilon = d.Motion.Epsilon
	}
	if c.Motion.SettleDelayMs == 0 {
		c.Motion.SettleDelayMs = d.Motion.SettleDelayMs
	}
	if c.Simulator.Speed == 0 {
		c.Simulator.Speed = d.Simulator.Speed
	}
	if c.Simulator.MaxPosition == 0 {
		c.Simulator.MaxPosition = d.Simulator.MaxPosition
	}
	if c.Defaults.LogFormat == "" {
		c.Defaults.LogFormat = d.Defaults.LogFormat
	}
	if c.Web.Addr == "" {
		c.Web.Addr = d.Web.Addr
	}
}

// Validate checks value ranges.
func Validate(c *Config) error {
	if c.Motion.MaxRetry < 1 || c.Motion.MaxRetry > 255 {
		return fmt.Errorf("motion.max_retry must be between 1 and 255, got %d", c.Motion.MaxRetry)
	}
	if c.Motion.Epsilon < 0 {
		return fmt.Errorf("motion.epsilon must be >= 0, got %d", c.Motion.Epsilon)
	}
	if c.Motion.SettleDelayMs < 0 {
		return fmt.Errorf("motion.settle_delay_ms must be >= 0, got %d", c.Motion.SettleDelayMs)
	}
	if c.Handshake.ModeSettleMs < 0 || c.Handshake.InitSettleMs < 0 {
		return fmt.Errorf("handshake delays must be >= 0")
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.LogFormat != "console" && c.Defaults.LogFormat != "json" {
		return fmt.Errorf("defaults.log_format must be \"console\" or \"json\", got %q", c.Defaults.LogFormat)
	}
	if c.Simulator.Speed < 0 {
		return fmt.Errorf("simulator.speed must be >= 0, got %d", c.Simulator.Speed)
	}
	if c.Simulator.MinPosition >= c.Simulator.MaxPosition {
		return fmt.Errorf("simulator.min_position (%d) must be below max_position (%d)", c.Simulator.MinPosition, c.Simulator.MaxPosition)
	}
	if c.Simulator.MaxPosition >= 32767 {
		return fmt.Errorf("simulator.max_position must be below 32767, got %d", c.Simulator.MaxPosition)
	}
	return nil
}

// Timeout returns the per-transfer USB timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Device.TimeoutMs) * time.Millisecond
}

// SettleDelay returns the delay between a move command and the next status poll.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Motion.SettleDelayMs) * time.Millisecond
}

// ModeSettle returns the delay after SET_MODE during the handshake.
func (c *Config) ModeSettle() time.Duration {
	return time.Duration(c.Handshake.ModeSettleMs) * time.Millisecond
}

// InitSettle returns the delay after the handshake's MOVE_END.
func (c *Config) InitSettle() time.Duration {
	return time.Duration(c.Handshake.InitSettleMs) * time.Millisecond
}
