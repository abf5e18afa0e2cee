package playback

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Backend selection values for ConnectionConfig.Backend.
const (
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendXPC    = "xpc"
)

// ConnectionConfig describes how to reach the simulator.
type ConnectionConfig struct {
	Host string `yaml:"host"`
	// Backend selects the transport: auto, native, or xpc. Auto tries
	// the XPC plugin first and falls back to the native protocol.
	Backend string `yaml:"backend"`
	// Port is the XPC plugin port; NativePort is X-Plane's built-in
	// UDP port.
	Port       int `yaml:"port"`
	NativePort int `yaml:"native_port"`
	// TimeoutSeconds bounds connection setup and read-back waits.
	TimeoutSeconds float64 `yaml:"timeout"`
}

// Timeout returns the read-back timeout as a duration.
func (c ConnectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// OriginConfig fixes where the trajectory's local (0,0,0) sits on the
// globe. With AutoDetect set the origin is read from the simulator's
// current aircraft position when playback starts.
type OriginConfig struct {
	AutoDetect bool    `yaml:"auto_detect"`
	Latitude   float64 `yaml:"latitude"`
	Longitude  float64 `yaml:"longitude"`
	Altitude   float64 `yaml:"altitude"`
}

// SendFlags suppress message categories independently.
type SendFlags struct {
	Position   bool `yaml:"position"`
	Attitude   bool `yaml:"attitude"`
	Controls   bool `yaml:"controls"`
	Propulsion bool `yaml:"propulsion"`
}

// PlaybackDefaults are the initial speed and looping behaviour.
type PlaybackDefaults struct {
	Speed float64 `yaml:"default_speed"`
	Loop  bool    `yaml:"loop"`
}

// Config is the full playback configuration. Load it from YAML with
// LoadConfig or start from DefaultConfig and adjust fields.
type Config struct {
	Connection ConnectionConfig          `yaml:"connection"`
	Playback   PlaybackDefaults          `yaml:"playback"`
	Origin     OriginConfig              `yaml:"origin"`
	Send       SendFlags                 `yaml:"features"`
	Channels   map[string]ChannelMapping `yaml:"variable_mapping"`
}

// DefaultConfig returns a configuration targeting a simulator on
// localhost, sending every category, with the built-in channel mapping.
func DefaultConfig() Config {
	return Config{
		Connection: ConnectionConfig{
			Host:           "localhost",
			Backend:        BackendAuto,
			Port:           49009,
			NativePort:     49000,
			TimeoutSeconds: 3.0,
		},
		Playback: PlaybackDefaults{Speed: 1.0},
		Origin:   OriginConfig{AutoDetect: true},
		Send: SendFlags{
			Position:   true,
			Attitude:   true,
			Controls:   true,
			Propulsion: true,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. Keys
// absent from the file keep their default values. Malformed files and
// invalid values fail here, before playback starts.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration bytes over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values playback cannot work with.
func (c Config) Validate() error {
	switch c.Connection.Backend {
	case BackendAuto, BackendNative, BackendXPC:
	default:
		return fmt.Errorf("unknown backend %q (want auto, native, or xpc)", c.Connection.Backend)
	}
	if c.Connection.Host == "" {
		return fmt.Errorf("connection host is required")
	}
	if c.Connection.TimeoutSeconds <= 0 {
		return fmt.Errorf("connection timeout must be positive, got %v", c.Connection.TimeoutSeconds)
	}
	if c.Playback.Speed < MinSpeed || c.Playback.Speed > MaxSpeed {
		return fmt.Errorf("default speed %v outside [%v, %v]", c.Playback.Speed, MinSpeed, MaxSpeed)
	}
	if _, err := c.Mapping(); err != nil {
		return err
	}
	return nil
}

// Mapping materialises the channel mapping table, falling back to the
// built-in default when the variable_mapping section is absent.
func (c Config) Mapping() (Mapping, error) {
	if len(c.Channels) == 0 {
		return DefaultMapping(), nil
	}
	return NewMapping(c.Channels)
}
