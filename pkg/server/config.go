package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jklatt/parlor/pkg/model"
	"github.com/jklatt/parlor/pkg/protocol"
)

// Config holds server configuration. Zero values fall back to the
// defaults from DefaultConfig.
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // HTTP/WebSocket bind address (e.g. ":3000")
	DBPath     string `yaml:"db_path"`     // bbolt database path
	StaticDir  string `yaml:"static_dir"`  // directory of client assets served at / (empty = disabled)

	UsernameMinLength     int    `yaml:"username_min_length"`
	UsernameMaxLength     int    `yaml:"username_max_length"`
	DefaultUsernamePrefix string `yaml:"default_username_prefix"` // prefix for auto-provisioned usernames
	MaxStatusLength       int    `yaml:"max_status_length"`

	InactivityTimeout time.Duration `yaml:"inactivity_timeout"` // active -> inactive demotion delay
	GroupWindow       time.Duration `yaml:"group_window"`       // username header suppression window

	FrameRate  float64 `yaml:"frame_rate"`  // sustained inbound frames/sec per connection
	FrameBurst int     `yaml:"frame_burst"` // burst allowance per connection
	SendBuffer int     `yaml:"send_buffer"` // outbound queue length per connection

	AllowedOrigins []string `yaml:"allowed_origins"` // WebSocket Origin allow-list (empty = any)

	ICEServers            []protocol.ICEServer           `yaml:"ice_servers"`
	MediaTrackConstraints protocol.MediaTrackConstraints `yaml:"media_track_constraints"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:            ":3000",
		DBPath:                "parlor.db",
		UsernameMinLength:     3,
		UsernameMaxLength:     20,
		DefaultUsernamePrefix: "user",
		MaxStatusLength:       128,
		InactivityTimeout:     10 * time.Minute,
		GroupWindow:           2 * time.Minute,
		FrameRate:             10,
		FrameBurst:            20,
		SendBuffer:            256,
		ICEServers: []protocol.ICEServer{
			{URLs: "stun:stun.l.google.com:19302"},
		},
		MediaTrackConstraints: protocol.MediaTrackConstraints{
			Audio: protocol.AudioConstraints{
				NoiseSuppression: true,
				AutoGainControl:  true,
			},
			Video: false,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return cfg, fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("server: parse config: %w", err)
	}
	return cfg, nil
}

// UsernamePolicy derives the validation policy from the configured bounds.
func (c Config) UsernamePolicy() model.UsernamePolicy {
	return model.UsernamePolicy{MinLength: c.UsernameMinLength, MaxLength: c.UsernameMaxLength}
}
