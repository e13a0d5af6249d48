package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/abhi7860/guacamole-server/internal/session"
)

// Config is the guacd daemon configuration.
type Config struct {
	ListenAddr  string        `toml:"listen_addr"`
	AdminAddr   string        `toml:"admin_addr"`
	CorsOrigins []string      `toml:"cors_origins"`
	Backends    []string      `toml:"backends"`
	Session     SessionConfig `toml:"session"`
}

// SessionConfig carries the per-session timing knobs in milliseconds, as
// written in guacd.toml.
type SessionConfig struct {
	SyncThresholdMS     int64 `toml:"sync_threshold_ms"`
	SyncFrequencyMS     int64 `toml:"sync_frequency_ms"`
	MessagePauseMS      int64 `toml:"message_pause_ms"`
	ReadWaitMS          int64 `toml:"read_wait_ms"`
	HandshakeTimeoutMS  int64 `toml:"handshake_timeout_ms"`
	MaxInstructionBytes int   `toml:"max_instruction_bytes"`
}

func Default() Config {
	return Config{
		ListenAddr: ":4822",
		AdminAddr:  "",
		Backends:   []string{"loopback"},
		Session: SessionConfig{
			HandshakeTimeoutMS: 15000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":4822"
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("guacd config missing listen_addr")
	}
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("guacd config needs at least one backend")
	}
	for i, name := range cfg.Backends {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("backend[%d] name is empty", i)
		}
	}
	s := cfg.Session
	for _, v := range []int64{s.SyncThresholdMS, s.SyncFrequencyMS, s.MessagePauseMS, s.ReadWaitMS, s.HandshakeTimeoutMS} {
		if v < 0 {
			return fmt.Errorf("session timing values must not be negative")
		}
	}
	if s.MaxInstructionBytes < 0 {
		return fmt.Errorf("max_instruction_bytes must not be negative")
	}
	return nil
}

// SessionConfig converts the file shape into the runtime session config,
// letting session defaults fill anything left at zero.
func (s SessionConfig) ToSession() session.Config {
	return session.Config{
		SyncThreshold:      time.Duration(s.SyncThresholdMS) * time.Millisecond,
		SyncFrequency:      time.Duration(s.SyncFrequencyMS) * time.Millisecond,
		MessagePause:       time.Duration(s.MessagePauseMS) * time.Millisecond,
		ReadWait:           time.Duration(s.ReadWaitMS) * time.Millisecond,
		MaxInstructionSize: s.MaxInstructionBytes,
	}.WithDefaults()
}

// HandshakeTimeout returns the handshake deadline with its default applied.
func (s SessionConfig) HandshakeTimeout() time.Duration {
	if s.HandshakeTimeoutMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}
