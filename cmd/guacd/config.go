package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/abhi7860/guacamole-server/internal/config"
)

type fileConfig struct {
	ListenAddr  string            `toml:"listen_addr"`
	AdminAddr   string            `toml:"admin_addr"`
	CorsOrigins []string          `toml:"cors_origins"`
	Backends    []string          `toml:"backends"`
	Session     fileSessionConfig `toml:"session"`
}

type fileSessionConfig struct {
	SyncThresholdMS     int64 `toml:"sync_threshold_ms"`
	SyncFrequencyMS     int64 `toml:"sync_frequency_ms"`
	MessagePauseMS      int64 `toml:"message_pause_ms"`
	ReadWaitMS          int64 `toml:"read_wait_ms"`
	HandshakeTimeoutMS  int64 `toml:"handshake_timeout_ms"`
	MaxInstructionBytes int   `toml:"max_instruction_bytes"`
}

// loadDaemonConfig reads guacd.toml over the built-in defaults, applying
// only the keys the file actually defines.
func loadDaemonConfig(path string) (config.Config, error) {
	cfg := config.Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load guacd config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		addr := strings.TrimSpace(raw.ListenAddr)
		if addr != "" {
			cfg.ListenAddr = addr
		}
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	if meta.IsDefined("backends") {
		cfg.Backends = normalizeList(raw.Backends)
	}

	if meta.IsDefined("session", "sync_threshold_ms") {
		cfg.Session.SyncThresholdMS = raw.Session.SyncThresholdMS
	}
	if meta.IsDefined("session", "sync_frequency_ms") {
		cfg.Session.SyncFrequencyMS = raw.Session.SyncFrequencyMS
	}
	if meta.IsDefined("session", "message_pause_ms") {
		cfg.Session.MessagePauseMS = raw.Session.MessagePauseMS
	}
	if meta.IsDefined("session", "read_wait_ms") {
		cfg.Session.ReadWaitMS = raw.Session.ReadWaitMS
	}
	if meta.IsDefined("session", "handshake_timeout_ms") {
		cfg.Session.HandshakeTimeoutMS = raw.Session.HandshakeTimeoutMS
	}
	if meta.IsDefined("session", "max_instruction_bytes") {
		cfg.Session.MaxInstructionBytes = raw.Session.MaxInstructionBytes
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
