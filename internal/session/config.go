package session

import (
	"time"

	"github.com/abhi7860/guacamole-server/internal/protocol"
)

// Config defines session timing behavior.
//
// SyncThreshold is the time allowed between a liveness ping and its
// response before backend message delivery is suspended. SyncFrequency is
// how often a ping is emitted while the peer is synced. MessagePause is the
// delay inserted after a backend handler invocation that emitted outbound
// instructions. ReadWait bounds the relay loop's per-iteration wait for
// inbound data so timing obligations are checked even on an idle
// connection.
type Config struct {
	SyncThreshold      time.Duration
	SyncFrequency      time.Duration
	MessagePause       time.Duration
	ReadWait           time.Duration
	MaxInstructionSize int
}

func DefaultConfig() Config {
	return Config{
		SyncThreshold:      500 * time.Millisecond,
		SyncFrequency:      5000 * time.Millisecond,
		MessagePause:       50 * time.Millisecond,
		ReadWait:           100 * time.Millisecond,
		MaxInstructionSize: protocol.DefaultMaxInstructionSize,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SyncThreshold <= 0 {
		c.SyncThreshold = def.SyncThreshold
	}
	if c.SyncFrequency <= 0 {
		c.SyncFrequency = def.SyncFrequency
	}
	if c.MessagePause <= 0 {
		c.MessagePause = def.MessagePause
	}
	if c.ReadWait <= 0 {
		c.ReadWait = def.ReadWait
	}
	if c.MaxInstructionSize <= 0 {
		c.MaxInstructionSize = def.MaxInstructionSize
	}
	return c
}
