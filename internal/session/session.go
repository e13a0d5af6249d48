// Package session owns the per-connection runtime of the gateway: the
// session aggregate, the relay loop that moves instructions between the
// tunnel client and the loaded backend, and the sync/keepalive state
// machine.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi7860/guacamole-server/internal/channel"
	"github.com/abhi7860/guacamole-server/internal/observability"
	"github.com/abhi7860/guacamole-server/internal/protocol"
)

var (
	ErrNilBackend       = errors.New("session: nil backend")
	ErrAlreadyStarted   = errors.New("session: already started")
	ErrNotRunning       = errors.New("session: not running")
	ErrBackendInit      = errors.New("session: backend init failed")
	ErrHandlerFailed    = errors.New("session: backend handler failed")
	ErrMalformedEvent   = errors.New("session: malformed event instruction")
	ErrHandshakeInvalid = errors.New("session: handshake did not begin with connect")
	ErrMissingProtocol  = errors.New("session: handshake missing protocol name")
)

// State is the session lifecycle state. Transitions are New -> Running ->
// Stopping; Stopping is terminal.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Session is the long-lived aggregate for one tunnel-client connection. It
// exclusively owns its channel and backend; all fields are driven by a
// single sequential control flow, so only the state and timestamps (read by
// the admin surface) are atomic.
type Session struct {
	ID       uint64
	Protocol string

	ch      channel.Channel
	reader  *protocol.Reader
	writer  *protocol.Writer
	backend Backend
	cfg     Config
	log     zerolog.Logger

	state        atomic.Int32
	lastReceived atomic.Int64
	lastSent     atomic.Int64
	closeOnce    sync.Once

	sync *syncMonitor

	// Overridable in tests.
	now   func() int64
	sleep func(time.Duration)
}

func New(id uint64, ch channel.Channel, cfg Config, log zerolog.Logger) *Session {
	cfg = cfg.WithDefaults()
	return &Session{
		ID:     id,
		ch:     ch,
		reader: protocol.NewReader(ch, cfg.MaxInstructionSize),
		writer: protocol.NewWriter(ch),
		cfg:    cfg,
		log:    log.With().Uint64("session_id", id).Logger(),
		sync:   newSyncMonitor(cfg.SyncThreshold, cfg.SyncFrequency),
		now:    func() int64 { return time.Now().UnixMilli() },
		sleep:  time.Sleep,
	}
}

// Handshake reads the first instruction on the channel and extracts the
// requested backend protocol name plus the argument vector to forward to
// Backend.Init. The connection's pluggable backend is chosen from the first
// connect instruction received.
func (s *Session) Handshake(timeout time.Duration) (string, []string, error) {
	inst, err := s.reader.ReadInstruction(timeout)
	if err != nil {
		return "", nil, err
	}
	if inst.Opcode != protocol.OpConnect {
		return "", nil, fmt.Errorf("%w: got %q", ErrHandshakeInvalid, inst.Opcode)
	}
	if inst.NumOperands() < 1 {
		return "", nil, ErrMissingProtocol
	}
	s.Protocol = inst.Operand(0)
	return s.Protocol, inst.Args[2:], nil
}

// Start runs the backend's init entry point and, on success, transitions
// the session to Running. On init failure no handler is ever invoked and
// Free is never called, since no backend state was established.
func (s *Session) Start(b Backend, args []string) error {
	if b == nil {
		return ErrNilBackend
	}
	if State(s.state.Load()) != StateNew {
		return ErrAlreadyStarted
	}
	if err := b.Init(s, args); err != nil {
		return fmt.Errorf("%w: %s", ErrBackendInit, err)
	}
	s.backend = b
	s.state.Store(int32(StateRunning))
	return nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Stop requests session shutdown. The transition to Stopping is terminal
// and observable by the relay loop within one bounded wait.
func (s *Session) Stop() {
	s.state.Store(int32(StateStopping))
}

// Send writes one outbound instruction to the tunnel client. Backends call
// this from their handlers; all calls happen on the session's own control
// flow.
func (s *Session) Send(opcode string, operands ...string) error {
	if err := s.writer.WriteInstruction(protocol.New(opcode, operands...)); err != nil {
		return err
	}
	observability.RecordInstruction(s.Protocol, "out", opcode)
	return nil
}

// LastReceived returns the monotonic-millisecond timestamp of the last
// inbound instruction.
func (s *Session) LastReceived() int64 {
	return s.lastReceived.Load()
}

// LastSent returns the monotonic-millisecond timestamp of the last liveness
// ping sent.
func (s *Session) LastSent() int64 {
	return s.lastSent.Load()
}

// Close tears the session down exactly once regardless of which failure
// path reached it: the backend free handler first (skipped if init never
// completed), then the channel. The plugin binding is released by the owner
// only after Close has run.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Stop()
		if s.backend != nil {
			if f, ok := s.backend.(FreeHandler); ok {
				if err := f.Free(); err != nil {
					s.log.Warn().Err(err).Msg("backend free failed")
				}
			}
		}
		if err := s.ch.Close(); err != nil {
			s.log.Debug().Err(err).Msg("channel close failed")
		}
	})
}
