package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/abhi7860/guacamole-server/internal/channel"
	"github.com/abhi7860/guacamole-server/internal/observability"
	"github.com/abhi7860/guacamole-server/internal/protocol"
)

// Run drives the relay loop until the session stops. Each iteration reads
// at most one inbound instruction with a bounded wait, dispatches it,
// drives the sync schedule, and hands control to the backend's message
// handler when delivery is permitted. All fatal conditions funnel into the
// single teardown in Close, which Run defers.
//
// A nil return means the session stopped cleanly (peer disconnect or
// explicit stop); otherwise the fatal protocol, transport, or backend error
// is returned.
func (s *Session) Run(ctx context.Context) error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	defer s.Close()

	s.sync.reset(s.now())

	for s.State() == StateRunning {
		if ctx.Err() != nil {
			s.Stop()
			break
		}

		inst, err := s.reader.ReadInstruction(s.cfg.ReadWait)
		if err == nil {
			if err := s.dispatch(inst); err != nil {
				return s.fail(err)
			}
		} else if !errors.Is(err, channel.ErrTimeout) {
			return s.fail(err)
		}

		if s.State() != StateRunning {
			break
		}
		if err := s.driveSync(); err != nil {
			return s.fail(err)
		}
		if err := s.handleBackendMessages(); err != nil {
			return s.fail(err)
		}
	}

	s.log.Info().Str("protocol", s.Protocol).Msg("session stopped")
	return nil
}

// fail records a fatal condition and requests shutdown. Every fatal path
// ends here so no error is silently swallowed.
func (s *Session) fail(err error) error {
	s.Stop()
	s.log.Error().Err(err).Str("protocol", s.Protocol).Msg("session failed")
	return err
}

// dispatch routes one inbound instruction to the matching backend handler.
// A handler error sentinel is fatal, identical to an I/O failure; malformed
// event arguments are protocol errors and equally fatal. Opcodes without a
// registered handler are ignored.
func (s *Session) dispatch(in protocol.Instruction) error {
	s.lastReceived.Store(s.now())
	observability.RecordInstruction(s.Protocol, "in", in.Opcode)

	switch in.Opcode {
	case protocol.OpSync:
		if in.NumOperands() < 1 {
			return fmt.Errorf("%w: sync without timestamp", ErrMalformedEvent)
		}
		ts, err := strconv.ParseInt(in.Operand(0), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: sync timestamp %q", ErrMalformedEvent, in.Operand(0))
		}
		if s.sync.responseReceived(ts) {
			s.log.Trace().Int64("timestamp", ts).Msg("sync acknowledged")
		}
		return nil

	case protocol.OpMouse:
		// Malformed events are protocol errors even when the backend has
		// no handler for them.
		if in.NumOperands() < 3 {
			return fmt.Errorf("%w: mouse wants 3 operands, got %d", ErrMalformedEvent, in.NumOperands())
		}
		x, err := strconv.Atoi(in.Operand(0))
		if err != nil {
			return fmt.Errorf("%w: mouse x %q", ErrMalformedEvent, in.Operand(0))
		}
		y, err := strconv.Atoi(in.Operand(1))
		if err != nil {
			return fmt.Errorf("%w: mouse y %q", ErrMalformedEvent, in.Operand(1))
		}
		mask, err := strconv.Atoi(in.Operand(2))
		if err != nil {
			return fmt.Errorf("%w: mouse button_mask %q", ErrMalformedEvent, in.Operand(2))
		}
		h, ok := s.backend.(MouseHandler)
		if !ok {
			return nil
		}
		return s.invoke("mouse", h.Mouse(s, x, y, mask))

	case protocol.OpKey:
		if in.NumOperands() < 2 {
			return fmt.Errorf("%w: key wants 2 operands, got %d", ErrMalformedEvent, in.NumOperands())
		}
		keysym, err := strconv.Atoi(in.Operand(0))
		if err != nil {
			return fmt.Errorf("%w: key keysym %q", ErrMalformedEvent, in.Operand(0))
		}
		pressed, err := strconv.Atoi(in.Operand(1))
		if err != nil || (pressed != 0 && pressed != 1) {
			return fmt.Errorf("%w: key pressed %q", ErrMalformedEvent, in.Operand(1))
		}
		h, ok := s.backend.(KeyHandler)
		if !ok {
			return nil
		}
		return s.invoke("key", h.Key(s, keysym, pressed))

	case protocol.OpClipboard:
		if in.NumOperands() < 1 {
			return fmt.Errorf("%w: clipboard without contents", ErrMalformedEvent)
		}
		h, ok := s.backend.(ClipboardHandler)
		if !ok {
			return nil
		}
		return s.invoke("clipboard", h.Clipboard(s, in.Operand(0)))

	case protocol.OpDisconnect:
		s.Stop()
		return nil

	default:
		s.log.Debug().Str("opcode", in.Opcode).Msg("ignoring unhandled opcode")
		return nil
	}
}

func (s *Session) invoke(handler string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrHandlerFailed, handler, err)
}

// driveSync emits a liveness ping when the send schedule is due. A second
// ping is never sent while one is outstanding.
func (s *Session) driveSync() error {
	now := s.now()
	if !s.sync.pingDue(now) {
		return nil
	}
	if err := s.Send(protocol.OpSync, strconv.FormatInt(now, 10)); err != nil {
		return err
	}
	s.sync.pingSent(now)
	s.lastSent.Store(now)
	return nil
}

// handleBackendMessages invokes the backend's message handler when one is
// registered and the sync machine currently permits delivery. If the
// invocation emitted outbound instructions, a short pause follows so a
// chatty backend does not spin the loop.
func (s *Session) handleBackendMessages() error {
	h, ok := s.backend.(MessageHandler)
	if !ok {
		return nil
	}
	if !s.sync.deliveryAllowed(s.now()) {
		return nil
	}
	before := s.writer.Sent()
	if err := h.HandleMessages(s); err != nil {
		return fmt.Errorf("%w: handle_messages: %s", ErrHandlerFailed, err)
	}
	if s.writer.Sent() > before {
		s.sleep(s.cfg.MessagePause)
	}
	return nil
}
