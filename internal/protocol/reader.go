package protocol

import (
	"time"

	"github.com/abhi7860/guacamole-server/internal/channel"
)

// DefaultMaxInstructionSize caps the encoded size of one instruction.
const DefaultMaxInstructionSize = 512 * 1024

// Reader assembles complete instructions from a channel that may deliver
// bytes in arbitrary-sized chunks. Trailing bytes beyond a parsed frame
// stay buffered for the next call, so parsing is restartable at any byte
// boundary.
type Reader struct {
	ch      channel.Channel
	max     int
	buf     []byte
	scratch [4096]byte
}

func NewReader(ch channel.Channel, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxInstructionSize
	}
	return &Reader{ch: ch, max: maxSize}
}

// ReadInstruction returns the next complete instruction, waiting at most
// wait for bytes to arrive. When the wait elapses first it returns
// channel.ErrTimeout; any partial frame remains buffered. Malformed frames
// and frames exceeding the size limit are fatal.
func (r *Reader) ReadInstruction(wait time.Duration) (Instruction, error) {
	deadline := time.Now().Add(wait)
	for {
		inst, consumed, err := parseFrame(r.buf, r.max)
		if err != nil {
			return Instruction{}, err
		}
		if consumed > 0 {
			r.buf = r.buf[:copy(r.buf, r.buf[consumed:])]
			return inst, nil
		}
		if len(r.buf) >= r.max {
			return Instruction{}, ErrInstructionTooLarge
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Instruction{}, channel.ErrTimeout
		}
		n, err := r.ch.ReadWithTimeout(r.scratch[:], remaining)
		if n > 0 {
			r.buf = append(r.buf, r.scratch[:n]...)
		}
		if err != nil && n == 0 {
			return Instruction{}, err
		}
	}
}

// parseFrame attempts to decode one instruction from the head of buf. It
// returns consumed == 0 with a nil error when buf holds only an incomplete
// frame.
func parseFrame(buf []byte, max int) (Instruction, int, error) {
	var elems []string
	i := 0
	for {
		length := 0
		digits := 0
		for i < len(buf) {
			c := buf[i]
			if c < '0' || c > '9' {
				break
			}
			length = length*10 + int(c-'0')
			digits++
			if length > max {
				return Instruction{}, 0, ErrInvalidLength
			}
			i++
		}
		if i >= len(buf) {
			return Instruction{}, 0, nil
		}
		if digits == 0 || buf[i] != '.' {
			return Instruction{}, 0, ErrInvalidLength
		}
		i++

		// Element bytes plus the trailing ',' or ';'.
		if i+length+1 > max {
			return Instruction{}, 0, ErrInstructionTooLarge
		}
		if len(buf) < i+length+1 {
			return Instruction{}, 0, nil
		}
		elems = append(elems, string(buf[i:i+length]))
		i += length

		switch buf[i] {
		case ',':
			i++
		case ';':
			i++
			return Instruction{Opcode: elems[0], Args: elems}, i, nil
		default:
			return Instruction{}, 0, ErrBadSeparator
		}
	}
}
