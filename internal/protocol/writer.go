package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/abhi7860/guacamole-server/internal/channel"
)

// Writer serializes instructions onto a channel and counts how many were
// sent. The relay loop compares the count around backend handler calls to
// decide whether the post-handler pacing delay applies.
type Writer struct {
	ch   channel.Channel
	mu   sync.Mutex
	sent atomic.Uint64
}

func NewWriter(ch channel.Channel) *Writer {
	return &Writer{ch: ch}
}

func (w *Writer) WriteInstruction(in Instruction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ch.Write(in.Encode()); err != nil {
		return err
	}
	w.sent.Add(1)
	return nil
}

// Sent returns the number of instructions written so far.
func (w *Writer) Sent() uint64 {
	return w.sent.Load()
}
