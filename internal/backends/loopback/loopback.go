// Package loopback implements a diagnostic backend that echoes received
// events back to the tunnel client. It exercises the full handler contract
// without any remote server, which makes it useful for wiring checks and
// protocol-level testing of deployments.
package loopback

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/abhi7860/guacamole-server/internal/canvas"
	"github.com/abhi7860/guacamole-server/internal/protocol"
	"github.com/abhi7860/guacamole-server/internal/session"
)

const (
	defaultWidth  = 1024
	defaultHeight = 768
)

// Backend holds all loopback state. Handlers queue echo instructions;
// HandleMessages drains the queue on the session's control flow.
type Backend struct {
	mu      sync.Mutex
	pending []protocol.Instruction

	screen    [][]byte
	x, y      int
	buttons   int
	clipboard string
	freed     bool
}

// New builds an uninitialized loopback backend.
func New() session.Backend {
	return &Backend{}
}

// Init accepts an optional "WIDTHxHEIGHT" first argument, allocates the
// screen buffer, and announces the backend name to the tunnel client.
func (b *Backend) Init(s *session.Session, args []string) error {
	w, h := defaultWidth, defaultHeight
	if len(args) > 0 && args[0] != "" {
		var err error
		w, h, err = parseGeometry(args[0])
		if err != nil {
			return err
		}
	}
	screen, err := canvas.AllocRows(w, h, 4)
	if err != nil {
		return err
	}
	b.screen = screen
	return s.Send(protocol.OpName, "loopback")
}

func (b *Backend) Mouse(s *session.Session, x, y, buttonMask int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if x >= 0 && y >= 0 && y < len(b.screen) && (x+1)*4 <= len(b.screen[y]) {
		b.x, b.y = x, y
	}
	b.buttons = buttonMask
	b.queue(protocol.New(protocol.OpMouse,
		strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(buttonMask)))
	return nil
}

func (b *Backend) Key(s *session.Session, keysym, pressed int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(protocol.New(protocol.OpKey,
		strconv.Itoa(keysym), strconv.Itoa(pressed)))
	return nil
}

func (b *Backend) Clipboard(s *session.Session, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clipboard = text
	b.queue(protocol.New(protocol.OpClipboard, text))
	return nil
}

// HandleMessages flushes queued echo instructions to the tunnel client.
func (b *Backend) HandleMessages(s *session.Session) error {
	b.mu.Lock()
	queued := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, inst := range queued {
		if err := s.Send(inst.Opcode, inst.Args[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screen = nil
	b.pending = nil
	b.freed = true
	return nil
}

func (b *Backend) queue(inst protocol.Instruction) {
	b.pending = append(b.pending, inst)
}

// Cursor returns the last accepted pointer position.
func (b *Backend) Cursor() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.x, b.y
}

// ClipboardContents returns the last clipboard text set by the client.
func (b *Backend) ClipboardContents() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clipboard
}

// Freed reports whether Free has run.
func (b *Backend) Freed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freed
}

func parseGeometry(raw string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(raw, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("loopback: invalid geometry %q", raw)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("loopback: invalid geometry %q", raw)
	}
	return w, h, nil
}
