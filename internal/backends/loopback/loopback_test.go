package loopback

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi7860/guacamole-server/internal/channel"
	"github.com/abhi7860/guacamole-server/internal/session"
	"github.com/abhi7860/guacamole-server/internal/testutil/testlog"
)

type captureChannel struct {
	mu       sync.Mutex
	outbound bytes.Buffer
}

func (c *captureChannel) Read(p []byte) (int, error) { return 0, channel.ErrTimeout }

func (c *captureChannel) ReadWithTimeout(p []byte, wait time.Duration) (int, error) {
	return 0, channel.ErrTimeout
}

func (c *captureChannel) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.outbound.Write(p)
	return err
}

func (c *captureChannel) Close() error { return nil }

func (c *captureChannel) sent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound.String()
}

func newTestSession(ch channel.Channel) *session.Session {
	return session.New(1, ch, session.DefaultConfig(), zerolog.Nop())
}

func TestInitAnnouncesBackendName(t *testing.T) {
	testlog.Start(t)
	ch := &captureChannel{}
	s := newTestSession(ch)
	b := New().(*Backend)

	if err := b.Init(s, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := ch.sent(); got != "4.name,8.loopback;" {
		t.Fatalf("announcement: %q", got)
	}
	if len(b.screen) != defaultHeight || len(b.screen[0]) != defaultWidth*4 {
		t.Fatalf("screen dims: %dx%d bytes", len(b.screen), len(b.screen[0]))
	}
}

func TestInitParsesGeometryArgument(t *testing.T) {
	testlog.Start(t)
	ch := &captureChannel{}
	b := New().(*Backend)

	if err := b.Init(newTestSession(ch), []string{"640x480"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if len(b.screen) != 480 || len(b.screen[0]) != 640*4 {
		t.Fatalf("screen dims: %dx%d bytes", len(b.screen), len(b.screen[0]))
	}

	if err := New().(*Backend).Init(newTestSession(ch), []string{"wide"}); err == nil {
		t.Fatalf("expected geometry parse error")
	}
	if err := New().(*Backend).Init(newTestSession(ch), []string{"0x100"}); err == nil {
		t.Fatalf("expected geometry range error")
	}
}

func TestEventsEchoThroughMessageHandler(t *testing.T) {
	testlog.Start(t)
	ch := &captureChannel{}
	s := newTestSession(ch)
	b := New().(*Backend)
	if err := b.Init(s, []string{"320x200"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := b.Mouse(s, 10, 20, 1); err != nil {
		t.Fatalf("mouse: %v", err)
	}
	if err := b.Key(s, 65307, 1); err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := b.Clipboard(s, "copied"); err != nil {
		t.Fatalf("clipboard: %v", err)
	}

	// Nothing leaves the backend until the message handler runs.
	want := "4.name,8.loopback;"
	if got := ch.sent(); got != want {
		t.Fatalf("premature echo: %q", got)
	}

	if err := b.HandleMessages(s); err != nil {
		t.Fatalf("handle messages: %v", err)
	}
	want += "5.mouse,2.10,2.20,1.1;3.key,5.65307,1.1;9.clipboard,6.copied;"
	if got := ch.sent(); got != want {
		t.Fatalf("echo: got=%q want=%q", got, want)
	}

	// Queue drained; a second pass emits nothing.
	if err := b.HandleMessages(s); err != nil {
		t.Fatalf("handle messages: %v", err)
	}
	if got := ch.sent(); got != want {
		t.Fatalf("queue not drained: %q", got)
	}

	if x, y := b.Cursor(); x != 10 || y != 20 {
		t.Fatalf("cursor: %d,%d", x, y)
	}
	if b.ClipboardContents() != "copied" {
		t.Fatalf("clipboard: %q", b.ClipboardContents())
	}
}

func TestMouseOutsideScreenKeepsLastCursor(t *testing.T) {
	testlog.Start(t)
	ch := &captureChannel{}
	s := newTestSession(ch)
	b := New().(*Backend)
	if err := b.Init(s, []string{"100x100"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := b.Mouse(s, 50, 50, 0); err != nil {
		t.Fatalf("mouse: %v", err)
	}
	if err := b.Mouse(s, 500, 500, 0); err != nil {
		t.Fatalf("mouse: %v", err)
	}
	if x, y := b.Cursor(); x != 50 || y != 50 {
		t.Fatalf("cursor moved off screen: %d,%d", x, y)
	}
}

func TestFreeReleasesState(t *testing.T) {
	testlog.Start(t)
	ch := &captureChannel{}
	s := newTestSession(ch)
	b := New().(*Backend)
	if err := b.Init(s, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := b.Clipboard(s, "x"); err != nil {
		t.Fatalf("clipboard: %v", err)
	}

	if err := b.Free(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if !b.Freed() {
		t.Fatalf("freed flag unset")
	}
	if b.screen != nil || b.pending != nil {
		t.Fatalf("state not released")
	}
}
