package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi7860/guacamole-server/internal/backends/loopback"
	"github.com/abhi7860/guacamole-server/internal/config"
	"github.com/abhi7860/guacamole-server/internal/plugins"
	"github.com/abhi7860/guacamole-server/internal/testutil/testlog"
)

func startGateway(t *testing.T) (*Gateway, func()) {
	t.Helper()

	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = ""

	registry := plugins.NewRegistry()
	if err := registry.Register("loopback", loopback.New); err != nil {
		t.Fatalf("register: %v", err)
	}

	gw := New(cfg, registry, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for gw.Addr() == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("gateway never bound a listener")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("gateway run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("gateway did not shut down")
		}
	}
	return gw, stop
}

func dial(t *testing.T, gw *Gateway) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", gw.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// readInstructionWire reads raw bytes up to and including the next ';'.
// Good enough for test payloads whose element values carry no delimiter
// bytes.
func readInstructionWire(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	wire, err := r.ReadString(';')
	if err != nil {
		t.Fatalf("read instruction: %v (got %q)", err, wire)
	}
	return wire
}

func TestGatewaySessionLifecycle(t *testing.T) {
	testlog.Start(t)
	gw, stop := startGateway(t)
	defer stop()

	conn := dial(t, gw)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("7.connect,8.loopback,7.320x200;")); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	if wire := readInstructionWire(t, r); wire != "4.name,8.loopback;" {
		t.Fatalf("handshake reply: %q", wire)
	}

	if _, err := conn.Write([]byte("5.mouse,1.5,2.10,1.1;")); err != nil {
		t.Fatalf("write mouse: %v", err)
	}
	if wire := readInstructionWire(t, r); wire != "5.mouse,1.5,2.10,1.1;" {
		t.Fatalf("mouse echo: %q", wire)
	}

	// The session shows up on the admin surface while running.
	sessions := gw.SnapshotSessions()
	if len(sessions) != 1 || sessions[0].Protocol != "loopback" {
		t.Fatalf("sessions: %+v", sessions)
	}

	if _, err := conn.Write([]byte("10.disconnect;")); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}
	// The gateway tears the connection down after the disconnect.
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(gw.SnapshotSessions()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if gw.registry.Active("loopback") != 0 {
		t.Fatalf("binding not released: %d", gw.registry.Active("loopback"))
	}
}

func TestGatewayRejectsNonConnectHandshake(t *testing.T) {
	testlog.Start(t)
	gw, stop := startGateway(t)
	defer stop()

	conn := dial(t, gw)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("4.sync,1.0;")); err != nil {
		t.Fatalf("write: %v", err)
	}
	wire := readInstructionWire(t, r)
	if wire != "5.error,16.handshake failed;" {
		t.Fatalf("error reply: %q", wire)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("connection left open: %v", err)
	}
}

func TestGatewayRejectsUnknownProtocol(t *testing.T) {
	testlog.Start(t)
	gw, stop := startGateway(t)
	defer stop()

	conn := dial(t, gw)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("7.connect,3.rdp;")); err != nil {
		t.Fatalf("write: %v", err)
	}
	wire := readInstructionWire(t, r)
	if wire != "5.error,21.unknown protocol: rdp;" {
		t.Fatalf("error reply: %q", wire)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("connection left open: %v", err)
	}
	if gw.registry.Active("rdp") != 0 {
		t.Fatalf("rejected protocol holds a binding")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGatewayLogsAndSurfacesAdminStartupFailure(t *testing.T) {
	testlog.Start(t)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = occupied.Addr().String()

	registry := plugins.NewRegistry()
	if err := registry.Register("loopback", loopback.New); err != nil {
		t.Fatalf("register: %v", err)
	}

	var logs lockedBuffer
	gw := New(cfg, registry, zerolog.New(&logs))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// The gateway keeps serving sessions, but the failure is reported as
	// soon as it happens, not only at shutdown.
	deadline := time.Now().Add(5 * time.Second)
	for gw.Addr() == "" || !strings.Contains(logs.String(), "admin server failed") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("admin failure never logged; logs=%q", logs.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("admin startup failure not surfaced by Run")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("gateway did not shut down")
	}
}

func TestGatewayRunTwiceFails(t *testing.T) {
	testlog.Start(t)
	gw, stop := startGateway(t)
	defer stop()

	if err := gw.Run(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
