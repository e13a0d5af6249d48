// Package server runs the guacd gateway: it accepts tunnel-client
// connections, performs the protocol handshake, loads the matching backend
// through the plugin registry, and drives one session runtime per
// connection.
package server

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi7860/guacamole-server/internal/channel"
	"github.com/abhi7860/guacamole-server/internal/config"
	"github.com/abhi7860/guacamole-server/internal/observability"
	"github.com/abhi7860/guacamole-server/internal/plugins"
	"github.com/abhi7860/guacamole-server/internal/protocol"
	"github.com/abhi7860/guacamole-server/internal/session"
)

var ErrAlreadyRunning = errors.New("server: gateway already running")

// Gateway accepts connections and owns the set of live sessions.
type Gateway struct {
	cfg      config.Config
	registry *plugins.Registry
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[uint64]*sessionEntry
	listener net.Listener
	seq      atomic.Uint64
	running  atomic.Bool
	started  time.Time
}

type sessionEntry struct {
	sess       *session.Session
	protocol   string
	remoteAddr string
	startedAt  time.Time
}

// SessionInfo is the admin-surface snapshot of one live session.
type SessionInfo struct {
	ID             uint64    `json:"id"`
	Protocol       string    `json:"protocol"`
	RemoteAddr     string    `json:"remote_addr"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastReceivedMS int64     `json:"last_received_ms"`
	LastSentMS     int64     `json:"last_sent_ms"`
}

func New(cfg config.Config, registry *plugins.Registry, log zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		log:      log,
		sessions: make(map[uint64]*sessionEntry),
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer g.running.Store(false)

	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.listener = ln
	g.started = time.Now()
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	adminErr := make(chan error, 1)
	if g.cfg.AdminAddr != "" {
		go func() {
			err := g.serveAdmin(ctx, g.cfg.AdminAddr)
			if err != nil {
				g.log.Error().Err(err).Str("admin_addr", g.cfg.AdminAddr).Msg("admin server failed")
			}
			adminErr <- err
		}()
	}

	g.log.Info().
		Str("listen_addr", g.cfg.ListenAddr).
		Strs("protocols", g.registry.Protocols()).
		Msg("gateway listening")

	var wg sync.WaitGroup
	defer wg.Wait()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				g.log.Info().Msg("gateway shutdown")
				g.stopAllSessions()
				select {
				case err := <-adminErr:
					return err
				default:
					return nil
				}
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				g.log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept failed")
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			g.ServeChannel(ctx, channel.NewNetChannel(conn), conn.RemoteAddr().String())
		}()
	}
}

// ServeChannel runs the handshake and the full session lifecycle on an
// established channel. It returns when the session ends.
func (g *Gateway) ServeChannel(ctx context.Context, ch channel.Channel, remoteAddr string) {
	id := g.seq.Add(1)
	log := g.log.With().Uint64("session_id", id).Str("remote_addr", remoteAddr).Logger()

	sess := session.New(id, ch, g.cfg.Session.ToSession(), g.log)

	proto, args, err := sess.Handshake(g.cfg.Session.HandshakeTimeout())
	if err != nil {
		log.Warn().Err(err).Msg("handshake failed")
		_ = sess.Send(protocol.OpError, "handshake failed")
		sess.Close()
		observability.RecordSessionRejected("unknown", "handshake_failed")
		return
	}

	binding, err := g.registry.Resolve(proto)
	if err != nil {
		log.Warn().Err(err).Str("protocol", proto).Msg("protocol not registered")
		_ = sess.Send(protocol.OpError, "unknown protocol: "+proto)
		sess.Close()
		observability.RecordSessionRejected(proto, "not_found")
		return
	}

	if err := sess.Start(binding.New(), args); err != nil {
		log.Error().Err(err).Str("protocol", proto).Msg("backend init failed")
		_ = sess.Send(protocol.OpError, "connection failed")
		sess.Close()
		binding.Release()
		observability.RecordSessionRejected(proto, "init_failed")
		return
	}

	startedAt := time.Now()
	g.trackSession(id, sess, proto, remoteAddr, startedAt)
	observability.RecordSessionStarted(proto)
	log.Info().Str("protocol", proto).Msg("session started")

	runErr := sess.Run(ctx)

	// Run's deferred Close has already executed the backend free handler;
	// the binding is only released after that.
	binding.Release()
	g.untrackSession(id)

	outcome := "clean"
	if runErr != nil {
		outcome = "error"
	}
	observability.RecordSessionEnded(proto, outcome, time.Since(startedAt))
}

func (g *Gateway) trackSession(id uint64, sess *session.Session, proto, remoteAddr string, startedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id] = &sessionEntry{
		sess:       sess,
		protocol:   proto,
		remoteAddr: remoteAddr,
		startedAt:  startedAt,
	}
}

func (g *Gateway) untrackSession(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, id)
}

func (g *Gateway) stopAllSessions() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, entry := range g.sessions {
		entry.sess.Stop()
	}
}

// SnapshotSessions returns admin-surface info for all live sessions,
// ordered by id.
func (g *Gateway) SnapshotSessions() []SessionInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]SessionInfo, 0, len(g.sessions))
	for id, entry := range g.sessions {
		out = append(out, SessionInfo{
			ID:             id,
			Protocol:       entry.protocol,
			RemoteAddr:     entry.remoteAddr,
			State:          entry.sess.State().String(),
			StartedAt:      entry.startedAt,
			LastReceivedMS: entry.sess.LastReceived(),
			LastSentMS:     entry.sess.LastSent(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Addr returns the bound listen address once Run is serving, or "" before
// the listener is up.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

func (g *Gateway) uptime() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.started.IsZero() {
		return 0
	}
	return time.Since(g.started)
}
