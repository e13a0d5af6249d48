package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/abhi7860/guacamole-server/internal/channel"
	"github.com/abhi7860/guacamole-server/internal/observability"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveAdmin runs the HTTP side of the gateway: health, session listing,
// Prometheus metrics, and the websocket tunnel endpoint. It blocks until
// ctx is cancelled.
func (g *Gateway) serveAdmin(ctx context.Context, addr string) error {
	observability.RegisterMetrics()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(log.Logger))
	router.Use(observability.RequestMetricsMiddleware("guacd"))

	if len(g.cfg.CorsOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = g.cfg.CorsOrigins
		corsCfg.AllowCredentials = true
		router.Use(cors.New(corsCfg))
	}

	g.registerAdminRoutes(router)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	g.log.Info().Str("admin_addr", addr).Msg("admin server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) registerAdminRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   "guacd",
			"uptime":    g.uptime().String(),
			"protocols": g.registry.Protocols(),
		})
	})

	router.GET("/sessions", func(c *gin.Context) {
		sessions := g.SnapshotSessions()
		c.JSON(http.StatusOK, gin.H{
			"count":    len(sessions),
			"sessions": sessions,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Websocket tunnel: same handshake and session runtime as the TCP
	// listener, framed over websocket binary messages.
	router.GET("/tunnel", func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		g.ServeChannel(c.Request.Context(), channel.NewWSChannel(conn), c.Request.RemoteAddr)
	})
}
