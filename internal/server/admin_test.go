package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/abhi7860/guacamole-server/internal/backends/loopback"
	"github.com/abhi7860/guacamole-server/internal/config"
	"github.com/abhi7860/guacamole-server/internal/plugins"
	"github.com/abhi7860/guacamole-server/internal/testutil/testlog"
)

func newAdminRouter(t *testing.T) (*Gateway, *gin.Engine) {
	t.Helper()
	registry := plugins.NewRegistry()
	if err := registry.Register("loopback", loopback.New); err != nil {
		t.Fatalf("register: %v", err)
	}
	gw := New(config.Default(), registry, zerolog.Nop())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	gw.registerAdminRoutes(router)
	return gw, router
}

func TestAdminHealthRoute(t *testing.T) {
	testlog.Start(t)
	_, router := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	var body struct {
		Status    string   `json:"status"`
		Service   string   `json:"service"`
		Protocols []string `json:"protocols"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "guacd" {
		t.Fatalf("body: %+v", body)
	}
	if len(body.Protocols) != 1 || body.Protocols[0] != "loopback" {
		t.Fatalf("protocols: %v", body.Protocols)
	}
}

func TestAdminSessionsRoute(t *testing.T) {
	testlog.Start(t)
	_, router := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	var body struct {
		Count    int           `json:"count"`
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 || len(body.Sessions) != 0 {
		t.Fatalf("expected empty session list: %+v", body)
	}
}

func TestAdminMetricsRoute(t *testing.T) {
	testlog.Start(t)
	_, router := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatalf("empty metrics exposition")
	}
}
