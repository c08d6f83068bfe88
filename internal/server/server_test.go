package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/audixlabs/audix/internal/config"
	"github.com/audixlabs/audix/internal/logbuffer"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment:   "development",
		Bind:          "127.0.0.1",
		Port:          0,
		DatabaseURL:   fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		DBBackend:     "sqlite",
		SessionSecret: "test-secret",
		LiveToken:     "test-live-token",
		BcryptCost:    bcrypt.MinCost,
	}
	srv, err := New(cfg, logbuffer.New(100), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return srv
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != `{"status":"ok"}` {
		t.Fatalf("body=%q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rr.Code)
	}
}

func TestRootRedirectsToLogin(t *testing.T) {
	srv := testServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("status=%d, want 302", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "/login" {
		t.Fatalf("Location=%q, want /login", got)
	}
}

func TestAppRequiresSession(t *testing.T) {
	srv := testServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("status=%d, want 302", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "/login" {
		t.Fatalf("Location=%q, want /login", got)
	}
}

func TestWebSocketEndpointsRequireSession(t *testing.T) {
	srv := testServer(t)

	for _, path := range []string{"/ws/presence", "/ws/signal"} {
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s status=%d, want 401", path, rr.Code)
		}
	}
}
