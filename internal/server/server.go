/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the HTTP stack: routing, middleware, websocket
// channels and the background workers.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/audixlabs/audix/internal/api"
	"github.com/audixlabs/audix/internal/config"
	"github.com/audixlabs/audix/internal/db"
	"github.com/audixlabs/audix/internal/events"
	"github.com/audixlabs/audix/internal/identity"
	"github.com/audixlabs/audix/internal/logbuffer"
	"github.com/audixlabs/audix/internal/presence"
	"github.com/audixlabs/audix/internal/registry"
	"github.com/audixlabs/audix/internal/session"
	"github.com/audixlabs/audix/internal/signal"
	"github.com/audixlabs/audix/internal/telemetry"
	"github.com/audixlabs/audix/internal/web"
)

const sessionSweepInterval = time.Hour

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	registry  *registry.Registry
	sessions  *session.Store
	identity  *identity.Service
	api       *api.API
	web       *web.Handler
	presence  *presence.Channel
	signal    *signal.Channel

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("audix-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for websocket connections: presence and signaling stay
	// open for the lifetime of the browser tab.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.router,
		// Header deadline guards against slowloris; read and write
		// deadlines stay off so websocket connections are not cut.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self'; connect-src 'self'; img-src 'self' data:;")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.registry = registry.New(s.bus, s.logger)

	hasher := identity.NewHasher(s.cfg.BcryptCost)
	s.identity = identity.NewService(database, hasher, s.bus, s.logger)
	s.sessions = session.NewStore(database, s.cfg.SessionSecret, s.cfg.Production(), s.logger)

	s.presence = presence.NewChannel(s.registry, s.logger)
	hub := signal.NewHub(s.registry, s.logger)
	s.signal = signal.NewChannel(hub, s.logger)

	s.api = api.New(s.identity, s.sessions, s.registry, s.logBuffer, s.cfg.LiveToken, s.logger)
	s.web = web.NewHandler(s.sessions)

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.sessions.RequireJSON)
		r.Get("/ws/presence", s.presence.HandleWebSocket)
		r.Get("/ws/signal", s.signal.HandleWebSocket)
	})

	s.api.Routes(s.router)
	s.web.Routes(s.router)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runGaugeUpdater(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runSessionSweeper(ctx)
	}()
}

// runGaugeUpdater mirrors registry totals into the Prometheus gauges.
func (s *Server) runGaugeUpdater(ctx context.Context) {
	types := []events.EventType{
		events.EventStationStarted,
		events.EventStationStopped,
		events.EventListenerJoined,
		events.EventListenerLeft,
		events.EventClientDisconnected,
	}
	subs := make([]events.Subscriber, len(types))
	for i, t := range types {
		subs[i] = s.bus.Subscribe(t)
	}
	defer func() {
		for i, t := range types {
			s.bus.Unsubscribe(t, subs[i])
		}
	}()

	apply := func(payload events.Payload) {
		if n, ok := payload["stations"].(int); ok {
			telemetry.StationsLive.Set(float64(n))
		}
		if n, ok := payload["listeners"].(int); ok {
			telemetry.ListenersTotal.Set(float64(n))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-subs[0]:
			apply(p)
		case p := <-subs[1]:
			apply(p)
		case p := <-subs[2]:
			apply(p)
		case p := <-subs[3]:
			apply(p)
		case p := <-subs[4]:
			apply(p)
		}
	}
}

// runSessionSweeper deletes expired session rows on an hourly cadence.
func (s *Server) runSessionSweeper(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.Sweep(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int64("removed", n).Msg("expired sessions swept")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
