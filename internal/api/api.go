/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api implements the JSON control API: the flat lifecycle
// endpoints, the live station list and the token-gated snapshot.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/audixlabs/audix/internal/identity"
	"github.com/audixlabs/audix/internal/logbuffer"
	"github.com/audixlabs/audix/internal/registry"
	"github.com/audixlabs/audix/internal/session"
	"github.com/audixlabs/audix/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// API wires the control endpoints.
type API struct {
	identity  *identity.Service
	sessions  *session.Store
	registry  *registry.Registry
	logs      *logbuffer.Buffer
	liveToken string
	log       zerolog.Logger
}

// New creates the API handler set.
func New(identitySvc *identity.Service, sessions *session.Store, reg *registry.Registry, logs *logbuffer.Buffer, liveToken string, logger zerolog.Logger) *API {
	return &API{
		identity:  identitySvc,
		sessions:  sessions,
		registry:  reg,
		logs:      logs,
		liveToken: liveToken,
		log:       logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all /api endpoints.
func (a *API) Routes(r chi.Router) {
	// Credential endpoints are brute-forceable; throttle per client IP.
	authLimit := httprate.LimitByIP(10, time.Minute)

	r.With(authLimit).Post("/api/request-access", a.handleRequestAccess)
	r.With(authLimit).Post("/api/setup-pin", a.handleSetupPin)
	r.Get("/api/setup-status", a.handleSetupStatus)
	r.With(authLimit).Post("/api/login", a.handleLogin)
	r.Post("/api/logout", a.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(a.sessions.RequireJSON)
		r.Get("/api/live", a.handleLive)
		r.Post("/api/report", a.handleReport)
	})

	r.Get("/api/internal/live-snapshot", a.handleLiveSnapshot)
	r.Get("/api/internal/logs", a.handleLogs)
}

func (a *API) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FlatID string `json:"flat_id"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, identity.CodeMissingFields)
		return
	}

	req, reused, err := a.identity.CreateAccessRequest(r.Context(), body.FlatID, body.Name)
	if err != nil {
		writeIdentityError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"id":     req.ID,
		"status": req.Status,
		"reused": reused,
	})
}

func (a *API) handleSetupPin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FlatID   string `json:"flat_id"`
		Code     string `json:"code"`
		Pin4     string `json:"pin4"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, identity.CodeMissingFields)
		return
	}

	if err := a.identity.SetupPinWithCode(r.Context(), body.FlatID, body.Code, body.Pin4, body.Password); err != nil {
		writeIdentityError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.identity.GetSetupStatus(r.Context(), r.URL.Query().Get("flat_id"))
	if err != nil {
		writeIdentityError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"flat_id": status.FlatID,
		"request": status.Request,
		"flat":    status.Flat,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FlatID   string `json:"flat_id"`
		Pin4     string `json:"pin4"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, identity.CodeMissingFields)
		return
	}

	flat, err := a.identity.LoginFlat(r.Context(), body.FlatID, body.Pin4, body.Password)
	if err != nil {
		writeIdentityError(w, err, true)
		return
	}
	if _, err := a.sessions.Create(r.Context(), w, flat.FlatID, body.Remember); err != nil {
		a.log.Error().Err(err).Msg("session create failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	telemetry.LoginsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "flat_id": flat.FlatID})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.sessions.Destroy(r.Context(), w, r)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"flat_id":  session.FlatID(r.Context()),
		"stations": a.registry.PublicStations(),
	})
}

// handleReport acknowledges a listener report. Strike handling lives in
// the admin tooling; the server only records that the report happened.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StationID string `json:"stationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StationID == "" {
		writeError(w, http.StatusBadRequest, identity.CodeMissingFields)
		return
	}

	a.log.Info().
		Str("flat_id", session.FlatID(r.Context())).
		Str("station_id", body.StationID).
		Msg("station reported")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleLiveSnapshot(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Audix-Live-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.liveToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}
	writeJSON(w, http.StatusOK, a.registry.Snapshot())
}

// handleLogs serves recent entries from the in-memory log ring, gated
// by the same operator token as the snapshot.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Audix-Live-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.liveToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := a.logs.Query(logbuffer.QueryParams{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		FlatID:    q.Get("flat_id"),
		Search:    q.Get("search"),
		Limit:     limit,
	})
	if entries == nil {
		entries = []logbuffer.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": entries})
}
