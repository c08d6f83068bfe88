/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package web serves the embedded HTML pages. The real frontend assets
// ship separately; these pages are the minimal shells the server owns.
package web

import (
	"embed"
	"net/http"

	"github.com/audixlabs/audix/internal/session"
	"github.com/go-chi/chi/v5"
)

//go:embed static/*.html
var content embed.FS

// Handler serves the page routes.
type Handler struct {
	sessions *session.Store
}

// NewHandler creates the page handler.
func NewHandler(sessions *session.Store) *Handler {
	return &Handler{sessions: sessions}
}

// Routes mounts the page endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	r.Get("/login", page("login.html"))
	r.Get("/setup", page("setup.html"))
	r.With(h.sessions.RequirePage).Get("/app", page("app.html"))
}

func page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := content.ReadFile("static/" + name)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	}
}
