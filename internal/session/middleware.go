/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"net/http"
)

type contextKey int

const flatIDKey contextKey = iota

// FlatID returns the flat id of the logged-in session, or "" when the
// request passed through no session middleware.
func FlatID(ctx context.Context) string {
	v, _ := ctx.Value(flatIDKey).(string)
	return v
}

// WithFlatID returns a context carrying the flat id. Exposed for tests.
func WithFlatID(ctx context.Context, flatID string) context.Context {
	return context.WithValue(ctx, flatIDKey, flatID)
}

// RequireJSON rejects unauthenticated API requests with a 401 JSON body.
func (s *Store) RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Get(r.Context(), r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"ok":false,"error":"UNAUTHORIZED"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithFlatID(r.Context(), sess.FlatID)))
	})
}

// RequirePage redirects unauthenticated page requests to /login.
func (s *Store) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Get(r.Context(), r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithFlatID(r.Context(), sess.FlatID)))
	})
}
