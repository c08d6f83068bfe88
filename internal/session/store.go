/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements server-side login sessions with a signed
// browser cookie. The cookie carries only the session id; everything
// else lives in the user_sessions table, so revocation is a row delete.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/audixlabs/audix/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// CookieName is the session cookie.
const CookieName = "audix_user_sid"

// Session lifetimes.
const (
	DefaultTTL  = 7 * 24 * time.Hour
	RememberTTL = 30 * 24 * time.Hour
)

// ErrNoSession means the request carries no valid session.
var ErrNoSession = errors.New("no valid session")

// Store manages sessions over the database. The secret signs cookie
// values so a guessed SID is not enough to impersonate a session.
type Store struct {
	db     *gorm.DB
	secret []byte
	secure bool
	log    zerolog.Logger
	now    func() time.Time
}

// NewStore creates a session store. secure marks cookies Secure and
// should be set in production.
func NewStore(database *gorm.DB, secret string, secure bool, logger zerolog.Logger) *Store {
	return &Store{
		db:     database,
		secret: []byte(secret),
		secure: secure,
		log:    logger.With().Str("component", "session").Logger(),
		now:    time.Now,
	}
}

// Create opens a session for the flat and sets the cookie on w.
func (s *Store) Create(ctx context.Context, w http.ResponseWriter, flatID string, remember bool) (*models.UserSession, error) {
	sid, err := newSID()
	if err != nil {
		return nil, err
	}

	ttl := DefaultTTL
	if remember {
		ttl = RememberTTL
	}
	sess := &models.UserSession{
		SID:       sid,
		FlatID:    flatID,
		ExpiresAt: s.now().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}

	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    s.sign(sid),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	}
	// Session cookie by default; persistent only when the user asked to
	// be remembered.
	if remember {
		cookie.MaxAge = int(ttl / time.Second)
	}
	http.SetCookie(w, cookie)

	return sess, nil
}

// Get resolves the request's session. Expired rows are deleted on sight.
func (s *Store) Get(ctx context.Context, r *http.Request) (*models.UserSession, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	sid, ok := s.verify(cookie.Value)
	if !ok {
		return nil, ErrNoSession
	}

	var sess models.UserSession
	err = s.db.WithContext(ctx).Where("sid = ?", sid).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt.Before(s.now()) {
		s.db.WithContext(ctx).Delete(&models.UserSession{}, "sid = ?", sid)
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Destroy deletes the request's session row and clears the cookie.
// Safe to call without a valid session.
func (s *Store) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if sid, ok := s.verify(cookie.Value); ok {
			s.db.WithContext(ctx).Delete(&models.UserSession{}, "sid = ?", sid)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
		MaxAge:   -1,
	})
}

// Sweep deletes expired session rows. Run periodically.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.UserSession{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Debug().Int64("count", res.RowsAffected).Msg("swept expired sessions")
	}
	return res.RowsAffected, nil
}

// sign returns sid + "." + hex(hmac-sha256(sid)).
func (s *Store) sign(sid string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sid))
	return sid + "." + hex.EncodeToString(mac.Sum(nil))
}

// verify checks a cookie value and returns the embedded sid.
func (s *Store) verify(value string) (string, bool) {
	sid, sig, found := strings.Cut(value, ".")
	if !found || sid == "" {
		return "", false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sid))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return sid, true
}

func newSID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
