package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/audixlabs/audix/internal/events"
	"github.com/audixlabs/audix/internal/identity"
	"github.com/audixlabs/audix/internal/logbuffer"
	"github.com/audixlabs/audix/internal/models"
	"github.com/audixlabs/audix/internal/registry"
	"github.com/audixlabs/audix/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testLiveToken = "snapshot-token"

type testEnv struct {
	router   chi.Router
	db       *gorm.DB
	registry *registry.Registry
	hasher   *identity.Hasher
	logs     *logbuffer.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	hasher := identity.NewHasher(bcrypt.MinCost)
	identitySvc := identity.NewService(database, hasher, bus, zerolog.Nop())
	sessions := session.NewStore(database, "test-secret", false, zerolog.Nop())
	reg := registry.New(bus, zerolog.Nop())
	logs := logbuffer.New(100)

	router := chi.NewRouter()
	New(identitySvc, sessions, reg, logs, testLiveToken, zerolog.Nop()).Routes(router)

	return &testEnv{router: router, db: database, registry: reg, hasher: hasher, logs: logs}
}

var addrCounter int

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	// Distinct client addresses keep the per-IP rate limiter out of the
	// way except where a test exercises it.
	addrCounter++
	req.RemoteAddr = fmt.Sprintf("192.0.2.%d:4000", addrCounter%250+1)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad JSON body %q: %v", rec.Body.String(), err)
	}
	return m
}

func (e *testEnv) approveFlat(t *testing.T, flatID, code string) {
	t.Helper()
	if err := e.db.Create(&models.Flat{FlatID: flatID, Status: models.FlatActive}).Error; err != nil {
		t.Fatal(err)
	}
	hash, err := e.hasher.Hash(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.db.Create(&models.SetupCode{
		FlatID:    flatID,
		CodeHash:  hash,
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	}).Error; err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) login(t *testing.T, flatID, pin string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/login", map[string]any{"flat_id": flatID, "pin4": pin})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestAccessLifecycle(t *testing.T) {
	e := newTestEnv(t)

	// S1 step 1: new request.
	rec := e.do(t, http.MethodPost, "/api/request-access", map[string]any{"flat_id": "a1", "name": "Ava"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decode(t, rec)
	if body["ok"] != true || body["status"] != "PENDING" || body["reused"] != false {
		t.Errorf("body = %+v", body)
	}
	firstID := body["id"]

	// S1 step 2: repeat reuses.
	body = decode(t, e.do(t, http.MethodPost, "/api/request-access", map[string]any{"flat_id": "A1", "name": "Ava"}))
	if body["reused"] != true || body["id"] != firstID {
		t.Errorf("repeat = %+v", body)
	}

	// S1 steps 3-4: approval + setup.
	e.approveFlat(t, "A1", "1234")
	rec = e.do(t, http.MethodPost, "/api/setup-pin", map[string]any{"flat_id": "a1", "code": "1234", "pin4": "5678"})
	if rec.Code != http.StatusOK {
		t.Fatalf("setup-pin: %d %s", rec.Code, rec.Body.String())
	}

	// S1 step 5: code is spent.
	rec = e.do(t, http.MethodPost, "/api/setup-pin", map[string]any{"flat_id": "a1", "code": "1234", "pin4": "9999"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed code: %d", rec.Code)
	}
	if decode(t, rec)["error"] != identity.CodeInvalidCode {
		t.Errorf("error = %v", decode(t, rec)["error"])
	}
}

func TestLoginGating(t *testing.T) {
	e := newTestEnv(t)
	e.approveFlat(t, "A1", "1234")

	// Before setup: PIN_NOT_SET.
	rec := e.do(t, http.MethodPost, "/api/login", map[string]any{"flat_id": "A1", "pin4": "5678"})
	if rec.Code != http.StatusUnauthorized || decode(t, rec)["error"] != identity.CodePinNotSet {
		t.Fatalf("pre-setup login: %d %s", rec.Code, rec.Body.String())
	}

	e.do(t, http.MethodPost, "/api/setup-pin", map[string]any{"flat_id": "A1", "code": "1234", "pin4": "5678"})

	// Wrong PIN.
	rec = e.do(t, http.MethodPost, "/api/login", map[string]any{"flat_id": "A1", "pin4": "9999"})
	if rec.Code != http.StatusUnauthorized || decode(t, rec)["error"] != identity.CodeInvalidCredentials {
		t.Fatalf("wrong pin: %d %s", rec.Code, rec.Body.String())
	}

	// Malformed PIN is a 400 validation error.
	rec = e.do(t, http.MethodPost, "/api/login", map[string]any{"flat_id": "A1", "pin4": "12ab"})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != identity.CodeInvalidPin {
		t.Fatalf("bad pin format: %d %s", rec.Code, rec.Body.String())
	}

	// Success sets the cookie.
	rec = e.do(t, http.MethodPost, "/api/login", map[string]any{"flat_id": "a1", "pin4": "5678"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["flat_id"] != "A1" {
		t.Errorf("flat_id = %v", decode(t, rec)["flat_id"])
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatal("session cookie missing or not HttpOnly")
	}
}

func TestLoginBanCarriesBanUntil(t *testing.T) {
	e := newTestEnv(t)
	pin, _ := e.hasher.Hash(context.Background(), "5678")
	until := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	if err := e.db.Create(&models.Flat{FlatID: "A1", Status: models.FlatActive, PinHash: &pin, BanUntil: &until}).Error; err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodPost, "/api/login", map[string]any{"flat_id": "A1", "pin4": "5678"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != identity.CodeBanned || body["ban_until"] == nil {
		t.Errorf("body = %+v", body)
	}
}

func TestSetupStatus(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/setup-status", nil)
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != identity.CodeMissingFlatID {
		t.Fatalf("missing flat_id: %d %s", rec.Code, rec.Body.String())
	}

	body := decode(t, e.do(t, http.MethodGet, "/api/setup-status?flat_id=z9", nil))
	if body["ok"] != true || body["flat_id"] != "Z9" || body["request"] != nil || body["flat"] != nil {
		t.Errorf("unknown flat = %+v", body)
	}

	e.approveFlat(t, "A1", "1234")
	body = decode(t, e.do(t, http.MethodGet, "/api/setup-status?flat_id=a1", nil))
	flat, ok := body["flat"].(map[string]any)
	if !ok || flat["status"] != "ACTIVE" || flat["pinSet"] != false {
		t.Errorf("flat view = %+v", body["flat"])
	}
}

func TestLiveRequiresSession(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/live", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous live: %d", rec.Code)
	}

	e.approveFlat(t, "A1", "1234")
	e.do(t, http.MethodPost, "/api/setup-pin", map[string]any{"flat_id": "A1", "code": "1234", "pin4": "5678"})
	cookie := e.login(t, "A1", "5678")

	// A live station shows up in the list.
	b := e.registry.Connect("192.0.2.9")
	e.registry.Identify(b, "B2")
	if err := e.registry.StartBroadcast(b); err != nil {
		t.Fatal(err)
	}

	body := decode(t, e.do(t, http.MethodGet, "/api/live", nil, cookie))
	if body["ok"] != true || body["flat_id"] != "A1" {
		t.Errorf("body = %+v", body)
	}
	stations, ok := body["stations"].([]any)
	if !ok || len(stations) != 1 {
		t.Fatalf("stations = %+v", body["stations"])
	}
	station := stations[0].(map[string]any)
	if station["id"] != "B2" || station["live"] != true {
		t.Errorf("station = %+v", station)
	}
	if _, leaked := station["ip"]; leaked {
		t.Error("public list leaks IP")
	}
}

func TestReport(t *testing.T) {
	e := newTestEnv(t)
	e.approveFlat(t, "A1", "1234")
	e.do(t, http.MethodPost, "/api/setup-pin", map[string]any{"flat_id": "A1", "code": "1234", "pin4": "5678"})
	cookie := e.login(t, "A1", "5678")

	rec := e.do(t, http.MethodPost, "/api/report", map[string]any{}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty report: %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/report", map[string]any{"stationId": "B2"}, cookie)
	if rec.Code != http.StatusOK || decode(t, rec)["ok"] != true {
		t.Fatalf("report: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	e.approveFlat(t, "A1", "1234")
	e.do(t, http.MethodPost, "/api/setup-pin", map[string]any{"flat_id": "A1", "code": "1234", "pin4": "5678"})
	cookie := e.login(t, "A1", "5678")

	rec := e.do(t, http.MethodPost, "/api/logout", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/live", nil, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("session survives logout: %d", rec.Code)
	}
}

func TestLiveSnapshotToken(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/internal/live-snapshot", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/internal/live-snapshot", nil)
	req.Header.Set("X-Audix-Live-Token", "wrong")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rr.Code)
	}

	b := e.registry.Connect("192.0.2.9")
	e.registry.Identify(b, "B2")
	e.registry.StartBroadcast(b)

	req = httptest.NewRequest(http.MethodGet, "/api/internal/live-snapshot", nil)
	req.Header.Set("X-Audix-Live-Token", testLiveToken)
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("snapshot: %d", rr.Code)
	}
	var snap map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	stations := snap["stations"].([]any)
	if len(stations) != 1 || stations[0].(map[string]any)["ip"] != "192.0.2.9" {
		t.Errorf("snapshot stations = %+v", stations)
	}
}

func TestInternalLogsToken(t *testing.T) {
	e := newTestEnv(t)

	e.logs.Add(logbuffer.Entry{Level: "info", Message: "station started", Component: "registry", Fields: map[string]any{"flat_id": "A1"}})
	e.logs.Add(logbuffer.Entry{Level: "warn", Message: "send queue full, dropping frame", Component: "signal"})

	rec := e.do(t, http.MethodGet, "/api/internal/logs", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/internal/logs?component=registry&flat_id=A1", nil)
	req.Header.Set("X-Audix-Live-Token", testLiveToken)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logs: %d", rr.Code)
	}
	body := decode(t, rr)
	entries := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	entry := entries[0].(map[string]any)
	if entry["message"] != "station started" || entry["component"] != "registry" {
		t.Errorf("entry = %+v", entry)
	}

	// Level filter with no matches still answers an empty list, not null.
	req = httptest.NewRequest(http.MethodGet, "/api/internal/logs?level=error", nil)
	req.Header.Set("X-Audix-Live-Token", testLiveToken)
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	body = decode(t, rr)
	if got, ok := body["entries"].([]any); !ok || len(got) != 0 {
		t.Errorf("entries = %+v", body["entries"])
	}
}

func TestLoginRateLimited(t *testing.T) {
	e := newTestEnv(t)

	var last int
	for i := 0; i < 12; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader([]byte(`{"flat_id":"A1","pin4":"0000"}`)))
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("12th attempt from one IP: %d, want 429", last)
	}
}
