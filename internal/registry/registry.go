/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry holds the process-wide presence state: connected
// clients and live stations. It is the single source of truth for who
// is live. Nothing here is persisted; a restart empties it and clients
// rebuild it by reconnecting.
package registry

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/audixlabs/audix/internal/events"
	"github.com/audixlabs/audix/internal/flatid"
	"github.com/rs/zerolog"
)

// Role of a presence client.
type Role string

const (
	RoleIdle        Role = "idle"
	RoleBroadcaster Role = "broadcaster"
	RoleListener    Role = "listener"
)

// ErrAlreadyBroadcasting means the flat already owns a live station.
var ErrAlreadyBroadcasting = errors.New("already broadcasting")

// AudioStatus is the broadcaster's self-reported telemetry.
type AudioStatus struct {
	MicOn    bool    `json:"micOn"`
	SysOn    bool    `json:"sysOn"`
	PTT      bool    `json:"ptt"`
	Speaking bool    `json:"speaking"`
	MicLevel float64 `json:"micLevel"`
}

// Client is one presence connection. All fields are guarded by the
// registry mutex; the presence channel never touches them directly.
type Client struct {
	FlatID      string
	IP          string
	Role        Role
	ListeningTo string
	ConnectedAt time.Time
}

// Station is a live broadcast, keyed by the broadcaster's flat id.
type Station struct {
	FlatID    string
	IP        string
	StartedAt time.Time
	Audio     AudioStatus

	owner     *Client
	listeners map[*Client]struct{}
}

// Registry guards clients and stations under one mutex so every frame
// effect is atomic with respect to concurrent frames and disconnects.
type Registry struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	stations map[string]*Station

	bus       *events.Bus
	log       zerolog.Logger
	startedAt time.Time
	now       func() time.Time
}

// New creates an empty registry.
func New(bus *events.Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		clients:   make(map[*Client]struct{}),
		stations:  make(map[string]*Station),
		bus:       bus,
		log:       logger.With().Str("component", "registry").Logger(),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Connect registers a new presence connection.
func (r *Registry) Connect(ip string) *Client {
	c := &Client{
		IP:          ip,
		Role:        RoleIdle,
		ConnectedAt: r.now(),
	}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	clients := len(r.clients)
	r.mu.Unlock()

	r.bus.Publish(events.EventClientConnected, events.Payload{"ip": ip, "clients": clients})
	return c
}

// Identify binds the connection to a flat. Station operations before
// identification are dropped by the presence channel.
func (r *Registry) Identify(c *Client, rawFlatID string) string {
	id := flatid.Normalize(rawFlatID)
	r.mu.Lock()
	c.FlatID = id
	r.mu.Unlock()
	return id
}

// StartBroadcast makes the client the broadcaster for its flat. The
// flat may own at most one station; a second start is denied without
// touching the existing one.
func (r *Registry) StartBroadcast(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.FlatID == "" {
		return ErrAlreadyBroadcasting
	}
	if _, exists := r.stations[c.FlatID]; exists {
		return ErrAlreadyBroadcasting
	}

	if c.Role == RoleListener {
		r.detachListenerLocked(c)
	}
	c.Role = RoleBroadcaster
	c.ListeningTo = ""
	r.stations[c.FlatID] = &Station{
		FlatID:    c.FlatID,
		IP:        c.IP,
		StartedAt: r.now(),
		owner:     c,
		listeners: make(map[*Client]struct{}),
	}

	r.log.Info().Str("flat_id", c.FlatID).Msg("station started")
	r.publishLocked(events.EventStationStarted, c.FlatID)
	return nil
}

// StopBroadcast tears down the station for the client's flat, resetting
// every listener to idle. No-op when the flat is not live.
func (r *Registry) StopBroadcast(c *Client) {
	r.mu.Lock()
	stopped := r.stopStationLocked(c.FlatID)
	if c.Role == RoleBroadcaster {
		c.Role = RoleIdle
	}
	r.mu.Unlock()

	if stopped {
		r.log.Info().Str("flat_id", c.FlatID).Msg("station stopped")
		r.publish(events.EventStationStopped, c.FlatID)
	}
}

// UpdateAudio replaces the station's telemetry. MicLevel is clamped to
// [0,1]; NaN collapses to 0.
func (r *Registry) UpdateAudio(c *Client, audio AudioStatus) {
	if math.IsNaN(audio.MicLevel) {
		audio.MicLevel = 0
	} else if audio.MicLevel < 0 {
		audio.MicLevel = 0
	} else if audio.MicLevel > 1 {
		audio.MicLevel = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	station, ok := r.stations[c.FlatID]
	if !ok {
		return
	}
	station.Audio = audio
}

// StartListen joins the client to the target station. Dropped when the
// target is not live or the client is a broadcaster. Switching targets
// leaves the old station atomically.
func (r *Registry) StartListen(c *Client, rawTarget string) bool {
	target := flatid.Normalize(rawTarget)

	r.mu.Lock()
	station, ok := r.stations[target]
	if !ok || c.Role == RoleBroadcaster {
		r.mu.Unlock()
		return false
	}
	if c.Role == RoleListener && c.ListeningTo != target {
		r.detachListenerLocked(c)
	}
	c.Role = RoleListener
	c.ListeningTo = target
	station.listeners[c] = struct{}{}
	r.mu.Unlock()

	r.publish(events.EventListenerJoined, target)
	return true
}

// StopListen detaches the client from its station. Idempotent.
func (r *Registry) StopListen(c *Client) {
	r.mu.Lock()
	target := c.ListeningTo
	left := c.Role == RoleListener
	r.detachListenerLocked(c)
	c.Role = RoleIdle
	c.ListeningTo = ""
	r.mu.Unlock()

	if left && target != "" {
		r.publish(events.EventListenerLeft, target)
	}
}

// Disconnect cleans up everything the connection held. Safe to call
// more than once for the same client.
func (r *Registry) Disconnect(c *Client) {
	r.mu.Lock()
	if _, known := r.clients[c]; !known {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)

	var stoppedStation string
	switch c.Role {
	case RoleListener:
		r.detachListenerLocked(c)
	case RoleBroadcaster:
		if r.stopStationLocked(c.FlatID) {
			stoppedStation = c.FlatID
		}
	}
	c.Role = RoleIdle
	c.ListeningTo = ""
	clients := len(r.clients)
	r.mu.Unlock()

	if stoppedStation != "" {
		r.log.Info().Str("flat_id", stoppedStation).Msg("station stopped by disconnect")
		r.publish(events.EventStationStopped, stoppedStation)
	}
	r.bus.Publish(events.EventClientDisconnected, events.Payload{"flat_id": c.FlatID, "clients": clients})
}

// IsLive reports whether the flat currently owns a station. Used by the
// signaling channel to validate listen:join targets.
func (r *Registry) IsLive(flatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stations[flatid.Normalize(flatID)]
	return ok
}

// detachListenerLocked removes c from its current station's listener
// set, if any. Caller holds the mutex.
func (r *Registry) detachListenerLocked(c *Client) {
	if c.ListeningTo == "" {
		return
	}
	if station, ok := r.stations[c.ListeningTo]; ok {
		delete(station.listeners, c)
	}
}

// stopStationLocked deletes the station and resets every listener and
// the owner. Caller holds the mutex.
func (r *Registry) stopStationLocked(flatID string) bool {
	station, ok := r.stations[flatID]
	if !ok {
		return false
	}
	for listener := range station.listeners {
		listener.Role = RoleIdle
		listener.ListeningTo = ""
	}
	if station.owner != nil {
		station.owner.Role = RoleIdle
	}
	delete(r.stations, flatID)
	return true
}

func (r *Registry) publish(event events.EventType, flatID string) {
	r.mu.Lock()
	r.publishLocked(event, flatID)
	r.mu.Unlock()
}

func (r *Registry) publishLocked(event events.EventType, flatID string) {
	listeners := 0
	for _, s := range r.stations {
		listeners += len(s.listeners)
	}
	r.bus.Publish(event, events.Payload{
		"flat_id":   flatID,
		"clients":   len(r.clients),
		"stations":  len(r.stations),
		"listeners": listeners,
	})
}
