/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signal implements the WebRTC signaling channel: an opaque
// relay pairing each station's broadcaster with its listeners. SDP and
// ICE payloads pass through untouched.
package signal

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/audixlabs/audix/internal/flatid"
	"github.com/rs/zerolog"
)

// Role of a signaling connection.
type Role string

const (
	RoleUnknown     Role = "unknown"
	RoleBroadcaster Role = "broadcaster"
	RoleListener    Role = "listener"
)

// ErrAlreadyBroadcasting means another connection already registered as
// this flat's broadcaster.
var ErrAlreadyBroadcasting = errors.New("already broadcasting")

// Relay error codes sent to a listener whose join failed.
const (
	ErrCodeStationOffline = "STATION_OFFLINE"
	ErrCodeSignalNotReady = "BROADCASTER_SIGNAL_NOT_READY"
)

// sendQueueSize bounds the per-connection outgoing queue. Signaling is
// best-effort: a full queue drops the frame and the peers resynchronize
// through their own WebRTC retries.
const sendQueueSize = 64

// StationDirectory answers whether a flat is live on the presence plane.
type StationDirectory interface {
	IsLive(flatID string) bool
}

// Client is one signaling connection. Mutable fields are guarded by the
// hub mutex.
type Client struct {
	ID          string
	IP          string
	FlatID      string
	Role        Role
	ListeningTo string

	send chan []byte
}

// Outgoing returns the channel the connection handler drains.
func (c *Client) Outgoing() <-chan []byte { return c.send }

// Hub tracks signaling connections and the broadcaster index. Its state
// is separate from the presence registry; the directory is the only
// bridge between the two planes.
type Hub struct {
	mu           sync.Mutex
	clients      map[string]*Client
	broadcasters map[string]*Client

	directory StationDirectory
	log       zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(directory StationDirectory, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		broadcasters: make(map[string]*Client),
		directory:    directory,
		log:          logger.With().Str("component", "signal").Logger(),
	}
}

// Register creates a client with a fresh opaque id.
func (h *Hub) Register(ip string) (*Client, error) {
	id, err := newClientID()
	if err != nil {
		return nil, err
	}
	c := &Client{
		ID:   id,
		IP:   ip,
		Role: RoleUnknown,
		send: make(chan []byte, sendQueueSize),
	}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c, nil
}

// Unregister removes the client. The broadcaster index entry is removed
// only if it still points at this exact connection, so a replacement
// broadcaster registered in the meantime survives.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	if c.FlatID != "" && h.broadcasters[c.FlatID] == c {
		delete(h.broadcasters, c.FlatID)
	}
	h.mu.Unlock()
}

// Identify binds the connection to a flat and role. Registering as
// broadcaster fails when the flat already has one. Re-identifying with
// a different flat or role releases any index entry this connection
// held, so a replacement broadcaster is never blocked by a stale slot.
func (h *Hub) Identify(c *Client, rawFlatID string, role Role) error {
	id := flatid.Normalize(rawFlatID)
	if role != RoleBroadcaster {
		role = RoleListener
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if c.FlatID != "" && h.broadcasters[c.FlatID] == c {
		delete(h.broadcasters, c.FlatID)
	}

	c.FlatID = id
	if role == RoleListener {
		c.Role = RoleListener
		return nil
	}
	if existing, ok := h.broadcasters[id]; ok && existing != c {
		return ErrAlreadyBroadcasting
	}
	c.Role = RoleBroadcaster
	h.broadcasters[id] = c
	return nil
}

// Join pairs a listener with the target station's broadcaster. The
// returned code is empty on success, otherwise one of the relay error
// codes for the listener.
func (h *Hub) Join(c *Client, rawTarget string) string {
	target := flatid.Normalize(rawTarget)
	if !h.directory.IsLive(target) {
		return ErrCodeStationOffline
	}

	h.mu.Lock()
	broadcaster, ok := h.broadcasters[target]
	if !ok {
		h.mu.Unlock()
		return ErrCodeSignalNotReady
	}
	c.ListeningTo = target
	h.mu.Unlock()

	h.enqueue(broadcaster, map[string]any{"type": "listener:join", "listenerId": c.ID})
	h.enqueue(c, map[string]any{"type": "listen:ok", "targetFlat": target})
	return ""
}

// Leave tells the broadcaster this listener is gone. No-op unless the
// client joined something.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	target := c.ListeningTo
	c.ListeningTo = ""
	broadcaster := h.broadcasters[target]
	h.mu.Unlock()

	if target == "" || broadcaster == nil {
		return
	}
	h.enqueue(broadcaster, map[string]any{"type": "listener:leave", "listenerId": c.ID})
}

// OfferToListener forwards a broadcaster's SDP offer. Only broadcasters
// send offers; a listener-shaped sender is dropped silently.
func (h *Hub) OfferToListener(from *Client, listenerID string, sdp json.RawMessage) {
	h.mu.Lock()
	listener, ok := h.clients[listenerID]
	if from.Role != RoleBroadcaster {
		ok = false
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.enqueue(listener, map[string]any{"type": "webrtc:offer", "from": from.ID, "sdp": sdp})
}

// AnswerToBroadcaster forwards a listener's SDP answer to the flat's
// broadcaster. Only listeners send answers.
func (h *Hub) AnswerToBroadcaster(from *Client, rawFlat string, sdp json.RawMessage) {
	h.mu.Lock()
	broadcaster, ok := h.broadcasters[flatid.Normalize(rawFlat)]
	if from.Role != RoleListener {
		ok = false
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.enqueue(broadcaster, map[string]any{"type": "webrtc:answer", "listenerId": from.ID, "sdp": sdp})
}

// IceToListener forwards an ICE candidate from the broadcaster. Only
// broadcasters address listeners by id.
func (h *Hub) IceToListener(from *Client, listenerID string, candidate json.RawMessage) {
	h.mu.Lock()
	listener, ok := h.clients[listenerID]
	if from.Role != RoleBroadcaster {
		ok = false
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.enqueue(listener, map[string]any{"type": "webrtc:ice", "from": from.ID, "candidate": candidate})
}

// IceToBroadcaster forwards an ICE candidate from a listener.
func (h *Hub) IceToBroadcaster(from *Client, rawFlat string, candidate json.RawMessage) {
	h.mu.Lock()
	broadcaster, ok := h.broadcasters[flatid.Normalize(rawFlat)]
	if from.Role != RoleListener {
		ok = false
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.enqueue(broadcaster, map[string]any{"type": "webrtc:ice", "listenerId": from.ID, "candidate": candidate})
}

// enqueue marshals and queues a frame without blocking. Undeliverable
// frames are dropped.
func (h *Hub) enqueue(c *Client, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn().Str("client_id", c.ID).Msg("send queue full, dropping frame")
	}
}

func newClientID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
