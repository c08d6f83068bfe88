/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/audixlabs/audix/internal/flatid"
	"github.com/audixlabs/audix/internal/netutil"
	"github.com/audixlabs/audix/internal/session"
	"github.com/audixlabs/audix/internal/telemetry"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
)

const pingInterval = 15 * time.Second

// frame is an incoming signaling message. SDP and candidates stay raw;
// the relay never reads them.
type frame struct {
	Type            string          `json:"type"`
	FlatID          string          `json:"flat_id"`
	Role            string          `json:"role"`
	TargetFlat      string          `json:"targetFlat"`
	ListenerID      string          `json:"listenerId"`
	BroadcasterFlat string          `json:"broadcasterFlat"`
	SDP             json.RawMessage `json:"sdp"`
	Candidate       json.RawMessage `json:"candidate"`
}

// Channel accepts signaling connections and routes their frames through
// the hub.
type Channel struct {
	hub *Hub
	log zerolog.Logger
}

// NewChannel creates the signaling channel handler.
func NewChannel(hub *Hub, logger zerolog.Logger) *Channel {
	return &Channel{
		hub: hub,
		log: logger.With().Str("component", "signal_ws").Logger(),
	}
}

// HandleWebSocket upgrades the request and runs the connection until it
// closes. Sends `hello` with the server-assigned id immediately.
func (ch *Channel) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionFlat := session.FlatID(r.Context())

	socket, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		ch.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer socket.Close(ws.StatusInternalError, "server error")

	telemetry.SignalConnections.Inc()
	defer telemetry.SignalConnections.Dec()

	client, err := ch.hub.Register(netutil.ClientIP(r))
	if err != nil {
		socket.Close(ws.StatusInternalError, "server error")
		return
	}
	defer ch.hub.Unregister(client)

	ctx := r.Context()
	write := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return socket.Write(writeCtx, ws.MessageText, data)
	}
	writeRaw := func(data []byte) error {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return socket.Write(writeCtx, ws.MessageText, data)
	}

	if err := write(map[string]string{"type": "hello", "id": client.ID}); err != nil {
		return
	}

	var alive atomic.Bool
	alive.Store(true)

	frames := make(chan frame, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := socket.Read(ctx)
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
				continue
			}
			// pong lands ahead of the bounded queue so a backlogged
			// client is never mistaken for a ghost socket.
			if f.Type == "pong" {
				alive.Store(true)
				continue
			}
			select {
			case frames <- f:
			default:
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			socket.Close(ws.StatusNormalClosure, "server shutting down")
			return

		case <-done:
			socket.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if !alive.Load() {
				socket.Close(ws.StatusGoingAway, "ping timeout")
				return
			}
			alive.Store(false)
			write(map[string]string{"type": "ping"})

		case data := <-client.Outgoing():
			if err := writeRaw(data); err != nil {
				socket.Close(ws.StatusNormalClosure, "write failed")
				return
			}

		case f := <-frames:
			if denied := ch.handleFrame(client, sessionFlat, f, write); denied {
				socket.Close(ws.StatusPolicyViolation, "already broadcasting")
				return
			}
		}
	}
}

// handleFrame routes one frame. The return value reports whether the
// connection must close (duplicate broadcaster). Failed lookups drop
// silently except for the listener's own join.
func (ch *Channel) handleFrame(client *Client, sessionFlat string, f frame, reply func(any) error) (deny bool) {
	switch f.Type {
	case "identify":
		id := flatid.Normalize(f.FlatID)
		if id == "" || id != sessionFlat {
			return false
		}
		if err := ch.hub.Identify(client, id, Role(f.Role)); err != nil {
			reply(map[string]string{"type": "broadcast:denied", "reason": "ALREADY_BROADCASTING"})
			return true
		}

	case "listen:join":
		if code := ch.hub.Join(client, f.TargetFlat); code != "" {
			reply(map[string]string{"type": "listen:error", "error": code})
		}

	case "listen:leave":
		ch.hub.Leave(client)

	case "webrtc:offer":
		ch.hub.OfferToListener(client, f.ListenerID, f.SDP)

	case "webrtc:answer":
		ch.hub.AnswerToBroadcaster(client, f.BroadcasterFlat, f.SDP)

	case "webrtc:ice":
		if f.ListenerID != "" {
			ch.hub.IceToListener(client, f.ListenerID, f.Candidate)
		} else if f.BroadcasterFlat != "" {
			ch.hub.IceToBroadcaster(client, f.BroadcasterFlat, f.Candidate)
		}

	default:
		// Unknown frame types are a no-op.
	}
	return false
}
