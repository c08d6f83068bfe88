/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presence implements the presence WebSocket channel. Frames on
// it mutate the station registry; the socket itself carries no media.
package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/audixlabs/audix/internal/flatid"
	"github.com/audixlabs/audix/internal/netutil"
	"github.com/audixlabs/audix/internal/registry"
	"github.com/audixlabs/audix/internal/session"
	"github.com/audixlabs/audix/internal/telemetry"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
)

// pingInterval is the heartbeat period. A client that misses a full
// interval without answering is treated as a ghost socket.
const pingInterval = 15 * time.Second

// frame is an incoming presence message. Raw fields tolerate whatever
// the browser sends and are coerced JS-style.
type frame struct {
	Type       string          `json:"type"`
	FlatID     string          `json:"flat_id"`
	TargetFlat string          `json:"targetFlat"`
	MicOn      json.RawMessage `json:"micOn"`
	SysOn      json.RawMessage `json:"sysOn"`
	PTT        json.RawMessage `json:"ptt"`
	Speaking   json.RawMessage `json:"speaking"`
	MicLevel   json.RawMessage `json:"micLevel"`
}

// Channel accepts presence connections and applies their frames to the
// registry.
type Channel struct {
	registry *registry.Registry
	log      zerolog.Logger
}

// NewChannel creates the presence channel handler.
func NewChannel(reg *registry.Registry, logger zerolog.Logger) *Channel {
	return &Channel{
		registry: reg,
		log:      logger.With().Str("component", "presence").Logger(),
	}
}

// conn is the per-connection state next to the registry client.
type conn struct {
	client      *registry.Client
	sessionFlat string
	identified  bool
	alive       atomic.Bool
}

// HandleWebSocket upgrades the request and runs the connection until it
// closes. The session middleware has already authenticated the request.
func (ch *Channel) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionFlat := session.FlatID(r.Context())

	socket, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		ch.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer socket.Close(ws.StatusInternalError, "server error")

	telemetry.PresenceConnections.Inc()
	defer telemetry.PresenceConnections.Dec()

	c := &conn{
		client:      ch.registry.Connect(netutil.ClientIP(r)),
		sessionFlat: sessionFlat,
	}
	c.alive.Store(true)
	defer ch.registry.Disconnect(c.client)

	ctx := r.Context()
	frames := make(chan frame, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, data, err := socket.Read(ctx)
			if err != nil {
				return
			}
			ch.ingest(c, data, frames)
		}
	}()

	reply := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		socket.Write(writeCtx, ws.MessageText, data)
	}

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
			if !c.alive.Load() {
				ch.log.Debug().Str("flat_id", sessionFlat).Msg("ghost socket, closing")
				socket.Close(ws.StatusGoingAway, "ping timeout")
				return
			}
			c.alive.Store(false)
			reply(map[string]string{"type": "ping"})

		case f := <-frames:
			ch.handleFrame(c, f, reply)
		}
	}
}

// ingest parses one wire message and queues it for the handler loop.
// pong is applied here, ahead of the bounded queue, so a backlogged but
// healthy client is never mistaken for a ghost socket.
func (ch *Channel) ingest(c *conn, data []byte, frames chan<- frame) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		return
	}
	if f.Type == "pong" {
		c.alive.Store(true)
		return
	}
	select {
	case frames <- f:
	default:
		ch.log.Warn().Str("flat_id", c.sessionFlat).Msg("frame channel full, dropping")
	}
}

// handleFrame applies one frame. Unknown types and operations before
// identify are dropped.
func (ch *Channel) handleFrame(c *conn, f frame, reply func(any)) {
	switch f.Type {
	case "identify":
		id := flatid.Normalize(f.FlatID)
		if id == "" || id != c.sessionFlat {
			return
		}
		ch.registry.Identify(c.client, id)
		c.identified = true

	case "broadcast:start":
		if !c.identified {
			return
		}
		if err := ch.registry.StartBroadcast(c.client); err != nil {
			reply(map[string]string{"type": "broadcast:denied", "reason": "ALREADY_BROADCASTING"})
		}

	case "broadcast:stop":
		if !c.identified {
			return
		}
		ch.registry.StopBroadcast(c.client)

	case "broadcast:status":
		if !c.identified {
			return
		}
		ch.registry.UpdateAudio(c.client, registry.AudioStatus{
			MicOn:    truthy(f.MicOn),
			SysOn:    truthy(f.SysOn),
			PTT:      truthy(f.PTT),
			Speaking: truthy(f.Speaking),
			MicLevel: toNumber(f.MicLevel),
		})

	case "listen:start":
		if !c.identified {
			return
		}
		ch.registry.StartListen(c.client, f.TargetFlat)

	case "listen:stop":
		if !c.identified {
			return
		}
		ch.registry.StopListen(c.client)

	default:
		// Unknown frame types are a no-op.
	}
}
