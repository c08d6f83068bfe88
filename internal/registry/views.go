/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package registry

import (
	"sort"
	"time"
)

// PublicStation is the station view for logged-in clients. No IPs, no
// per-listener detail.
type PublicStation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Live      bool      `json:"live"`
	Listeners int       `json:"listeners"`
	StartedAt time.Time `json:"startedAt"`
}

// PublicStations lists live stations sorted by flat id ascending.
func (r *Registry) PublicStations() []PublicStation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PublicStation, 0, len(r.stations))
	for _, s := range r.stations {
		out = append(out, PublicStation{
			ID:        s.FlatID,
			Name:      s.FlatID,
			Live:      true,
			Listeners: len(s.listeners),
			StartedAt: s.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SnapshotListener is one listener in the internal snapshot.
type SnapshotListener struct {
	FlatID      string    `json:"flat_id"`
	IP          string    `json:"ip"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// SnapshotStation is one station in the internal snapshot, IPs included.
type SnapshotStation struct {
	ID        string             `json:"id"`
	IP        string             `json:"ip"`
	StartedAt time.Time          `json:"startedAt"`
	Audio     AudioStatus        `json:"audio"`
	Listeners []SnapshotListener `json:"listeners"`
}

// SnapshotClient is one presence connection in the internal snapshot.
type SnapshotClient struct {
	FlatID      string    `json:"flat_id"`
	IP          string    `json:"ip"`
	Role        Role      `json:"role"`
	ListeningTo string    `json:"listening_to,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// SnapshotTotals summarizes the registry.
type SnapshotTotals struct {
	Clients   int `json:"clients"`
	Stations  int `json:"stations"`
	Listeners int `json:"listeners"`
}

// Snapshot is the token-gated administrative view of all in-memory
// presence state.
type Snapshot struct {
	Totals    SnapshotTotals    `json:"totals"`
	UptimeSec int64             `json:"uptimeSec"`
	Stations  []SnapshotStation `json:"stations"`
	Clients   []SnapshotClient  `json:"clients"`
}

// Snapshot builds the full internal view.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		UptimeSec: int64(r.now().Sub(r.startedAt) / time.Second),
		Stations:  make([]SnapshotStation, 0, len(r.stations)),
		Clients:   make([]SnapshotClient, 0, len(r.clients)),
	}

	for _, s := range r.stations {
		st := SnapshotStation{
			ID:        s.FlatID,
			IP:        s.IP,
			StartedAt: s.StartedAt,
			Audio:     s.Audio,
			Listeners: make([]SnapshotListener, 0, len(s.listeners)),
		}
		for l := range s.listeners {
			st.Listeners = append(st.Listeners, SnapshotListener{
				FlatID:      l.FlatID,
				IP:          l.IP,
				ConnectedAt: l.ConnectedAt,
			})
		}
		sort.Slice(st.Listeners, func(i, j int) bool { return st.Listeners[i].FlatID < st.Listeners[j].FlatID })
		snap.Totals.Listeners += len(st.Listeners)
		snap.Stations = append(snap.Stations, st)
	}
	sort.Slice(snap.Stations, func(i, j int) bool { return snap.Stations[i].ID < snap.Stations[j].ID })

	for c := range r.clients {
		snap.Clients = append(snap.Clients, SnapshotClient{
			FlatID:      c.FlatID,
			IP:          c.IP,
			Role:        c.Role,
			ListeningTo: c.ListeningTo,
			ConnectedAt: c.ConnectedAt,
		})
	}
	sort.Slice(snap.Clients, func(i, j int) bool {
		if snap.Clients[i].FlatID != snap.Clients[j].FlatID {
			return snap.Clients[i].FlatID < snap.Clients[j].FlatID
		}
		return snap.Clients[i].ConnectedAt.Before(snap.Clients[j].ConnectedAt)
	})

	snap.Totals.Clients = len(r.clients)
	snap.Totals.Stations = len(r.stations)
	return snap
}
