package web

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/logic/tick"
)

// TelemetryHub keeps the latest control loop snapshot and streams every
// published snapshot to websocket clients.
type TelemetryHub struct {
	hub *hub

	mu     sync.RWMutex
	latest *tick.Snapshot
}

// NewTelemetryHub creates an empty hub.
func NewTelemetryHub() *TelemetryHub {
	return &TelemetryHub{hub: newHub()}
}

// Publish records s and fans it out. It never blocks, so it can be
// registered directly as a tick.Observer.
func (t *TelemetryHub) Publish(s tick.Snapshot) {
	t.mu.Lock()
	t.latest = &s
	t.mu.Unlock()

	if t.hub.len() == 0 {
		return
	}
	data, err := json.Marshal(telemetryMessage{Type: "snapshot", Snapshot: &s})
	if err != nil {
		debug.Error(err)
		return
	}
	if dropped := t.hub.publish(data); dropped > 0 {
		debug.Verbose("telemetry: dropped tick %d for %d slow client(s)", s.Tick, dropped)
	}
}

// Latest returns the most recent snapshot, if any was published.
func (t *TelemetryHub) Latest() (tick.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return tick.Snapshot{}, false
	}
	return *t.latest, true
}

// Subscribe registers a telemetry client.
func (t *TelemetryHub) Subscribe() (uuid.UUID, <-chan []byte, func()) {
	return t.hub.subscribe()
}

// Clients returns the number of connected telemetry clients.
func (t *TelemetryHub) Clients() int {
	return t.hub.len()
}

// telemetryMessage is the envelope of every server-to-client websocket frame.
type telemetryMessage struct {
	Type     string         `json:"type"` // hello, snapshot or error
	ClientID string         `json:"client_id,omitempty"`
	Snapshot *tick.Snapshot `json:"snapshot,omitempty"`
	Error    string         `json:"error,omitempty"`
}
