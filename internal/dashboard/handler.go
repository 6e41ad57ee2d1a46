// Package dashboard provides event handling and message formatting for the dashboard.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/veildb/zonesync/internal/engine"
	"github.com/veildb/zonesync/internal/schema"
)

// Handler turns engine state transitions into dashboard messages. It
// bridges between the sync engine and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	mu        sync.Mutex
	lastPhase engine.Phase
	loadStart time.Time
	known     map[string]string // contact ID -> name, for diffing loads
	stats     StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, zone string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		known:  make(map[string]string),
		stats:  StatsData{Zone: zone, Phase: engine.PhaseIdle.String()},
	}
}

// Run subscribes to the engine and forwards every state transition to
// connected clients until ctx is cancelled.
func (h *Handler) Run(ctx context.Context, eng *engine.Engine) {
	ch, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	// Prime clients with whatever state the engine is already in
	h.OnStateChange(eng.State())

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			h.OnStateChange(st)
		}
	}
}

// OnStateChange handles one engine state transition
func (h *Handler) OnStateChange(st engine.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Printf("State change: %s", st.Phase)

	if st.Phase == engine.PhaseLoading && h.lastPhase != engine.PhaseLoading {
		h.loadStart = time.Now()
	}

	data := StateChangeData{Phase: st.Phase.String()}
	if st.Err != nil {
		data.Error = st.Err.Error()
		data.ErrorKind = st.Err.Kind.String()
		data.Retryable = st.Err.Kind.Retryable()
	}
	h.broadcast(MessageTypeStateChange, data)

	if st.Phase == engine.PhaseLoaded {
		h.diffContactsLocked(st.Contacts)

		var elapsed time.Duration
		if !h.loadStart.IsZero() {
			elapsed = time.Since(h.loadStart)
		}
		h.broadcast(MessageTypeSyncComplete, SyncCompleteData{
			Contacts: len(st.Contacts),
			Duration: elapsed,
		})
		h.stats.Contacts = len(st.Contacts)
	}

	h.stats.Phase = st.Phase.String()
	h.lastPhase = st.Phase
	h.broadcastStatsLocked()
}

// diffContactsLocked emits contact_update messages for every contact
// that appeared in or vanished from the loaded set.
func (h *Handler) diffContactsLocked(contacts []*schema.Contact) {
	current := make(map[string]string, len(contacts))
	for _, c := range contacts {
		current[c.ID] = c.Name
	}

	for id, name := range current {
		if _, ok := h.known[id]; !ok {
			h.broadcast(MessageTypeContactUpdate, ContactUpdateData{
				ContactID: id,
				Action:    "added",
				Name:      name,
			})
		}
	}
	for id, name := range h.known {
		if _, ok := current[id]; !ok {
			h.broadcast(MessageTypeContactUpdate, ContactUpdateData{
				ContactID: id,
				Action:    "removed",
				Name:      name,
			})
		}
	}

	h.known = current
}

// broadcast marshals a message payload and hands it to the server
func (h *Handler) broadcast(typ MessageType, v any) {
	dataJSON, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// broadcastStatsLocked sends current statistics to all clients and
// records them as the welcome snapshot for future connects.
func (h *Handler) broadcastStatsLocked() {
	dataJSON, err := json.Marshal(h.stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.SetSnapshot(dataJSON)
	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
