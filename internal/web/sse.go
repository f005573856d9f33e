package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nti-schack/leaderboard/internal/events"
	"github.com/nti-schack/leaderboard/internal/leaderboard"
	"github.com/sirupsen/logrus"
)

const snapshotTimeout = 10 * time.Second

// SSEClient represents a connected SSE client.
type SSEClient struct {
	ID      string
	Channel chan []byte
}

// SSEHub pushes leaderboard snapshots to connected browsers.
type SSEHub struct {
	clients map[*SSEClient]bool
	mu      sync.RWMutex
	board   *leaderboard.Service
}

// NewSSEHub creates a new SSE hub.
func NewSSEHub(board *leaderboard.Service) *SSEHub {
	return &SSEHub{
		clients: make(map[*SSEClient]bool),
		board:   board,
	}
}

// Run rebuilds the leaderboard on every event and broadcasts it until the
// channel is closed.
func (h *SSEHub) Run(ch <-chan events.Event) {
	logrus.Info("SSE hub started")
	for e := range ch {
		logrus.WithField("event", fmt.Sprintf("%T", e)).Debug("SSE: leaderboard changed")
		if h.Clients() == 0 {
			continue
		}
		payload, err := h.snapshot()
		if err != nil {
			logrus.WithError(err).Error("SSE: failed to build leaderboard")
			continue
		}
		h.broadcast(payload)
	}
	logrus.Info("SSE hub stopped")
}

// Clients returns the number of connected clients.
func (h *SSEHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SSEHub) snapshot() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	ranked, err := h.board.Snapshot(ctx, leaderboard.Window{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(ranked)
}

func (h *SSEHub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Channel <- payload:
		default:
			// Client too slow, skip
			logrus.WithField("client", client.ID).Warn("SSE: dropping message for slow client")
		}
	}
}

// HandleConnection streams leaderboard events to one client.
func (h *SSEHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &SSEClient{
		ID:      uuid.NewString(),
		Channel: make(chan []byte, 10),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	logrus.WithField("client", client.ID).Debug("SSE client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		logrus.WithField("client", client.ID).Debug("SSE client disconnected")
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// Initial state
	if payload, err := h.snapshot(); err == nil {
		writeEvent(w, payload)
		flusher.Flush()
	} else {
		logrus.WithError(err).Error("SSE: failed to build initial leaderboard")
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-client.Channel:
			writeEvent(w, payload)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, payload []byte) {
	fmt.Fprintf(w, "event: leaderboard\ndata: %s\n\n", payload)
}
