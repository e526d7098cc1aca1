package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// Event types streamed to clients
const (
	EventRunStarted   = "run_started"
	EventNodeFinished = "node_finished"
	EventRunFinished  = "run_finished"
)

// clientBuffer is how many events a slow client may lag behind before
// events to it are dropped
const clientBuffer = 64

// Event is a server-sent event
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NodeEvent is the payload of a node_finished event
type NodeEvent struct {
	RunID   string                 `json:"runId"`
	ChainID string                 `json:"chainId"`
	Result  domain.ChainNodeResult `json:"result"`
}

// Hub fans run events out to SSE and WebSocket clients. It implements
// engine.Observer.
type Hub struct {
	clients map[chan Event]struct{}
	closed  bool
	mu      sync.Mutex
}

// NewHub creates an event hub
func NewHub() *Hub {
	return &Hub{clients: make(map[chan Event]struct{})}
}

// Subscribe registers a client. The channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, clientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends an event to all clients without blocking
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// RunStarted implements engine.Observer
func (h *Hub) RunStarted(run *domain.Run) {
	h.Broadcast(Event{Type: EventRunStarted, Data: runToSummary(run)})
}

// NodeFinished implements engine.Observer
func (h *Hub) NodeFinished(run *domain.Run, result domain.ChainNodeResult) {
	h.Broadcast(Event{Type: EventNodeFinished, Data: NodeEvent{
		RunID:   run.ID,
		ChainID: run.ChainID,
		Result:  result,
	}})
}

// RunFinished implements engine.Observer
func (h *Hub) RunFinished(run *domain.Run) {
	h.Broadcast(Event{Type: EventRunFinished, Data: runToSummary(run)})
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client := s.hub.Subscribe()
		defer s.hub.Unsubscribe(client)

		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.log.Warnw("failed to encode event", "type", event.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
