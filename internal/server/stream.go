package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwbudde/clglinterop/internal/interop"
)

// PerfEvent is one perf report as sent to stream clients.
type PerfEvent struct {
	RunID string `json:"runId,omitempty"`
	interop.PerfReport
}

// Broadcaster fans perf reports out to SSE and websocket clients.
// It implements interop.Reporter so a session can publish into it directly.
type Broadcaster struct {
	mu      sync.RWMutex
	runID   string
	clients map[chan PerfEvent]bool
	last    *PerfEvent
	closed  bool
}

var _ interop.Reporter = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster whose events carry runID.
func NewBroadcaster(runID string) *Broadcaster {
	return &Broadcaster{
		runID:   runID,
		clients: make(map[chan PerfEvent]bool),
	}
}

// Subscribe adds a client. The last event, if any, is delivered first.
func (b *Broadcaster) Subscribe() chan PerfEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan PerfEvent, 10)
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = true

	if b.last != nil {
		select {
		case ch <- *b.last:
		default:
		}
	}

	slog.Debug("Perf client subscribed", "total_clients", len(b.clients))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan PerfEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clients[ch] {
		delete(b.clients, ch)
		close(ch)
	}
	slog.Debug("Perf client unsubscribed", "total_clients", len(b.clients))
}

// Report implements interop.Reporter.
func (b *Broadcaster) Report(r interop.PerfReport) {
	b.Broadcast(PerfEvent{RunID: b.runID, PerfReport: r})
}

// Broadcast sends an event to every client. Slow clients miss events
// instead of blocking the render thread.
func (b *Broadcaster) Broadcast(event PerfEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &event
	if len(b.clients) == 0 {
		return
	}

	slog.Debug("Broadcasting perf report", "clients", len(b.clients), "mode", event.Mode.String())
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("Perf channel full, skipping event")
		}
	}
}

// Last returns the most recent event.
func (b *Broadcaster) Last() (PerfEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return PerfEvent{}, false
	}
	return *b.last, true
}

// Clients returns the number of subscribed clients.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.clients {
		close(ch)
	}
	b.clients = make(map[chan PerfEvent]bool)
	b.closed = true
}

// handlePerfStream handles GET /api/v1/perf/stream (SSE).
func (s *Server) handlePerfStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(events)

	// Commit headers so clients see the stream before the first report.
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected")
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format.
func writeSSEEvent(w http.ResponseWriter, event PerfEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: perf\ndata: %s\n\n", data)
	return err
}

var upgrader = websocket.Upgrader{
	// Any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is a message a websocket client may send.
type wsCommand struct {
	Mode string `json:"mode,omitempty"`
	Next bool   `json:"next,omitempty"`
}

// wsReply acknowledges a wsCommand.
type wsReply struct {
	Type  string `json:"type"`
	Mode  string `json:"mode,omitempty"`
	Error string `json:"error,omitempty"`
}

// handlePerfWebSocket handles GET /api/v1/perf/ws. Perf events are pushed as
// JSON messages; clients may send {"mode":"pbo"} or {"next":true}.
func (s *Server) handlePerfWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(events)

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd wsCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				slog.Debug("WebSocket read ended", "error", err)
				return
			}
			reply := wsReply{Type: "mode"}
			m, err := s.resolveMode(cmd.Mode, cmd.Next)
			if err == nil {
				err = s.ctl.RequestMode(m)
			}
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Mode = m.String()
			}
			if err := send(reply); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				writeMu.Unlock()
				return
			}
			if err := send(event); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
		}
	}
}
