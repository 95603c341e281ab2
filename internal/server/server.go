package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/clglinterop/internal/errs"
	"github.com/cwbudde/clglinterop/internal/interop"
	"github.com/cwbudde/clglinterop/internal/store"
)

// Controller is the part of an interop session the server drives.
// *interop.Session satisfies it.
type Controller interface {
	Status() interop.Status
	RequestMode(interop.Mode) error
}

var _ Controller = (*interop.Session)(nil)

// Options configures a Server.
type Options struct {
	// Store serves /api/v1/runs. Optional.
	Store store.Store
	// DataDir is the store root used to read traces. Required with Store.
	DataDir string
	// PingInterval keeps SSE connections alive. Defaults to 30s.
	PingInterval time.Duration
}

// Server exposes live telemetry of one interop session over HTTP.
type Server struct {
	ctl          Controller
	broadcaster  *Broadcaster
	store        store.Store
	dataDir      string
	pingInterval time.Duration

	addr   string
	server *http.Server
}

// NewServer creates a server for ctl. Perf reports published to b are
// streamed to clients.
func NewServer(addr string, ctl Controller, b *Broadcaster, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Server{
		ctl:          ctl,
		broadcaster:  b,
		store:        opts.Store,
		dataDir:      opts.DataDir,
		pingInterval: opts.PingInterval,
		addr:         addr,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/perf", s.handlePerf)
	mux.HandleFunc("/api/v1/perf/stream", s.handlePerfStream)
	mux.HandleFunc("/api/v1/perf/ws", s.handlePerfWebSocket)
	mux.HandleFunc("/api/v1/mode", s.handleMode)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start listens on the configured address and serves until Shutdown.
// It returns once the listener is bound; serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting telemetry server", "addr", s.addr)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Telemetry server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the listen address, resolved after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown disconnects stream clients and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down telemetry server")
	s.broadcaster.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

// handlePerf handles GET /api/v1/perf
func (s *Server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	event, ok := s.broadcaster.Last()
	if !ok {
		http.Error(w, "No perf report yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ModeRequest is the body of POST /api/v1/mode. Either Mode or Next is set.
type ModeRequest struct {
	Mode string `json:"mode,omitempty"`
	Next bool   `json:"next,omitempty"`
}

// ModeResponse acknowledges an accepted mode request.
type ModeResponse struct {
	Requested string `json:"requested"`
	Current   string `json:"current"`
}

func (s *Server) resolveMode(name string, next bool) (interop.Mode, error) {
	if next {
		return s.ctl.Status().Mode.Next(), nil
	}
	if name == "" {
		return 0, errs.Configuration("mode request", "mode or next is required")
	}
	return interop.ParseMode(name)
}

// handleMode handles POST /api/v1/mode. The switch happens at the next frame
// boundary, so the response carries the mode still current.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	m, err := s.resolveMode(req.Mode, req.Next)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctl.RequestMode(m); err != nil {
		if errors.Is(err, interop.ErrRequestQueueFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("Mode switch requested", "mode", m.String(), "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, ModeResponse{
		Requested: m.String(),
		Current:   s.ctl.Status().Mode.String(),
	})
}

// handleRuns handles GET /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Run store not configured", http.StatusNotFound)
		return
	}
	infos, err := s.store.ListRuns()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleRunsWithID handles /api/v1/runs/:id and /api/v1/runs/:id/trace
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Run store not configured", http.StatusNotFound)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleGetRun(w, runID)
	case len(parts) == 2 && parts[1] == "trace":
		s.handleGetTrace(w, runID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, runID string) {
	run, err := s.store.LoadRun(runID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load run: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, runID string) {
	tr, err := store.NewTraceReader(s.dataDir, runID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open trace: %v", err), http.StatusInternalServerError)
		return
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read trace: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
