// Package api exposes a running host over HTTP.
//
// Routes:
//
//	GET  /v1/modules           loaded modules and their lifecycle state
//	GET  /v1/worldgens         registered worldgen names
//	POST /v1/worldgens/{name}  generate a world; the body is the request document
//	GET  /v1/systems           systems in execution order
//	GET  /v1/ticks             websocket stream of tick reports
//
// Every route is wrapped by [observe.Middleware].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/tessera/internal/gridmap"
	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/internal/resilience"
	"github.com/MrWong99/tessera/pkg/module"
)

// DefaultMaxBody caps generation request bodies.
const DefaultMaxBody = 1 << 20

// maxChunks bounds the chunks query parameter per axis.
const maxChunks = 16

// Backend is the part of [host.Host] the HTTP surface needs.
type Backend interface {
	Modules() []host.ModuleStatus
	Worldgens() []string
	Generate(ctx context.Context, name string, params []byte) (*host.Generated, error)
	GenerateChunks(ctx context.Context, name string, params map[string]any, n int) (*gridmap.Map, error)
	Systems() *host.SystemRegistry
}

// Server serves the host API.
type Server struct {
	backend Backend
	ticks   *TickHub
	metrics *observe.Metrics
	maxBody int64
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxBody overrides [DefaultMaxBody].
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// NewServer creates a server for b. ticks may be nil, in which case
// /v1/ticks is not registered.
func NewServer(b Backend, ticks *TickHub, opts ...Option) *Server {
	s := &Server{backend: b, ticks: ticks, maxBody: DefaultMaxBody}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/modules", s.handleModules)
	mux.HandleFunc("GET /v1/worldgens", s.handleWorldgens)
	mux.HandleFunc("POST /v1/worldgens/{name}", s.handleGenerate)
	mux.HandleFunc("GET /v1/systems", s.handleSystems)
	if s.ticks != nil {
		mux.Handle("GET /v1/ticks", s.ticks)
	}
}

// Handler returns mux wrapped in the observability middleware.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.backend.Modules()})
}

func (s *Server) handleWorldgens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"worldgens": s.backend.Worldgens()})
}

func (s *Server) handleSystems(w http.ResponseWriter, _ *http.Request) {
	reg := s.backend.Systems()
	order, err := reg.Order()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   err.Error(),
			"systems": reg.Names(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"systems": order})
}

// handleGenerate runs one worldgen. With ?chunks=N the request is treated as
// a base for an N×N block of chunks that is merged before being returned.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	chunks := 1
	if v := r.URL.Query().Get("chunks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxChunks {
			writeError(w, http.StatusBadRequest, fmt.Errorf("chunks must be between 1 and %d", maxChunks))
			return
		}
		chunks = n
	}

	if chunks == 1 {
		g, err := s.backend.Generate(r.Context(), name, body)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Tessera-Module", g.Module)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(g.Document)
		return
	}

	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", module.ErrParam, err))
		return
	}
	m, err := s.backend.GenerateChunks(r.Context(), name, params, chunks)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// statusFor maps a generation error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrWorldgenNotFound):
		return http.StatusNotFound
	case errors.Is(err, module.ErrParam):
		return http.StatusBadRequest
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, module.ErrShutDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, host.ErrValidation), errors.Is(err, gridmap.ErrInvalidMap):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode response", "err", err)
	}
}
