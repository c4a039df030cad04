// Package httpapi is the thin JSON surface over the tenant supervisor.
// All semantics live in the core packages; handlers only translate wire
// shapes and map engine error kinds to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/jobs"
	"github.com/cuemap-dev/cuemap/core/tenant"
)

// Header names of the tenant router and the optional key gate.
const (
	HeaderProject = "X-Project-ID"
	HeaderAPIKey  = "X-API-Key"
)

// Server holds the wiring shared by all handlers.
type Server struct {
	sup      *tenant.Supervisor
	apiKey   string
	readOnly bool
	log      *slog.Logger
}

// Config configures a Server.
type Config struct {
	APIKey   string
	ReadOnly bool
	Logger   *slog.Logger
}

// NewServer wraps the supervisor.
func NewServer(sup *tenant.Supervisor, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{sup: sup, apiKey: cfg.APIKey, readOnly: cfg.ReadOnly, log: cfg.Logger}
}

// Routes returns the handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.root)
	mux.HandleFunc("POST /memories", s.write(s.addMemory))
	mux.HandleFunc("POST /recall", s.recall)
	mux.HandleFunc("PATCH /memories/{id}/reinforce", s.write(s.reinforce))
	mux.HandleFunc("GET /memories/{id}", s.getMemory)
	mux.HandleFunc("DELETE /memories/{id}", s.write(s.deleteMemory))
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /projects", s.projects)
	mux.HandleFunc("DELETE /projects/{id}", s.write(s.deleteProject))
	mux.HandleFunc("POST /aliases", s.write(s.addAlias))
	mux.HandleFunc("GET /aliases", s.listAliases)
	mux.HandleFunc("POST /aliases/merge", s.write(s.mergeAliases))
	mux.HandleFunc("GET /aliases/proposals", s.aliasProposals)
	mux.HandleFunc("POST /aliases/proposals/{id}/accept", s.write(s.acceptProposal))
	mux.HandleFunc("GET /lexicon/inspect/{cue}", s.lexiconInspect)
	mux.HandleFunc("POST /lexicon/wire", s.write(s.lexiconWire))
	mux.HandleFunc("DELETE /lexicon/entry/{id}", s.write(s.lexiconUnwire))
	mux.HandleFunc("GET /jobs/status", s.jobsStatus)
	return s.gate(mux)
}

// gate enforces the optional API key.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(HeaderAPIKey) != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// write rejects mutating requests in read-only mode.
func (s *Server) write(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.readOnly {
			writeError(w, http.StatusForbidden, "server is read-only")
			return
		}
		h(w, r)
	}
}

func (s *Server) tenantOf(r *http.Request) (*tenant.Context, error) {
	return s.sup.Get(r.Header.Get(HeaderProject))
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "cuemap", "status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps boundary error kinds to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrCapacity), errors.Is(err, jobs.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode[T any](r *http.Request, into *T) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func sinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
