// Package api serves the HTTP API for chains, runs, templates and schedules.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainstore"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/schedule"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/templates"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Store interface for database operations
type Store interface {
	CreateChain(c *domain.Chain) error
	UpdateChain(c *domain.Chain) error
	GetChain(id string) (*domain.Chain, error)
	ListChains(opts chainstore.ListOptions) ([]*domain.Chain, error)
	DeleteChain(id string) error
	GetRun(id string) (*domain.Run, error)
	ListRuns(opts chainstore.RunListOptions) ([]*domain.Run, error)
	CreateSchedule(s *domain.Schedule) error
	ListSchedules() ([]*domain.Schedule, error)
	DeleteSchedule(id string) error
}

// Options configures a Server
type Options struct {
	Addr      string
	Store     Store
	Runs      *engine.Manager
	Catalog   *templates.Catalog
	Scheduler *schedule.Scheduler // optional; schedules are then only persisted
	Logger    *zap.SugaredLogger
}

// Server is the HTTP API server
type Server struct {
	store     Store
	runs      *engine.Manager
	catalog   *templates.Catalog
	scheduler *schedule.Scheduler
	log       *zap.SugaredLogger
	addr      string
	mux       *http.ServeMux
	hub       *Hub
}

// NewServer creates a new API server and subscribes its event hub to the
// run manager
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		store:     opts.Store,
		runs:      opts.Runs,
		catalog:   opts.Catalog,
		scheduler: opts.Scheduler,
		log:       log,
		addr:      opts.Addr,
		mux:       http.NewServeMux(),
		hub:       NewHub(),
	}
	if s.runs != nil {
		s.runs.Subscribe(s.hub)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.statusHandler())

	s.mux.HandleFunc("GET /api/chains", s.listChainsHandler())
	s.mux.HandleFunc("POST /api/chains", s.createChainHandler())
	s.mux.HandleFunc("POST /api/chains/validate", s.validateChainHandler())
	s.mux.HandleFunc("GET /api/chains/{id}", s.getChainHandler())
	s.mux.HandleFunc("PUT /api/chains/{id}", s.updateChainHandler())
	s.mux.HandleFunc("DELETE /api/chains/{id}", s.deleteChainHandler())
	s.mux.HandleFunc("POST /api/chains/{id}/run", s.runChainHandler())

	s.mux.HandleFunc("GET /api/runs", s.listRunsHandler())
	s.mux.HandleFunc("GET /api/runs/{id}", s.getRunHandler())
	s.mux.HandleFunc("POST /api/runs/{id}/cancel", s.cancelRunHandler())

	s.mux.HandleFunc("GET /api/templates", s.listTemplatesHandler())
	s.mux.HandleFunc("GET /api/templates/{name}", s.getTemplateHandler())
	s.mux.HandleFunc("POST /api/templates/{name}/instantiate", s.instantiateTemplateHandler())

	s.mux.HandleFunc("GET /api/schedules", s.listSchedulesHandler())
	s.mux.HandleFunc("POST /api/schedules", s.createScheduleHandler())
	s.mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteScheduleHandler())

	s.mux.HandleFunc("GET /api/events", s.sseHandler())
	s.mux.HandleFunc("GET /api/ws", s.wsHandler())
}

// Handler returns the routed handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the event hub streaming run events to clients
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// streaming handlers return once their channel is closed
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Broadcast sends an event to all streaming clients
func (s *Server) Broadcast(event Event) {
	s.hub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeErr maps domain errors onto HTTP status codes
func writeErr(w http.ResponseWriter, err error) {
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ValidationResponse{
			Valid:       false,
			Error:       ve.Error(),
			Diagnostics: ve.Diagnostics,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrChainNotFound),
		errors.Is(err, chainstore.ErrNotFound),
		errors.Is(err, engine.ErrRunNotFound),
		errors.Is(err, templates.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
