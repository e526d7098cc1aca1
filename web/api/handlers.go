package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainstore"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/schedule"
)

// ChainSummary is the API response for a chain in a listing
type ChainSummary struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Nodes       int              `json:"nodes"`
	RunCount    int              `json:"runCount"`
	LastRunAt   *time.Time       `json:"lastRunAt,omitempty"`
	LastStatus  domain.RunStatus `json:"lastStatus,omitempty"`
	ScheduleID  string           `json:"scheduleId,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// RunSummary is the API response for a run in a listing or event
type RunSummary struct {
	ID            string           `json:"id"`
	ChainID       string           `json:"chainId"`
	ChainName     string           `json:"chainName"`
	Status        domain.RunStatus `json:"status"`
	CurrentNodeID string           `json:"currentNodeId,omitempty"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	DurationMs    int64            `json:"durationMs"`
	Steps         int              `json:"steps"`
	ParentRunID   string           `json:"parentRunId,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Chains     int          `json:"chains"`
	Schedules  int          `json:"schedules"`
	ActiveRuns []RunSummary `json:"activeRuns"`
	Clients    int          `json:"clients"`
}

// ValidationResponse is returned by the validate endpoint and for rejected chains
type ValidationResponse struct {
	Valid       bool               `json:"valid"`
	Error       string             `json:"error,omitempty"`
	Diagnostics []graph.Diagnostic `json:"diagnostics"`
}

// RunRequest is the optional body of a run request
type RunRequest struct {
	Variables map[string]string `json:"variables"`
}

// TemplateSummary is the API response for a template in a listing
type TemplateSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Nodes       int      `json:"nodes"`
}

// InstantiateRequest names the chain created from a template
type InstantiateRequest struct {
	Name string `json:"name"`
}

// ScheduleRequest creates a schedule
type ScheduleRequest struct {
	ChainID string `json:"chainId"`
	Cron    string `json:"cron"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// ScheduleResponse is a schedule with its next firing time
type ScheduleResponse struct {
	domain.Schedule
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

func chainToSummary(c *domain.Chain) ChainSummary {
	return ChainSummary{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Tags:        c.Tags,
		Nodes:       len(c.Nodes),
		RunCount:    c.RunCount,
		LastRunAt:   c.LastRunAt,
		LastStatus:  c.LastStatus,
		ScheduleID:  c.ScheduleID,
		UpdatedAt:   c.UpdatedAt,
	}
}

func runToSummary(r *domain.Run) RunSummary {
	return RunSummary{
		ID:            r.ID,
		ChainID:       r.ChainID,
		ChainName:     r.ChainName,
		Status:        r.Status,
		CurrentNodeID: r.CurrentNodeID,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		DurationMs:    r.Duration().Milliseconds(),
		Steps:         len(r.NodeResults),
		ParentRunID:   r.ParentRunID,
		Error:         r.Error,
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chains, err := s.store.ListChains(chainstore.ListOptions{})
		if err != nil {
			writeErr(w, err)
			return
		}
		schedules, err := s.store.ListSchedules()
		if err != nil {
			writeErr(w, err)
			return
		}

		status := StatusResponse{
			Chains:     len(chains),
			Schedules:  len(schedules),
			ActiveRuns: []RunSummary{},
			Clients:    s.hub.Clients(),
		}
		if s.runs != nil {
			for _, run := range s.runs.Active() {
				status.ActiveRuns = append(status.ActiveRuns, runToSummary(run))
			}
		}

		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) listChainsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chains, err := s.store.ListChains(chainstore.ListOptions{Tag: r.URL.Query().Get("tag")})
		if err != nil {
			writeErr(w, err)
			return
		}

		resp := make([]ChainSummary, len(chains))
		for i, c := range chains {
			resp[i] = chainToSummary(c)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getChainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain, err := s.store.GetChain(r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chain)
	}
}

func (s *Server) createChainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var chain domain.Chain
		if err := decodeJSON(r, &chain); err != nil {
			writeError(w, http.StatusBadRequest, "invalid chain: "+err.Error())
			return
		}
		if err := graph.Validate(&chain); err != nil {
			writeErr(w, err)
			return
		}
		if err := s.store.CreateChain(&chain); err != nil {
			writeErr(w, err)
			return
		}

		s.log.Infow("chain created", "chain_id", chain.ID, "name", chain.Name)
		writeJSON(w, http.StatusCreated, chain)
	}
}

func (s *Server) updateChainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var chain domain.Chain
		if err := decodeJSON(r, &chain); err != nil {
			writeError(w, http.StatusBadRequest, "invalid chain: "+err.Error())
			return
		}
		chain.ID = r.PathValue("id")
		if err := graph.Validate(&chain); err != nil {
			writeErr(w, err)
			return
		}
		if err := s.store.UpdateChain(&chain); err != nil {
			writeErr(w, err)
			return
		}

		updated, err := s.store.GetChain(chain.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) deleteChainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		// schedules go with the chain; unregister them once the delete succeeds
		schedules, err := s.store.ListSchedules()
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := s.store.DeleteChain(id); err != nil {
			writeErr(w, err)
			return
		}
		if s.scheduler != nil {
			for _, sch := range schedules {
				if sch.ChainID == id {
					s.scheduler.Remove(sch.ID)
				}
			}
		}

		s.log.Infow("chain deleted", "chain_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) validateChainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var chain domain.Chain
		if err := decodeJSON(r, &chain); err != nil {
			writeError(w, http.StatusBadRequest, "invalid chain: "+err.Error())
			return
		}

		resp := ValidationResponse{Valid: true, Diagnostics: []graph.Diagnostic{}}
		resp.Diagnostics = append(resp.Diagnostics, graph.Diagnose(&chain)...)
		if err := graph.Validate(&chain); err != nil {
			resp.Valid = false
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) runChainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "run manager not available")
			return
		}

		var req RunRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid run request: "+err.Error())
			return
		}

		id := r.PathValue("id")
		if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
			run, err := s.runs.Run(r.Context(), id, req.Variables)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, run)
			return
		}

		run, err := s.runs.Start(id, req.Variables)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := chainstore.RunListOptions{
			ChainID: q.Get("chain"),
			Status:  domain.RunStatus(q.Get("status")),
			Limit:   50,
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = limit
		}
		opts.IncludeChildren, _ = strconv.ParseBool(q.Get("children"))

		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeErr(w, err)
			return
		}

		resp := make([]RunSummary, len(runs))
		for i, run := range runs {
			resp[i] = runToSummary(run)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		// in-flight runs are fresher in memory than in the store
		if s.runs != nil {
			if run, ok := s.runs.Get(id); ok {
				writeJSON(w, http.StatusOK, run)
				return
			}
		}

		run, err := s.store.GetRun(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) cancelRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "run manager not available")
			return
		}
		if err := s.runs.Cancel(r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

func (s *Server) listTemplatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.catalog.List()
		if err != nil {
			writeErr(w, err)
			return
		}

		resp := make([]TemplateSummary, len(list))
		for i, t := range list {
			resp[i] = TemplateSummary{
				Name:        t.Name,
				Description: t.Description,
				Tags:        t.Tags,
				Nodes:       len(t.Nodes),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getTemplateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.catalog.Get(r.PathValue("name"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) instantiateTemplateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstantiateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}

		chain, err := s.catalog.Instantiate(r.PathValue("name"), req.Name)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := s.store.CreateChain(chain); err != nil {
			writeErr(w, err)
			return
		}

		s.log.Infow("chain created from template", "chain_id", chain.ID, "template", r.PathValue("name"))
		writeJSON(w, http.StatusCreated, chain)
	}
}

func (s *Server) scheduleResponse(sch *domain.Schedule) ScheduleResponse {
	resp := ScheduleResponse{Schedule: *sch}
	if s.scheduler != nil && sch.Enabled {
		if next := s.scheduler.NextRun(sch.ID); !next.IsZero() {
			resp.NextRunAt = &next
		}
	}
	return resp
}

func (s *Server) listSchedulesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schedules, err := s.store.ListSchedules()
		if err != nil {
			writeErr(w, err)
			return
		}

		resp := make([]ScheduleResponse, len(schedules))
		for i, sch := range schedules {
			resp[i] = s.scheduleResponse(sch)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) createScheduleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
			return
		}

		sch := &domain.Schedule{
			ChainID: req.ChainID,
			Cron:    req.Cron,
			Enabled: req.Enabled == nil || *req.Enabled,
		}
		if err := schedule.Validate(*sch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.store.CreateSchedule(sch); err != nil {
			writeErr(w, err)
			return
		}
		if s.scheduler != nil {
			if err := s.scheduler.Add(*sch); err != nil {
				writeErr(w, err)
				return
			}
		}

		s.log.Infow("schedule created", "schedule_id", sch.ID, "chain_id", sch.ChainID, "cron", sch.Cron)
		writeJSON(w, http.StatusCreated, s.scheduleResponse(sch))
	}
}

func (s *Server) deleteScheduleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.store.DeleteSchedule(id); err != nil {
			writeErr(w, err)
			return
		}
		if s.scheduler != nil {
			s.scheduler.Remove(id)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
