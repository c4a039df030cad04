package httpapi

import (
	"net/http"
	"time"

	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/taxonomy"
	"github.com/cuemap-dev/cuemap/core/tenant"
)

type addMemoryRequest struct {
	Content string   `json:"content"`
	Cues    []string `json:"cues,omitempty"`
}

type addMemoryResponse struct {
	ID           string              `json:"id"`
	AcceptedCues []string            `json:"accepted_cues"`
	RejectedCues []taxonomy.Rejected `json:"rejected_cues"`
	LatencyMS    float64             `json:"latency_ms"`
}

func (s *Server) addMemory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req addMemoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	res, err := c.AddMemory(r.Context(), req.Content, req.Cues)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addMemoryResponse{
		ID:           res.ID,
		AcceptedCues: res.AcceptedCues,
		RejectedCues: res.RejectedCues,
		LatencyMS:    sinceMillis(start),
	})
}

type recallRequest struct {
	Cues      []string `json:"cues,omitempty"`
	QueryText string   `json:"query_text,omitempty"`
	Limit     int      `json:"limit"`

	Explain                     bool `json:"explain,omitempty"`
	FastMode                    bool `json:"fast_mode,omitempty"`
	Reinforce                   bool `json:"reinforce,omitempty"`
	DisablePatternCompletion    bool `json:"disable_pattern_completion,omitempty"`
	DisableSalienceBias         bool `json:"disable_salience_bias,omitempty"`
	DisableSystemsConsolidation bool `json:"disable_systems_consolidation,omitempty"`
}

func (s *Server) recall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	start := time.Now()
	results := c.Recall(r.Context(), tenant.RecallRequest{
		Cues:                        req.Cues,
		QueryText:                   req.QueryText,
		Limit:                       req.Limit,
		Explain:                     req.Explain,
		FastMode:                    req.FastMode,
		AutoReinforce:               req.Reinforce,
		DisablePatternCompletion:    req.DisablePatternCompletion,
		DisableSalienceBias:         req.DisableSalienceBias,
		DisableSystemsConsolidation: req.DisableSystemsConsolidation,
	})
	if results == nil {
		// Empty query or unknown cues: an empty result, not an error.
		results = []engine.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":           results,
		"engine_latency_ms": sinceMillis(start),
	})
}

type reinforceRequest struct {
	Cues []string `json:"cues,omitempty"`
}

func (s *Server) reinforce(w http.ResponseWriter, r *http.Request) {
	var req reinforceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	id := r.PathValue("id")
	count, err := c.Reinforce(id, req.Cues)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "reinforcement_count": count})
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	mem, content, err := c.GetMemory(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                      mem.ID,
		"content":                 content,
		"cues":                    mem.Cues,
		"created_at":              mem.CreatedAt,
		"reinforcement_count":     mem.ReinforcementCount,
		"salience_score":          mem.SalienceScore,
		"episode_id":              mem.EpisodeID,
		"is_consolidated_summary": mem.Summary,
	})
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !c.DeleteMemory(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderProject) == "" {
		writeJSON(w, http.StatusOK, s.sup.GlobalStats())
		return
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Stats())
}

func (s *Server) projects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"projects": s.sup.Tenants()})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if !s.sup.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) jobsStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Pipeline().Telemetry())
}
