package httpapi

import (
	"net/http"

	"github.com/cuemap-dev/cuemap/core/normalize"
)

type addAliasRequest struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

func (s *Server) addAlias(w http.ResponseWriter, r *http.Request) {
	var req addAliasRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	from := normalize.Normalize(req.From)
	to := normalize.Normalize(req.To)
	if from == "" || to == "" || from == to {
		writeError(w, http.StatusBadRequest, "from and to must be distinct non-empty cues")
		return
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	c.Aliases.Add(from, to, req.Weight)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listAliases(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aliases": c.Aliases.Export()})
}

type mergeAliasRequest struct {
	Froms  []string `json:"froms"`
	To     string   `json:"to"`
	Weight float64  `json:"weight"`
}

func (s *Server) mergeAliases(w http.ResponseWriter, r *http.Request) {
	var req mergeAliasRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	to := normalize.Normalize(req.To)
	if to == "" || len(req.Froms) == 0 {
		writeError(w, http.StatusBadRequest, "froms and to are required")
		return
	}
	froms := make([]string, 0, len(req.Froms))
	for _, f := range req.Froms {
		if n := normalize.Normalize(f); n != "" {
			froms = append(froms, n)
		}
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	n := c.Aliases.Merge(froms, to, req.Weight)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "merged": n})
}

func (s *Server) aliasProposals(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": c.Proposals.List()})
}

func (s *Server) acceptProposal(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !c.Proposals.Accept(r.PathValue("id"), c.Aliases) {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type wireRequest struct {
	Token     string `json:"token"`
	Canonical string `json:"canonical"`
}

func (s *Server) lexiconWire(w http.ResponseWriter, r *http.Request) {
	var req wireRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	token := normalize.Normalize(req.Token)
	canonical := normalize.Normalize(req.Canonical)
	if err := c.Lex.Wire(token, canonical); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "wired"})
}

func (s *Server) lexiconInspect(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Lex.Inspect(normalize.Normalize(r.PathValue("cue"))))
}

func (s *Server) lexiconUnwire(w http.ResponseWriter, r *http.Request) {
	c, err := s.tenantOf(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	token := r.URL.Query().Get("token")
	if !c.Lex.Unwire(normalize.Normalize(token), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "lexicon entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unwired"})
}
