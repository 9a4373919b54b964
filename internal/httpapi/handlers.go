package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/racelock/veloengine/internal/domain/governance"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// listProposals handles GET /proposals?status=&critic_type=&limit=&offset=.
func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	var status *governance.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st := governance.Status(v)
		status = &st
	}
	var criticType *governance.CriticType
	if v := r.URL.Query().Get("critic_type"); v != "" {
		ct := governance.CriticType(v)
		criticType = &ct
	}
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)

	proposals, err := s.gov.ListProposals(r.Context(), status, criticType, limit, offset)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "list_proposals_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals, "count": len(proposals)})
}

// getProposal handles GET /proposals/{id}.
func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := s.gov.GetProposal(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "proposal_not_found", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// acceptProposal handles POST /proposals/{id}/accept.
func (s *Server) acceptProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	bump := governance.ChangeMinor
	if req.Bump != "" {
		bump = governance.ChangeType(req.Bump)
	}
	proposal, err := s.gov.Accept(r.Context(), id, req.Reviewer, req.Rationale, bump, req.RulesSnapshot)
	if err != nil {
		s.writeError(w, r, http.StatusConflict, "accept_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

// rejectProposal handles POST /proposals/{id}/reject.
func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	proposal, err := s.gov.Reject(r.Context(), id, req.Reviewer, req.Rationale)
	if err != nil {
		s.writeError(w, r, http.StatusConflict, "reject_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

// rollbackProposal handles POST /proposals/{id}/rollback.
func (s *Server) rollbackProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	proposal, err := s.gov.Rollback(r.Context(), id, req.Reviewer, req.Rationale)
	if err != nil {
		s.writeError(w, r, http.StatusConflict, "rollback_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

// getLedger handles GET /ledger?limit=.
func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	entries, err := s.gov.GetLedger(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "get_ledger_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// getDoctrineVersions handles GET /doctrine/versions?limit=.
func (s *Server) getDoctrineVersions(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	versions, err := s.gov.DoctrineVersionHistory(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "get_doctrine_versions_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

// getStats handles GET /stats.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gov.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "get_stats_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
