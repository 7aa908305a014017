package reviewapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// listSuggestions returns every suggestion still awaiting review.
func (s *Server) listSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.store.Suggestions.GetPendingSuggestions()
	if err != nil {
		s.logger.Error("list pending suggestions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load suggestions")
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// approveOverride is the optional body on an approve request letting
// the reviewer override one or more suggested fields before commit.
type approveOverride struct {
	Folder     *string `json:"folder"`
	Priority   *string `json:"priority"`
	ActionType *string `json:"action_type"`
}

// approveSuggestion implements POST /suggestions/{id}/approve. An empty
// body approves the suggestion as-is; a body with one or more fields
// set applies those overrides, and the result is "partial" when an
// override differs from the suggested value.
func (s *Server) approveSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var override approveOverride
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &override); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	found, err := s.store.Suggestions.ApproveSuggestion(id, override.Folder, override.Priority, override.ActionType)
	if err != nil {
		s.logger.Error("approve suggestion", "suggestion_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to approve suggestion")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "suggestion not found or already resolved")
		return
	}

	if sg, err := s.store.Suggestions.GetSuggestion(id); err != nil {
		s.logger.Warn("reload approved suggestion for mailbox effects", "suggestion_id", id, "error", err)
	} else if sg.ApprovedFolder != nil {
		s.engine.ApplyMailboxEffects(r.Context(), sg.EmailID, *sg.ApprovedFolder, s.watcher.Current())
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// rejectSuggestion implements POST /suggestions/{id}/reject.
func (s *Server) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found, err := s.store.Suggestions.RejectSuggestion(id)
	if err != nil {
		s.logger.Error("reject suggestion", "suggestion_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reject suggestion")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "suggestion not found or already resolved")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// expireSuggestions implements POST /maintenance/expire, the same
// operation the engine runs automatically every cycle, exposed for a
// reviewer who wants to force it between cycles.
func (s *Server) expireSuggestions(w http.ResponseWriter, r *http.Request) {
	cfg := s.watcher.Current()
	n, err := s.store.Suggestions.ExpireOldSuggestions(cfg.SuggestionQueue.ExpireAfterDays)
	if err != nil {
		s.logger.Error("expire suggestions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to expire suggestions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// setPreferences implements PUT /state/classification_preferences,
// letting a reviewer edit the learned-preference blob the classifier's
// system prompt is built from.
func (s *Server) setPreferences(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := s.store.AgentState.SetState("classification_preferences", string(body)); err != nil {
		s.logger.Error("set classification preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// cycleInfoResponse is the §6 "CycleInfo view derived from agent-state
// keys", enriched with the live degradation snapshot and pause state.
type cycleInfoResponse struct {
	LastTriageCycleID string  `json:"last_triage_cycle_id"`
	LastTriageCycleAt string  `json:"last_triage_cycle_at"`
	Degraded          bool    `json:"degraded"`
	DegradedReason    string  `json:"degraded_reason,omitempty"`
	DegradedSince     *string `json:"degraded_since,omitempty"`
	Paused            bool    `json:"paused"`
}

func (s *Server) cycleInfo(w http.ResponseWriter, r *http.Request) {
	cycleID, _, err := s.store.AgentState.GetState("last_triage_cycle_id")
	if err != nil {
		s.logger.Error("read last_triage_cycle_id", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load cycle info")
		return
	}
	cycleAt, _, err := s.store.AgentState.GetState("last_triage_cycle")
	if err != nil {
		s.logger.Error("read last_triage_cycle", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load cycle info")
		return
	}

	resp := cycleInfoResponse{
		LastTriageCycleID: cycleID,
		LastTriageCycleAt: cycleAt,
		Paused:            s.engine.IsPaused(),
	}

	snap := s.engine.Degradation().Snapshot()
	resp.Degraded = snap.Degraded
	if snap.Degraded {
		resp.DegradedReason = snap.Reason
		since := snap.Since.Format("2006-01-02T15:04:05Z07:00")
		resp.DegradedSince = &since
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pauseEngine(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeEngine(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
