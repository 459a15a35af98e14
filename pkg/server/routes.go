package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"warden-hq/warden/pkg/rule/store"
	"warden-hq/warden/pkg/sampler"
)

// routes builds the mux: admin and ops paths are carved out, everything
// else is enforcement traffic.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.collector.Handler())
	mux.HandleFunc("POST /admin/cycle", s.handleCycle)
	mux.HandleFunc("POST /admin/rollback", s.handleRollback)
	mux.HandleFunc("GET /admin/rules", s.handleRules)
	mux.HandleFunc("GET /admin/incidents", s.handleIncidents)
	mux.HandleFunc("POST /admin/incidents/{id}/false-positive", s.handleFalsePositive)
	mux.Handle("/", s.enforce)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": s.store.Current().Generation,
	})
}

// handleCycle triggers one lifecycle cycle and reports its outcome.
// Triggers during a running cycle coalesce.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "rule synthesis is not configured",
		})
		return
	}

	// The cycle carries its own timeout; a disconnecting admin client
	// must not abort a publish halfway.
	outcome := s.coordinator.TriggerNow(context.Background())
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":    outcome,
		"generation": s.store.Current().Generation,
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("generation")
	generation, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "generation query parameter must be a positive integer",
		})
		return
	}

	if err := s.store.Rollback(generation); err != nil {
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": "generation not found in history",
			})
			return
		}
		s.logger.Error("rollback failed", "generation", generation, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "rollback failed",
		})
		return
	}

	s.collector.Rollbacks.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"restored_from": generation,
		"generation":    s.store.Current().Generation,
	})
}

// handleRules summarizes the live generation.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	live := s.store.Current()

	rules := make([]map[string]any, 0, live.Len())
	for _, rl := range live.Rules {
		rules = append(rules, map[string]any{
			"id":          rl.ID,
			"description": rl.Description,
			"phase":       rl.Phase,
			"action":      rl.Action,
			"provenance":  rl.Provenance,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generation":  live.Generation,
		"id":          live.ID,
		"status":      live.Status,
		"fingerprint": live.Fingerprint,
		"promoted_at": live.PromotedAt,
		"rule_count":  live.Len(),
		"rules":       rules,
	})
}

// handleIncidents lists the sampled window, oldest first, so operators
// can find the incident behind a deny they want to contest.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	incidents := s.sampler.RecentIncidents(0)

	out := make([]map[string]any, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, map[string]any{
			"id":          inc.ID,
			"request_id":  inc.RequestID,
			"method":      inc.Method,
			"path":        inc.Path,
			"rule_id":     inc.RuleID,
			"label":       inc.Label,
			"repeats":     inc.Repeats,
			"observed_at": inc.ObservedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(out),
		"incidents": out,
	})
}

// handleFalsePositive records an operator's report that a sampled deny
// was wrong. The incident replays as known-good from the next cycle on.
func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found, err := s.sampler.ReportFalsePositive(r.Context(), id)
	if err != nil {
		s.logger.Error("false-positive report failed", "incident_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "report failed",
		})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "incident not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": id,
		"label":       sampler.LabelFalsePositive,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
