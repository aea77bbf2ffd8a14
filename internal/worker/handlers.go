package worker

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/internal/capture"
	"github.com/tripmesh/contextengine/internal/search"
	"github.com/tripmesh/contextengine/pkg/models"
)

// intentRequest is the POST /api/intents body.
type intentRequest struct {
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	SourceID string `json:"source_id"`
	Op       string `json:"op"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports liveness.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleIntent accepts one refresh intent from the application's hooks.
func (s *Service) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	op := models.IntentOp(req.Op)
	if op != models.OpUpsert && op != models.OpDelete {
		writeError(w, http.StatusBadRequest, "op must be upsert or delete")
		return
	}

	intent := capture.NewIntent(models.SourceRef{
		TenantID: req.TenantID,
		Kind:     models.SourceKind(req.Kind),
		SourceID: req.SourceID,
	}, op)

	if err := s.capturer.Submit(r.Context(), intent); err != nil {
		// Validation failures (missing tenant, unknown kind) are caller
		// mistakes and must be loud, never silently dropped.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"intent_id": intent.ID})
}

// handleContext resolves a query into a context bundle.
func (s *Service) handleContext(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	bundle, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		// Resolution degrades instead of erroring, so any error here is a
		// malformed request (missing tenant or query).
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// handleSweep triggers one reconciliation cycle synchronously.
func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.sweeper.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleStats exposes queue state and optional per-tenant record counts.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"queue":  s.queue.Stats(),
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if tenant := r.URL.Query().Get("tenant_id"); tenant != "" {
		count, err := s.store.CountForTenant(r.Context(), tenant)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		stats["tenant_records"] = count
	}
	if s.limiter != nil {
		stats["rate_limiter"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}
