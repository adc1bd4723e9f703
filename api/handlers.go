package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"estate_hunter/models"
	"estate_hunter/scraper"
)

const (
	webhookSecretHeader = "x-apify-webhook-secret"
	runSecretHeader     = "X-Run-Secret"
	defaultDedupTTL     = 24 * time.Hour
)

// webhookPayload accepts both a bare dataset ID and Apify's default run payload.
type webhookPayload struct {
	DatasetID string `json:"datasetId"`
	Resource  struct {
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"resource"`
}

func (p webhookPayload) datasetID() string {
	if id := strings.TrimSpace(p.DatasetID); id != "" {
		return id
	}
	return strings.TrimSpace(p.Resource.DefaultDatasetID)
}

func (s *Server) handleApifyWebhook(w http.ResponseWriter, r *http.Request) {
	if !secretMatches(s.cfg.Apify.WebhookSecret, r.Header.Get(webhookSecretHeader)) {
		s.respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	datasetID := payload.datasetID()
	if datasetID == "" {
		s.respondWithError(w, http.StatusBadRequest, "Missing datasetId or resource.defaultDatasetId")
		return
	}
	if strings.TrimSpace(s.cfg.Apify.Token) == "" {
		s.respondWithError(w, http.StatusBadRequest, "APIFY_TOKEN not configured")
		return
	}

	log := s.log.With(zap.String("dataset_id", datasetID))
	ctx := r.Context()
	claimed, err := s.dedup.Claim(ctx, datasetID, s.dedupTTL())
	if err != nil {
		log.Warn("dataset dedup unavailable; processing anyway", zap.Error(err))
		claimed = true
	}
	if !claimed {
		log.Info("duplicate webhook delivery ignored")
		s.respondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicate": true, "dataset_id": datasetID})
		return
	}

	result, err := s.runner.ProcessDataset(ctx, models.SourceFacebook, datasetID)
	if err != nil {
		if rerr := s.dedup.Release(context.WithoutCancel(ctx), datasetID); rerr != nil {
			log.Warn("release dataset claim failed", zap.Error(rerr))
		}
		if errors.Is(err, scraper.ErrApifyNotConfigured) {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("webhook processing failed", zap.Error(err))
		s.respondWithJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"dataset_id":        datasetID,
		"listings_found":    result.ListingsFound,
		"listings_upserted": result.ListingsUpserted,
	})
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var opts scraper.StartOptions
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &opts); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	if opts.MaxPages < 0 {
		s.respondWithError(w, http.StatusBadRequest, "max_pages must be positive")
		return
	}

	if err := s.cfg.Validate(); err != nil {
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	state, err := s.runner.Start(opts)
	switch {
	case errors.Is(err, scraper.ErrRunInProgress):
		s.respondWithJSON(w, http.StatusConflict, state)
	case errors.Is(err, scraper.ErrNoSources):
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.log.Error("run start failed", zap.Error(err))
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.respondWithJSON(w, http.StatusAccepted, state)
	}
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{"status": "ok"}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.log.Error("health check failed for store", zap.Error(err))
			body["status"] = "degraded"
			body["store"] = "unreachable"
		}
	}
	if err := s.dedup.Ping(ctx); err != nil {
		s.log.Error("health check failed for dedup", zap.Error(err))
		body["status"] = "degraded"
		body["dedup"] = "unreachable"
	}

	if body["status"] != "ok" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	s.respondWithJSON(w, http.StatusOK, body)
}

// requireRunSecret guards run control when a secret is configured.
func (s *Server) requireRunSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !secretMatches(s.cfg.RunSecret(), r.Header.Get(runSecretHeader)) {
			s.respondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) dedupTTL() time.Duration {
	if s.cfg.Redis.DedupTTL > 0 {
		return s.cfg.Redis.DedupTTL
	}
	return defaultDedupTTL
}

// secretMatches accepts any request when no secret is configured.
func secretMatches(want, got string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(got))) == 1
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
