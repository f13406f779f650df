// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest implements the system's hot path: the generic inbound
// webhook endpoint every provider connector plugs into. One handler admits,
// verifies, dedupes, and persists any provider's delivery by looking up its
// connector in the registry.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/dedup"
	"github.com/johnearle/triggerhub/internal/metrics"
	"github.com/johnearle/triggerhub/internal/models"
	"github.com/johnearle/triggerhub/internal/ratelimit"
	"github.com/johnearle/triggerhub/internal/store"
)

// maxBodyBytes bounds the read of an inbound delivery; providers in this
// catalog send small JSON payloads, never multi-megabyte blobs.
const maxBodyBytes = 5 << 20 // 5 MiB

// TriggerStore is the subset of *store.Store the ingestion handler needs.
type TriggerStore interface {
	GetTriggerByWebhookURL(ctx context.Context, id string) (*models.Trigger, error)
	CreateTriggerEvent(ctx context.Context, e models.TriggerEvent) (*models.TriggerEvent, bool, error)
	SetLastTriggered(ctx context.Context, id string, t time.Time) error
}

// Handler implements inbound webhook delivery. ServeHTTP runs the admit,
// lookup, challenge, verify and parse steps inline; only persist is a
// separate method.
type Handler struct {
	Store     TriggerStore
	Registry  *connector.Registry
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Collector
	Dedup     *dedup.Filter // optional fast-path cache in front of the store's UNIQUE constraint
	Now       func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// Routes mounts the ingestion endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/{app}/{trigger_id}", h.ServeHTTP)
	r.Get("/webhooks/{app}/{trigger_id}", h.ServeHTTP)
}

// ServeHTTP admits, looks up, verifies, parses, and persists one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	app := chi.URLParam(r, "app")
	triggerID := chi.URLParam(r, "trigger_id")

	// Step 1: admission. Allow charges both the IP and trigger buckets
	// together, so a 429 here cannot distinguish which one rejected it;
	// RetryAfter reports the per-trigger bucket's delay, the bucket the
	// caller can actually do something about.
	ip := clientIP(r)
	if !h.Limiter.Allow(ip, triggerID) {
		h.recordRateLimitHit("trigger_or_ip")
		retryAfter := h.Limiter.RetryAfter(triggerID)
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "rate_limited"})
		return
	}

	// Step 2: lookup.
	trigger, err := h.Store.GetTriggerByWebhookURL(r.Context(), triggerID)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "unknown_trigger"})
			return
		}
		slog.Error("ingest: lookup trigger failed", "trigger_id", triggerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	if trigger.App != app {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "app_mismatch"})
		return
	}

	conn, ok := h.Registry.Lookup(app)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "unsupported_app"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "body_too_large"})
		return
	}

	// Step 3: challenge. MUST NOT require an active trigger row — providers
	// probe before activation is confirmed — but still verifies signatures
	// where the provider sends one.
	if challenger, ok := conn.(connector.ChallengeHandler); ok {
		if resp, isChallenge, cerr := challenger.HandleChallenge(body, r.Header); cerr == nil && isChallenge {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(resp)
			return
		}
	}

	if trigger.Status != models.TriggerActive {
		if trigger.Status == models.TriggerPaused {
			writeJSON(w, http.StatusGone, map[string]string{"status": "paused"})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "unknown_trigger"})
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	// Step 4: verify.
	if err := conn.Verify(r.Context(), body, r.Header, *trigger); err != nil {
		h.recordVerificationFailed(app)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "invalid_signature"})
		return
	}

	// Step 5: parse.
	events, err := conn.Parse(body, r.Header, *trigger)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "malformed_payload"})
		return
	}

	// Step 6: persist, insert-or-ignore per event.
	allDuplicates := len(events) > 0
	for _, parsed := range events {
		inserted, isNew, err := h.persist(r.Context(), trigger.ID, parsed, start)
		if err != nil {
			slog.Error("ingest: persist event failed", "trigger_id", trigger.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
			return
		}
		if isNew {
			allDuplicates = false
			h.recordReceived(app)
		} else {
			h.recordDedup(app)
		}
		_ = inserted
	}

	// Step 7: post-conditions — best-effort, never fails the request.
	if err := h.Store.SetLastTriggered(r.Context(), trigger.ID, start); err != nil {
		slog.Warn("ingest: set last_triggered_at failed", "trigger_id", trigger.ID, "error", err)
	}

	h.observeDuration(app, h.now().Sub(start))

	status := "ok"
	if allDuplicates {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// persist runs the fast-path Redis dedup check (if configured) before
// falling through to the store's UNIQUE-constraint insert-or-ignore, which
// remains the source of truth when two deliveries race each other.
func (h *Handler) persist(ctx context.Context, triggerID string, parsed models.ParsedEvent, receivedAt time.Time) (*models.TriggerEvent, bool, error) {
	if h.Dedup != nil && parsed.ExternalEventID != nil {
		isNew, err := h.Dedup.IsNew(ctx, triggerID, *parsed.ExternalEventID)
		if err == nil && !isNew {
			return nil, false, nil
		}
	}

	event := models.TriggerEvent{
		ID:              uuid.NewString(),
		TriggerID:       triggerID,
		EventType:       parsed.EventType,
		EventData:       parsed.EventData,
		ExternalEventID: parsed.ExternalEventID,
		ReceivedAt:      receivedAt,
	}
	return h.Store.CreateTriggerEvent(ctx, event)
}

func (h *Handler) recordReceived(app string) {
	if h.Metrics != nil {
		h.Metrics.WebhookReceivedTotal.WithLabelValues(app).Inc()
	}
}

func (h *Handler) recordVerificationFailed(app string) {
	if h.Metrics != nil {
		h.Metrics.WebhookVerificationFailedTotal.WithLabelValues(app).Inc()
	}
}

func (h *Handler) recordDedup(app string) {
	if h.Metrics != nil {
		h.Metrics.WebhookDedupTotal.WithLabelValues(app).Inc()
	}
}

func (h *Handler) recordRateLimitHit(scope string) {
	if h.Metrics != nil {
		h.Metrics.RateLimitHitTotal.WithLabelValues(scope).Inc()
	}
}

func (h *Handler) observeDuration(app string, d time.Duration) {
	if h.Metrics != nil {
		h.Metrics.WebhookProcessingDuration.WithLabelValues(app).Observe(d.Seconds())
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
