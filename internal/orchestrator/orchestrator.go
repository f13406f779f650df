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

// Package orchestrator drives the Trigger lifecycle: create, update, pause,
// resume, and delete, calling the app's connector at the right points and
// keeping the persisted row in sync with what the provider actually holds.
// It is the direct generalisation of the teacher's subscription.LifecycleManager
// — widened from "one Graph subscription per mailbox" to "one webhook
// subscription per (project, app, linked account, trigger_type)", and with
// its renewal loop split out into internal/scheduler.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/metrics"
	"github.com/johnearle/triggerhub/internal/models"
	"github.com/johnearle/triggerhub/internal/store"
)

// verificationTokenBytes yields 256 bits of entropy, comfortably above the
// spec's 128-bit floor.
const verificationTokenBytes = 32

// TriggerStore is the subset of *store.Store the orchestrator depends on.
// Declared as an interface (rather than taking *store.Store directly) so
// lifecycle tests can run against a fake without a Postgres instance —
// the same boundary the teacher draws between subscription.LifecycleManager
// and subscription.Store.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, t models.Trigger) (*models.Trigger, error)
	GetTrigger(ctx context.Context, id string) (*models.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	UpdateTriggerStatus(ctx context.Context, id string, status models.TriggerStatus, errMsg string) error
	UpdateTriggerExternalID(ctx context.Context, id, externalID string, expiresAt *time.Time) error
	UpdateTriggerConfig(ctx context.Context, id string, patch map[string]string) error
}

// AccountResolver is the out-of-scope linked-account collaborator: given a
// linked account ID it returns the credentials/config a connector needs.
// The admin layer and the OAuth token store behind it are not part of this
// core (spec.md §1).
type AccountResolver interface {
	Resolve(ctx context.Context, linkedAccountID string) (models.LinkedAccount, error)
}

// Catalog validates a trigger request against the per-app catalog of
// declared trigger types (spec.md §6: "consumed by connectors for
// validation"). *catalog.Catalog satisfies this.
type Catalog interface {
	Supports(app, triggerType string) bool
}

// Orchestrator exposes the create/update/delete operations consumed by the
// (out-of-scope) admin layer.
type Orchestrator struct {
	store    TriggerStore
	registry *connector.Registry
	accounts AccountResolver
	metrics  *metrics.Collector
	catalog  Catalog
	baseURL  string
}

// New builds an Orchestrator.
func New(store TriggerStore, registry *connector.Registry, accounts AccountResolver, metrics *metrics.Collector, catalog Catalog, callbackBaseURL string) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		accounts: accounts,
		metrics:  metrics,
		catalog:  catalog,
		baseURL:  callbackBaseURL,
	}
}

// CreateRequest describes a new trigger subscription.
type CreateRequest struct {
	Project         string
	App             string
	LinkedAccountID string
	TriggerType     string
	Config          map[string]string
}

// ItemResult reports one item's outcome from a bulk operation. Per spec.md
// §9 open question (i), bulk operations are per-item, not transactional —
// the caller gets an aggregate report and partial success is expected.
type ItemResult struct {
	ID  string
	Err error
}

// Create persists a new trigger in PENDING state and attempts to register
// it with the provider. A successful registration transitions the trigger
// to ACTIVE; a transient provider failure leaves it in ERROR for the
// scheduler's retry job; a permanent (unretryable) failure rolls the row
// back entirely.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*models.Trigger, error) {
	conn, ok := o.registry.Lookup(req.App)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unsupported app %q", req.App)
	}
	if o.catalog != nil && !o.catalog.Supports(req.App, req.TriggerType) {
		return nil, fmt.Errorf("orchestrator: app %q does not declare trigger type %q", req.App, req.TriggerType)
	}

	token, err := randomToken(verificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: generate verification token: %w", err)
	}

	config := req.Config
	if config == nil {
		config = map[string]string{}
	}
	id := uuid.NewString()
	config["callback_url"] = o.callbackURL(id, req.App)

	trigger := models.Trigger{
		ID:                id,
		Project:           req.Project,
		App:               req.App,
		LinkedAccountID:   req.LinkedAccountID,
		TriggerType:       req.TriggerType,
		VerificationToken: token,
		Config:            config,
		Status:            models.TriggerPending,
	}

	created, err := o.store.CreateTrigger(ctx, trigger)
	if err != nil {
		return nil, err
	}

	account, err := o.accounts.Resolve(ctx, req.LinkedAccountID)
	if err != nil {
		// No credentials to register with: unretryable, roll back.
		if delErr := o.store.DeleteTrigger(ctx, created.ID); delErr != nil {
			slog.Error("orchestrator: rollback after account resolve failure", "trigger_id", created.ID, "error", delErr)
		}
		o.recordRegistration(req.App, "error")
		return nil, fmt.Errorf("orchestrator: resolve linked account: %w", err)
	}

	result, err := conn.Register(ctx, *created, account)
	if err != nil {
		return o.handleRegisterFailure(ctx, created, err)
	}

	if err := o.store.UpdateTriggerExternalID(ctx, created.ID, result.ExternalWebhookID, result.ExpiresAt); err != nil {
		slog.Error("orchestrator: record external webhook id", "trigger_id", created.ID, "error", err)
	}
	if result.Config != nil {
		if err := o.store.UpdateTriggerConfig(ctx, created.ID, result.Config); err != nil {
			slog.Error("orchestrator: record connector config", "trigger_id", created.ID, "error", err)
		}
		for k, v := range result.Config {
			config[k] = v
		}
	}
	if err := o.store.UpdateTriggerStatus(ctx, created.ID, models.TriggerActive, ""); err != nil {
		slog.Error("orchestrator: activate trigger", "trigger_id", created.ID, "error", err)
	}

	o.recordRegistration(req.App, "success")

	created.Status = models.TriggerActive
	created.ExternalWebhookID = result.ExternalWebhookID
	created.ExpiresAt = result.ExpiresAt
	created.Config = config
	return created, nil
}

func (o *Orchestrator) handleRegisterFailure(ctx context.Context, t *models.Trigger, regErr error) (*models.Trigger, error) {
	var permanent *connector.PermanentError
	if errors.As(regErr, &permanent) {
		if delErr := o.store.DeleteTrigger(ctx, t.ID); delErr != nil {
			slog.Error("orchestrator: rollback permanently-failed trigger", "trigger_id", t.ID, "error", delErr)
		}
		o.recordRegistration(t.App, "error")
		return nil, regErr
	}

	// Transient (or unclassified) failure: leave the row for the
	// scheduler's retry job, per spec.md §4.H.
	if err := o.store.UpdateTriggerStatus(ctx, t.ID, models.TriggerError, regErr.Error()); err != nil {
		slog.Error("orchestrator: mark trigger error", "trigger_id", t.ID, "error", err)
	}
	o.recordRegistration(t.App, "retry")
	t.Status = models.TriggerError
	t.LastError = regErr.Error()
	return t, regErr
}

// UpdatePatch describes a partial update to a trigger.
type UpdatePatch struct {
	Status *models.TriggerStatus
	Config map[string]string // nil means "unchanged"
}

// Update applies a patch to a trigger. A pure status transition between
// ACTIVE and PAUSED never calls the connector (spec.md §4.H); a config
// change that could affect the remote subscription re-registers it via
// Unregister then Register.
func (o *Orchestrator) Update(ctx context.Context, id string, patch UpdatePatch) (*models.Trigger, error) {
	trigger, err := o.store.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Config != nil {
		conn, ok := o.registry.Lookup(trigger.App)
		if !ok {
			return nil, fmt.Errorf("orchestrator: unsupported app %q", trigger.App)
		}
		if o.catalog != nil && !o.catalog.Supports(trigger.App, trigger.TriggerType) {
			return nil, fmt.Errorf("orchestrator: app %q does not declare trigger type %q", trigger.App, trigger.TriggerType)
		}
		account, err := o.accounts.Resolve(ctx, trigger.LinkedAccountID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: resolve linked account: %w", err)
		}

		if err := conn.Unregister(ctx, *trigger, account); err != nil {
			slog.Warn("orchestrator: unregister before re-register failed, proceeding", "trigger_id", id, "error", err)
		}

		patch.Config["callback_url"] = o.callbackURL(trigger.ID, trigger.App)
		trigger.Config = patch.Config
		result, err := conn.Register(ctx, *trigger, account)
		if err != nil {
			return o.handleRegisterFailure(ctx, trigger, err)
		}
		if err := o.store.UpdateTriggerExternalID(ctx, id, result.ExternalWebhookID, result.ExpiresAt); err != nil {
			slog.Error("orchestrator: record external webhook id on update", "trigger_id", id, "error", err)
		}
		if result.Config != nil {
			if err := o.store.UpdateTriggerConfig(ctx, id, result.Config); err != nil {
				slog.Error("orchestrator: record connector config on update", "trigger_id", id, "error", err)
			}
			for k, v := range result.Config {
				trigger.Config[k] = v
			}
		}
		trigger.ExternalWebhookID = result.ExternalWebhookID
		trigger.ExpiresAt = result.ExpiresAt
		o.recordRegistration(trigger.App, "success")
	}

	if patch.Status != nil {
		if err := o.store.UpdateTriggerStatus(ctx, id, *patch.Status, ""); err != nil {
			return nil, err
		}
		trigger.Status = *patch.Status
	}

	return trigger, nil
}

// Delete unregisters the remote subscription (best-effort — a failure here
// is logged but never blocks removal, per spec.md §7) and deletes the row.
// Cascading deletion of the trigger's events is enforced by the store's
// foreign key.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	trigger, err := o.store.GetTrigger(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if conn, ok := o.registry.Lookup(trigger.App); ok {
		account, err := o.accounts.Resolve(ctx, trigger.LinkedAccountID)
		if err != nil {
			slog.Warn("orchestrator: resolve linked account for delete failed, proceeding", "trigger_id", id, "error", err)
		} else if err := conn.Unregister(ctx, *trigger, account); err != nil {
			slog.Warn("orchestrator: unregister on delete failed, proceeding", "trigger_id", id, "error", err)
		}
	}

	return o.store.DeleteTrigger(ctx, id)
}

// BulkUpdateStatus applies the same status to every id, reporting each
// item's outcome independently (spec.md §9 open question (i)).
func (o *Orchestrator) BulkUpdateStatus(ctx context.Context, ids []string, status models.TriggerStatus) []ItemResult {
	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		_, err := o.Update(ctx, id, UpdatePatch{Status: &status})
		results = append(results, ItemResult{ID: id, Err: err})
	}
	return results
}

// BulkDelete deletes every id, reporting each item's outcome independently.
func (o *Orchestrator) BulkDelete(ctx context.Context, ids []string) []ItemResult {
	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		err := o.Delete(ctx, id)
		results = append(results, ItemResult{ID: id, Err: err})
	}
	return results
}

// callbackURL builds the externally reachable webhook URL for a trigger,
// combining the configured callback base with the trigger's own path
// (spec.md §4.H "generates ... a per-trigger callback URL").
func (o *Orchestrator) callbackURL(id, app string) string {
	t := models.Trigger{ID: id, App: app}
	return strings.TrimRight(o.baseURL, "/") + t.WebhookPath()
}

func (o *Orchestrator) recordRegistration(app, result string) {
	if o.metrics == nil {
		return
	}
	o.metrics.TriggerRegistrationTotal.WithLabelValues(app, result).Inc()
}

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
