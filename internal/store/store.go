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

// Package store provides the Postgres-backed persistence port the rest of
// the trigger platform depends on: Trigger and TriggerEvent CRUD, the
// scheduler's scan queries, and an advisory lock used to keep background
// jobs single-flight across processes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johnearle/triggerhub/internal/models"
	"github.com/johnearle/triggerhub/internal/secretbox"
)

// Store wraps a Postgres connection pool and the verification-token sealer.
type Store struct {
	pool   *pgxpool.Pool
	sealer *secretbox.Sealer
}

// New creates a trigger store backed by the given Postgres pool. It ensures
// the schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool, sealer *secretbox.Sealer) (*Store, error) {
	s := &Store{pool: pool, sealer: sealer}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure trigger schema: %w", err)
	}
	slog.Info("trigger store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS triggers (
			id                  TEXT PRIMARY KEY,
			project             TEXT NOT NULL,
			app                 TEXT NOT NULL,
			linked_account_id   TEXT NOT NULL,
			trigger_type        TEXT NOT NULL,
			verification_token  TEXT NOT NULL,
			external_webhook_id TEXT DEFAULT '',
			config              JSONB NOT NULL DEFAULT '{}',
			status              TEXT NOT NULL DEFAULT 'PENDING',
			retry_count         INT NOT NULL DEFAULT 0,
			renewal_failure_count INT NOT NULL DEFAULT 0,
			last_error          TEXT DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_triggered_at   TIMESTAMPTZ,
			expires_at          TIMESTAMPTZ,
			UNIQUE (project, app, linked_account_id, trigger_type)
		);
		CREATE INDEX IF NOT EXISTS idx_triggers_project    ON triggers(project);
		CREATE INDEX IF NOT EXISTS idx_triggers_status     ON triggers(status);
		CREATE INDEX IF NOT EXISTS idx_triggers_app        ON triggers(app);
		CREATE INDEX IF NOT EXISTS idx_triggers_expires_at ON triggers(expires_at);

		CREATE TABLE IF NOT EXISTS trigger_events (
			id                TEXT PRIMARY KEY,
			trigger_id        TEXT NOT NULL REFERENCES triggers(id) ON DELETE CASCADE,
			event_type        TEXT NOT NULL,
			event_data        JSONB NOT NULL,
			external_event_id TEXT,
			status            TEXT NOT NULL DEFAULT 'PENDING',
			error_message     TEXT,
			received_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at      TIMESTAMPTZ,
			delivered_at      TIMESTAMPTZ,
			expires_at        TIMESTAMPTZ NOT NULL,
			UNIQUE (trigger_id, external_event_id)
		);
		CREATE INDEX IF NOT EXISTS idx_events_trigger     ON trigger_events(trigger_id);
		CREATE INDEX IF NOT EXISTS idx_events_status      ON trigger_events(status);
		CREATE INDEX IF NOT EXISTS idx_events_received_at ON trigger_events(received_at);
	`)
	return err
}

// CreateTrigger inserts a new trigger row. Fails with ErrConflict if the
// natural key (project, app, linked_account_id, trigger_type) already
// exists.
func (s *Store) CreateTrigger(ctx context.Context, t models.Trigger) (*models.Trigger, error) {
	sealedToken, err := s.sealer.Seal(t.VerificationToken)
	if err != nil {
		return nil, fmt.Errorf("seal verification token: %w", err)
	}

	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	if t.Status == "" {
		t.Status = models.TriggerPending
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO triggers
			(id, project, app, linked_account_id, trigger_type, verification_token,
			 external_webhook_id, config, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project, app, linked_account_id, trigger_type) DO NOTHING
		RETURNING created_at, updated_at
	`, t.ID, t.Project, t.App, t.LinkedAccountID, t.TriggerType, sealedToken,
		t.ExternalWebhookID, configJSON, t.Status, t.ExpiresAt)

	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert trigger: %w", err)
	}

	return &t, nil
}

// GetTrigger retrieves a trigger by ID, decrypting its verification token.
func (s *Store) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	row := s.pool.QueryRow(ctx, triggerSelectColumns+` FROM triggers WHERE id = $1`, id)
	return s.scanTrigger(row)
}

// GetTriggerByWebhookURL resolves the trigger referenced by an inbound
// webhook path; the trigger ID is embedded verbatim in the callback URL, so
// this is the same lookup as GetTrigger.
func (s *Store) GetTriggerByWebhookURL(ctx context.Context, id string) (*models.Trigger, error) {
	return s.GetTrigger(ctx, id)
}

// ListTriggers returns triggers for a project matching the given filters.
func (s *Store) ListTriggers(ctx context.Context, project string, filter models.TriggerFilter, page models.Page) ([]models.Trigger, error) {
	query := triggerSelectColumns + ` FROM triggers WHERE project = $1`
	args := []interface{}{project}

	if filter.App != "" {
		args = append(args, filter.App)
		query += fmt.Sprintf(" AND app = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, page.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []models.Trigger
	for rows.Next() {
		t, err := s.scanTriggerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTriggerStatus transitions a trigger's status, optionally recording
// an error message (e.g. on a failed registration or renewal).
func (s *Store) UpdateTriggerStatus(ctx context.Context, id string, status models.TriggerStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triggers SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, status, errMsg, id)
	return err
}

// IncrementRetryCount bumps retry_count and records the failure reason.
func (s *Store) IncrementRetryCount(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triggers SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2
	`, errMsg, id)
	return err
}

// IncrementRenewalFailureCount bumps renewal_failure_count and records the
// failure reason, returning the count after the increment so the scheduler
// can decide whether the trigger has crossed its ERROR threshold.
func (s *Store) IncrementRenewalFailureCount(ctx context.Context, id string, errMsg string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE triggers SET renewal_failure_count = renewal_failure_count + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING renewal_failure_count
	`, errMsg, id).Scan(&count)
	return count, err
}

// UpdateTriggerExternalID records the provider's external subscription ID
// and, when the provider has an expiring subscription, the new expiry. A
// successful renewal or registration clears renewal_failure_count.
func (s *Store) UpdateTriggerExternalID(ctx context.Context, id, externalID string, expiresAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triggers SET external_webhook_id = $1, expires_at = $2, renewal_failure_count = 0, updated_at = NOW()
		WHERE id = $3
	`, externalID, expiresAt, id)
	return err
}

// UpdateTriggerConfig merges provider-returned values (e.g. GitHub's
// per-hook secret) into the trigger's persisted config map. Existing keys
// not present in patch are preserved.
func (s *Store) UpdateTriggerConfig(ctx context.Context, id string, patch map[string]string) error {
	if len(patch) == 0 {
		return nil
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal config patch: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE triggers SET config = config || $1::jsonb, updated_at = NOW() WHERE id = $2
	`, patchJSON, id)
	return err
}

// SetLastTriggered stamps last_triggered_at. Called best-effort after
// ingestion; failures here must never fail the inbound request.
func (s *Store) SetLastTriggered(ctx context.Context, id string, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triggers SET last_triggered_at = $1, updated_at = NOW() WHERE id = $2
	`, t, id)
	return err
}

// DeleteTrigger removes a trigger row; the ON DELETE CASCADE foreign key
// takes its events with it.
func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	return err
}

const triggerSelectColumns = `
	SELECT id, project, app, linked_account_id, trigger_type, verification_token,
	       external_webhook_id, config, status, retry_count, renewal_failure_count, last_error,
	       created_at, updated_at, last_triggered_at, expires_at`

func (s *Store) scanTrigger(row pgx.Row) (*models.Trigger, error) {
	var t models.Trigger
	var configJSON []byte
	var sealedToken string
	err := row.Scan(
		&t.ID, &t.Project, &t.App, &t.LinkedAccountID, &t.TriggerType, &sealedToken,
		&t.ExternalWebhookID, &configJSON, &t.Status, &t.RetryCount, &t.RenewalFailureCount, &t.LastError,
		&t.CreatedAt, &t.UpdatedAt, &t.LastTriggeredAt, &t.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configJSON, &t.Config); err != nil {
		return nil, fmt.Errorf("unmarshal trigger config: %w", err)
	}
	token, err := s.sealer.Open(sealedToken)
	if err != nil {
		return nil, fmt.Errorf("open verification token: %w", err)
	}
	t.VerificationToken = token
	return &t, nil
}

func (s *Store) scanTriggerRow(rows pgx.Rows) (*models.Trigger, error) {
	return s.scanTrigger(rows)
}
