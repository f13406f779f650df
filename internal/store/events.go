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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/johnearle/triggerhub/internal/models"
)

// CreateTriggerEvent performs an atomic insert-or-ignore on
// (trigger_id, external_event_id). It returns the resulting row and whether
// it was newly inserted — a false return with no error means the delivery
// is a duplicate and the caller should treat it as a no-op success.
func (s *Store) CreateTriggerEvent(ctx context.Context, e models.TriggerEvent) (*models.TriggerEvent, bool, error) {
	if e.Status == "" {
		e.Status = models.EventPending
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.ReceivedAt.Add(models.DefaultEventRetention)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO trigger_events
			(id, trigger_id, event_type, event_data, external_event_id, status, received_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (trigger_id, external_event_id) DO NOTHING
		RETURNING id
	`, e.ID, e.TriggerID, e.EventType, e.EventData, e.ExternalEventID, e.Status, e.ReceivedAt, e.ExpiresAt)

	var insertedID string
	if err := row.Scan(&insertedID); err != nil {
		if err == pgx.ErrNoRows {
			// Conflict: return the existing row (first accepted delivery's data).
			existing, getErr := s.getEventByDedupKey(ctx, e.TriggerID, e.ExternalEventID)
			if getErr != nil {
				return nil, false, fmt.Errorf("fetch existing event after conflict: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert trigger event: %w", err)
	}

	return &e, true, nil
}

func (s *Store) getEventByDedupKey(ctx context.Context, triggerID string, externalEventID *string) (*models.TriggerEvent, error) {
	row := s.pool.QueryRow(ctx, eventSelectColumns+`
		FROM trigger_events WHERE trigger_id = $1 AND external_event_id = $2
	`, triggerID, externalEventID)
	return scanEvent(row)
}

// MarkEvent updates an event's status, optionally recording an error.
func (s *Store) MarkEvent(ctx context.Context, id string, status models.EventStatus, errMsg *string) error {
	now := time.Now().UTC()
	var processedAt, deliveredAt *time.Time
	switch status {
	case models.EventDelivered:
		processedAt, deliveredAt = &now, &now
	case models.EventFailed:
		processedAt = &now
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE trigger_events
		SET status = $1, error_message = $2, processed_at = COALESCE($3, processed_at), delivered_at = COALESCE($4, delivered_at)
		WHERE id = $5
	`, status, errMsg, processedAt, deliveredAt, id)
	return err
}

// ListEvents returns events matching the given filter, newest first.
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter, page models.Page) ([]models.TriggerEvent, error) {
	query := eventSelectColumns + ` FROM trigger_events WHERE 1=1`
	var args []interface{}

	if filter.TriggerID != "" {
		args = append(args, filter.TriggerID)
		query += fmt.Sprintf(" AND trigger_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND received_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND received_at <= $%d", len(args))
	}

	query += " ORDER BY received_at DESC"

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
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.TriggerEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// FindExpiringTriggers returns ACTIVE triggers expiring within the window.
func (s *Store) FindExpiringTriggers(ctx context.Context, within time.Duration) ([]models.Trigger, error) {
	rows, err := s.pool.Query(ctx, triggerSelectColumns+`
		FROM triggers
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= NOW() + $1::interval
		ORDER BY expires_at
	`, fmt.Sprintf("%d seconds", int(within.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectTriggers(rows)
}

// FindExpiredTriggers returns ACTIVE triggers whose expiry has already passed.
func (s *Store) FindExpiredTriggers(ctx context.Context) ([]models.Trigger, error) {
	rows, err := s.pool.Query(ctx, triggerSelectColumns+`
		FROM triggers WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= NOW()
		ORDER BY expires_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectTriggers(rows)
}

// FindFailedRegistrations returns ERROR triggers eligible for a retry:
// retry_count below maxAttempts and last updated at least maxAge ago.
func (s *Store) FindFailedRegistrations(ctx context.Context, maxAge time.Duration, maxAttempts int) ([]models.Trigger, error) {
	rows, err := s.pool.Query(ctx, triggerSelectColumns+`
		FROM triggers
		WHERE status = 'ERROR' AND retry_count < $1 AND updated_at <= NOW() - $2::interval
		ORDER BY updated_at
	`, maxAttempts, fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectTriggers(rows)
}

// CleanupEventsPastExpiry deletes events whose expires_at has passed and
// returns the number removed.
func (s *Store) CleanupEventsPastExpiry(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trigger_events WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActiveTriggers and CountPendingEvents back the metrics gauges.
func (s *Store) CountActiveTriggers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM triggers WHERE status = 'ACTIVE'`).Scan(&n)
	return n, err
}

func (s *Store) CountPendingEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM trigger_events WHERE status = 'PENDING'`).Scan(&n)
	return n, err
}

func (s *Store) collectTriggers(rows pgx.Rows) ([]models.Trigger, error) {
	var out []models.Trigger
	for rows.Next() {
		t, err := s.scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const eventSelectColumns = `
	SELECT id, trigger_id, event_type, event_data, external_event_id, status,
	       error_message, received_at, processed_at, delivered_at, expires_at`

func scanEvent(row pgx.Row) (*models.TriggerEvent, error) {
	var e models.TriggerEvent
	err := row.Scan(
		&e.ID, &e.TriggerID, &e.EventType, &e.EventData, &e.ExternalEventID, &e.Status,
		&e.ErrorMessage, &e.ReceivedAt, &e.ProcessedAt, &e.DeliveredAt, &e.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return &e, err
}
