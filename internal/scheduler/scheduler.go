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

// Package scheduler runs the platform's cadenced background jobs (spec.md
// §4.F): renewing expiring subscriptions, marking lapsed ones expired,
// retrying failed registrations, sweeping old events, and refreshing the
// gauge metrics of spec.md §4.G. It is the generalisation of the teacher's
// activityfeed.Poller — widened from a single fixed-interval loop to
// several independently cron-scheduled jobs, each guarded by a Postgres
// advisory lock so only one instance of a horizontally-scaled deployment
// runs a given job at a time.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/metrics"
	"github.com/johnearle/triggerhub/internal/models"
)

// renewalWindow is how far ahead of expiry a subscription becomes eligible
// for renewal (spec.md §4.F "renew subscriptions expiring within ...").
const renewalWindow = 24 * time.Hour

// retryBackoff is the minimum time since an ERROR trigger's last attempt
// before it becomes eligible for another automatic retry.
const retryBackoff = 5 * time.Minute

// retryMaxAttempts caps the number of automatic retries.
const retryMaxAttempts = 3

// maxRenewalFailures is how many consecutive connector.Renew failures a
// trigger tolerates before the scheduler gives up and transitions it to
// ERROR (spec.md §4.F: "transition to ERROR after N failures").
const maxRenewalFailures = 3

// TaskStore is the subset of *store.Store the scheduler depends on.
type TaskStore interface {
	AcquireTaskLock(ctx context.Context, taskName string) (release func(), ok bool, err error)
	FindExpiringTriggers(ctx context.Context, within time.Duration) ([]models.Trigger, error)
	FindExpiredTriggers(ctx context.Context) ([]models.Trigger, error)
	FindFailedRegistrations(ctx context.Context, maxAge time.Duration, maxAttempts int) ([]models.Trigger, error)
	CleanupEventsPastExpiry(ctx context.Context) (int64, error)
	UpdateTriggerStatus(ctx context.Context, id string, status models.TriggerStatus, errMsg string) error
	UpdateTriggerExternalID(ctx context.Context, id, externalID string, expiresAt *time.Time) error
	UpdateTriggerConfig(ctx context.Context, id string, patch map[string]string) error
	IncrementRetryCount(ctx context.Context, id string, errMsg string) error
	IncrementRenewalFailureCount(ctx context.Context, id string, errMsg string) (int, error)
	CountActiveTriggers(ctx context.Context) (int64, error)
	CountPendingEvents(ctx context.Context) (int64, error)
}

// AccountResolver resolves the credentials a connector needs for a trigger.
type AccountResolver interface {
	Resolve(ctx context.Context, linkedAccountID string) (models.LinkedAccount, error)
}

// Schedule holds the five jobs' cron expressions, sourced from
// config.SchedulerConfig.
type Schedule struct {
	RenewExpiring   string
	MarkExpired     string
	RetryFailedRegs string
	CleanupEvents   string
	UpdateGauges    string
}

// Scheduler wraps a *cron.Cron with the platform's five background jobs.
type Scheduler struct {
	store    TaskStore
	registry *connector.Registry
	accounts AccountResolver
	metrics  *metrics.Collector
	cron     *cron.Cron
}

// New builds a Scheduler and registers its jobs, but does not start them —
// call Start to begin running on the configured cadence.
func New(store TaskStore, registry *connector.Registry, accounts AccountResolver, metrics *metrics.Collector, sched Schedule) (*Scheduler, error) {
	s := &Scheduler{
		store:    store,
		registry: registry,
		accounts: accounts,
		metrics:  metrics,
		cron:     cron.New(),
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"renew_expiring_subscriptions", sched.RenewExpiring, s.renewExpiring},
		{"mark_expired_triggers", sched.MarkExpired, s.markExpired},
		{"retry_failed_registrations", sched.RetryFailedRegs, s.retryFailedRegistrations},
		{"cleanup_expired_events", sched.CleanupEvents, s.cleanupEvents},
		{"update_gauges", sched.UpdateGauges, s.updateGauges},
	}

	for _, j := range jobs {
		j := j
		if err := s.cron.AddFunc(j.spec, func() { s.withTaskLock(j.name, j.run) }); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start begins running the scheduled jobs. It does not block.
func (s *Scheduler) Start() {
	slog.Info("scheduler starting")
	s.cron.Start()
}

// Stop halts the scheduler, letting any in-flight job finish.
func (s *Scheduler) Stop() {
	slog.Info("scheduler stopping")
	s.cron.Stop()
}

// withTaskLock runs fn only if this instance wins the advisory lock for
// taskName, so a horizontally-scaled deployment never double-runs a job.
func (s *Scheduler) withTaskLock(taskName string, fn func(ctx context.Context)) {
	ctx := context.Background()

	release, ok, err := s.store.AcquireTaskLock(ctx, taskName)
	if err != nil {
		slog.Error("scheduler: acquire task lock failed", "task", taskName, "error", err)
		return
	}
	if !ok {
		slog.Debug("scheduler: task lock held elsewhere, skipping", "task", taskName)
		return
	}
	defer release()

	start := time.Now()
	fn(ctx)
	slog.Info("scheduler: task completed", "task", taskName, "duration", time.Since(start))
}

// renewExpiring renews subscriptions expiring within renewalWindow.
func (s *Scheduler) renewExpiring(ctx context.Context) {
	triggers, err := s.store.FindExpiringTriggers(ctx, renewalWindow)
	if err != nil {
		slog.Error("scheduler: find expiring triggers", "error", err)
		return
	}

	for _, trigger := range triggers {
		conn, ok := s.registry.Lookup(trigger.App)
		if !ok {
			continue
		}

		account, err := s.accounts.Resolve(ctx, trigger.LinkedAccountID)
		if err != nil {
			slog.Error("scheduler: resolve account for renewal", "trigger_id", trigger.ID, "error", err)
			continue
		}

		result, err := conn.Renew(ctx, trigger, account)
		if err == connector.ErrRenewNotSupported {
			continue
		}
		if err != nil {
			slog.Error("scheduler: renew subscription failed", "trigger_id", trigger.ID, "error", err)
			s.recordRenewal(trigger.App, "failure")

			count, cerr := s.store.IncrementRenewalFailureCount(ctx, trigger.ID, err.Error())
			if cerr != nil {
				slog.Error("scheduler: record renewal failure", "trigger_id", trigger.ID, "error", cerr)
				continue
			}
			if count >= maxRenewalFailures {
				if err := s.store.UpdateTriggerStatus(ctx, trigger.ID, models.TriggerError, err.Error()); err != nil {
					slog.Error("scheduler: mark renewal failure", "trigger_id", trigger.ID, "error", err)
				}
			}
			continue
		}

		expiresAt := result.ExpiresAt
		if err := s.store.UpdateTriggerExternalID(ctx, trigger.ID, trigger.ExternalWebhookID, &expiresAt); err != nil {
			slog.Error("scheduler: record renewed expiry", "trigger_id", trigger.ID, "error", err)
		}
		s.recordRenewal(trigger.App, "success")
	}
}

// markExpired flips ACTIVE triggers whose expiry has already passed to
// EXPIRED, so the ingestion endpoint can reject deliveries cheaply without
// consulting the connector.
func (s *Scheduler) markExpired(ctx context.Context) {
	triggers, err := s.store.FindExpiredTriggers(ctx)
	if err != nil {
		slog.Error("scheduler: find expired triggers", "error", err)
		return
	}

	for _, trigger := range triggers {
		if err := s.store.UpdateTriggerStatus(ctx, trigger.ID, models.TriggerExpired, ""); err != nil {
			slog.Error("scheduler: mark trigger expired", "trigger_id", trigger.ID, "error", err)
		}
	}
}

// retryFailedRegistrations re-attempts Register for triggers left in ERROR
// by a transient failure (orchestrator.Create/Update), up to retryMaxAttempts
// times, at least retryBackoff after the last attempt.
func (s *Scheduler) retryFailedRegistrations(ctx context.Context) {
	triggers, err := s.store.FindFailedRegistrations(ctx, retryBackoff, retryMaxAttempts)
	if err != nil {
		slog.Error("scheduler: find failed registrations", "error", err)
		return
	}

	for _, trigger := range triggers {
		conn, ok := s.registry.Lookup(trigger.App)
		if !ok {
			continue
		}

		account, err := s.accounts.Resolve(ctx, trigger.LinkedAccountID)
		if err != nil {
			slog.Error("scheduler: resolve account for retry", "trigger_id", trigger.ID, "error", err)
			continue
		}

		result, err := conn.Register(ctx, trigger, account)
		if err != nil {
			if err := s.store.IncrementRetryCount(ctx, trigger.ID, err.Error()); err != nil {
				slog.Error("scheduler: increment retry count", "trigger_id", trigger.ID, "error", err)
			}
			s.recordRegistration(trigger.App, "retry")
			continue
		}

		if err := s.store.UpdateTriggerExternalID(ctx, trigger.ID, result.ExternalWebhookID, result.ExpiresAt); err != nil {
			slog.Error("scheduler: record external webhook id on retry", "trigger_id", trigger.ID, "error", err)
		}
		if result.Config != nil {
			if err := s.store.UpdateTriggerConfig(ctx, trigger.ID, result.Config); err != nil {
				slog.Error("scheduler: record connector config on retry", "trigger_id", trigger.ID, "error", err)
			}
		}
		if err := s.store.UpdateTriggerStatus(ctx, trigger.ID, models.TriggerActive, ""); err != nil {
			slog.Error("scheduler: activate trigger on retry", "trigger_id", trigger.ID, "error", err)
		}
		s.recordRegistration(trigger.App, "success")
	}
}

// cleanupEvents deletes TriggerEvents past their retention expiry.
func (s *Scheduler) cleanupEvents(ctx context.Context) {
	n, err := s.store.CleanupEventsPastExpiry(ctx)
	if err != nil {
		slog.Error("scheduler: cleanup events failed", "error", err)
		return
	}
	slog.Info("scheduler: cleaned up expired events", "count", n)
}

// updateGauges refreshes active_triggers_count and pending_events_count
// from the store, the fifth cadenced job — spec.md §4.G requires both
// gauges but neither is a byproduct of any other task.
func (s *Scheduler) updateGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	active, err := s.store.CountActiveTriggers(ctx)
	if err != nil {
		slog.Error("scheduler: count active triggers", "error", err)
	} else {
		s.metrics.ActiveTriggersCount.Set(float64(active))
	}

	pending, err := s.store.CountPendingEvents(ctx)
	if err != nil {
		slog.Error("scheduler: count pending events", "error", err)
	} else {
		s.metrics.PendingEventsCount.Set(float64(pending))
	}
}

func (s *Scheduler) recordRegistration(app, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.TriggerRegistrationTotal.WithLabelValues(app, result).Inc()
}

func (s *Scheduler) recordRenewal(app, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RenewalTotal.WithLabelValues(app, result).Inc()
}
