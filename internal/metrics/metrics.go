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

// Package metrics exposes the platform's Prometheus instrumentation: one
// Collector bound to a private registry (not the global default, so tests
// can construct independent instances), plus an http.Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every counter, gauge, and histogram the ingestion path,
// scheduler, and orchestrator report to.
type Collector struct {
	registry *prometheus.Registry

	WebhookReceivedTotal            *prometheus.CounterVec
	WebhookVerificationFailedTotal  *prometheus.CounterVec
	WebhookDedupTotal               *prometheus.CounterVec
	RateLimitHitTotal               *prometheus.CounterVec
	TriggerRegistrationTotal        *prometheus.CounterVec
	RenewalTotal                    *prometheus.CounterVec

	ActiveTriggersCount prometheus.Gauge
	PendingEventsCount  prometheus.Gauge

	WebhookProcessingDuration *prometheus.HistogramVec
}

// durationBuckets is tuned for sub-10s webhook processing.
var durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// New builds a Collector and registers every metric with a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		WebhookReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_received_total",
				Help: "Total number of inbound webhook deliveries.",
			},
			[]string{"app"},
		),
		WebhookVerificationFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_verification_failed_total",
				Help: "Total number of deliveries that failed signature verification.",
			},
			[]string{"app"},
		),
		WebhookDedupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_dedup_total",
				Help: "Total number of deliveries recognized as duplicates.",
			},
			[]string{"app"},
		),
		RateLimitHitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hit_total",
				Help: "Total number of requests rejected by the rate limiter.",
			},
			[]string{"scope"},
		),
		TriggerRegistrationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_registration_total",
				Help: "Total number of trigger registration attempts.",
			},
			[]string{"app", "result"},
		),
		RenewalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renewal_total",
				Help: "Total number of subscription renewal attempts.",
			},
			[]string{"app", "result"},
		),

		ActiveTriggersCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_triggers_count",
				Help: "Current number of triggers in ACTIVE status.",
			},
		),
		PendingEventsCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_events_count",
				Help: "Current number of events in PENDING status.",
			},
		),

		WebhookProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_processing_duration_seconds",
				Help:    "Duration of ingestion handling from receipt to persistence.",
				Buckets: durationBuckets,
			},
			[]string{"app"},
		),
	}

	registry.MustRegister(
		c.WebhookReceivedTotal,
		c.WebhookVerificationFailedTotal,
		c.WebhookDedupTotal,
		c.RateLimitHitTotal,
		c.TriggerRegistrationTotal,
		c.RenewalTotal,
		c.ActiveTriggersCount,
		c.PendingEventsCount,
		c.WebhookProcessingDuration,
	)

	return c
}

// Handler returns the Prometheus exposition-format scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
