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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BucketConfig is a token-bucket capacity/refill pair.
type BucketConfig struct {
	Capacity float64 `yaml:"capacity"`
	Refill   float64 `yaml:"refill"` // tokens/sec
}

// SchedulerConfig holds the cron cadences for the background jobs of §4.F.
// Values are 5-field cron expressions; defaults match spec.md §4.F.
type SchedulerConfig struct {
	RenewExpiring   string `yaml:"renew_expiring"`
	MarkExpired     string `yaml:"mark_expired"`
	RetryFailedRegs string `yaml:"retry_failed_registrations"`
	CleanupEvents   string `yaml:"cleanup_events"`
	UpdateGauges    string `yaml:"update_gauges"`
}

// Config holds all configuration for the trigger platform.
type Config struct {
	// Postgres
	DatabaseDSN string

	// Redis (dedup fast-path cache)
	RedisURL string

	// Callback base URL used to build each trigger's webhook path.
	CallbackBaseURL string

	// Admission control
	GlobalRate  BucketConfig
	TriggerRate BucketConfig

	// Provider secrets: app name -> shared secret / signing secret.
	ProviderSecrets map[string]string

	// AllowLegacyHubSpotSignatures opts into accepting HubSpot v1/v2
	// signatures alongside v3 (spec.md §9 open question iii). Default false.
	AllowLegacyHubSpotSignatures bool

	// ReplaySkew is the max tolerated age of a provider-signed timestamp.
	ReplaySkew time.Duration

	// EventRetention is how long a TriggerEvent survives before cleanup.
	EventRetention time.Duration

	Scheduler SchedulerConfig

	// MasterKey is the 32-byte envelope-encryption key for verification
	// tokens at rest (base64 in YAML/env, decoded here).
	MasterKey []byte

	// Gmail OIDC push audience (the push subscription's endpoint URL).
	GmailPushAudience string

	// HTTP
	Port        int // ingestion
	MetricsPort int

	// SentryDSN enables panic/error capture when non-empty.
	SentryDSN string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	CallbackBaseURL string `yaml:"callback_base_url"`
	RateLimit       struct {
		Global  BucketConfig `yaml:"global"`
		Trigger BucketConfig `yaml:"trigger"`
	} `yaml:"rate_limit"`
	ProviderSecrets map[string]string `yaml:"provider_secrets"`
	HubSpot         struct {
		AllowLegacySignatures bool `yaml:"allow_legacy_signatures"`
	} `yaml:"hubspot"`
	ReplaySkew     string          `yaml:"replay_skew"`
	EventRetention string          `yaml:"event_retention"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	MasterKeyB64   string          `yaml:"master_key"`
	Gmail          struct {
		PushAudience string `yaml:"push_audience"`
	} `yaml:"gmail"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:                  firstNonEmpty(raw.Database.DSN, envOrDefault("DATABASE_DSN", "")),
		RedisURL:                     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		CallbackBaseURL:              firstNonEmpty(raw.CallbackBaseURL, envOrDefault("CALLBACK_BASE_URL", "http://localhost:8080")),
		GlobalRate:                   defaultBucket(raw.RateLimit.Global, 200, 100),
		TriggerRate:                  defaultBucket(raw.RateLimit.Trigger, 20, 10),
		ProviderSecrets:              raw.ProviderSecrets,
		AllowLegacyHubSpotSignatures: raw.HubSpot.AllowLegacySignatures,
		ReplaySkew:                   envOrDefaultDuration("REPLAY_SKEW", parseDurationOr(raw.ReplaySkew, 5*time.Minute)),
		EventRetention:               envOrDefaultDuration("EVENT_RETENTION", parseDurationOr(raw.EventRetention, 30*24*time.Hour)),
		Scheduler:                    defaultScheduler(raw.Scheduler),
		GmailPushAudience:            firstNonEmpty(raw.Gmail.PushAudience, envOrDefault("GMAIL_PUSH_AUDIENCE", "")),
		Port:                         envOrDefaultInt("PORT", 8080),
		MetricsPort:                  envOrDefaultInt("METRICS_PORT", 9090),
		SentryDSN:                    envOrDefault("SENTRY_DSN", ""),
	}

	if cfg.ProviderSecrets == nil {
		cfg.ProviderSecrets = map[string]string{}
	}

	masterKeyB64 := firstNonEmpty(raw.MasterKeyB64, envOrDefault("PLATFORM_MASTER_KEY", ""))
	if masterKeyB64 == "" {
		return nil, fmt.Errorf("no master key configured — set master_key or PLATFORM_MASTER_KEY")
	}
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	cfg.MasterKey = key

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("no database DSN configured — check config.yaml and environment variables")
	}

	return cfg, nil
}

func defaultBucket(b BucketConfig, capacity, refill float64) BucketConfig {
	if b.Capacity <= 0 {
		b.Capacity = capacity
	}
	if b.Refill <= 0 {
		b.Refill = refill
	}
	return b
}

func defaultScheduler(s SchedulerConfig) SchedulerConfig {
	if s.RenewExpiring == "" {
		s.RenewExpiring = "0 */6 * * *" // every 6h
	}
	if s.MarkExpired == "" {
		s.MarkExpired = "0 * * * *" // every 1h
	}
	if s.RetryFailedRegs == "" {
		s.RetryFailedRegs = "*/30 * * * *" // every 30m
	}
	if s.CleanupEvents == "" {
		s.CleanupEvents = "0 3 * * *" // daily at 03:00
	}
	if s.UpdateGauges == "" {
		s.UpdateGauges = "* * * * *" // every minute
	}
	return s
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
