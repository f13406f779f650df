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

// Package models defines the data structures shared across the trigger
// platform: webhook subscriptions, received deliveries, and the linked
// account credentials connectors consume.
package models

import "time"

// TriggerStatus is the lifecycle state of a Trigger.
type TriggerStatus string

const (
	TriggerPending TriggerStatus = "PENDING"
	TriggerActive  TriggerStatus = "ACTIVE"
	TriggerPaused  TriggerStatus = "PAUSED"
	TriggerError   TriggerStatus = "ERROR"
	TriggerExpired TriggerStatus = "EXPIRED"
)

// Trigger represents one webhook subscription bound to a linked account.
type Trigger struct {
	ID                  string
	Project             string
	App                 string // e.g. "HUBSPOT", "SHOPIFY", "SLACK", "GITHUB", "GMAIL"
	LinkedAccountID     string
	TriggerType         string
	VerificationToken   string // plaintext in memory only; encrypted at rest by the store
	ExternalWebhookID   string
	Config              map[string]string
	Status              TriggerStatus
	RetryCount          int
	RenewalFailureCount int // consecutive connector.Renew failures since the last success
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastTriggeredAt     *time.Time
	ExpiresAt           *time.Time
}

// WebhookPath is the callback path this system exposes for the trigger.
func (t Trigger) WebhookPath() string {
	return "/webhooks/" + t.App + "/" + t.ID
}

// TriggerFilter narrows list_triggers queries.
type TriggerFilter struct {
	Project string
	App     string
	Status  TriggerStatus
}

// Page is a simple offset/limit pagination window.
type Page struct {
	Offset int
	Limit  int
}

// LinkedAccount is the opaque external credential/config record supplied by
// the (out-of-scope) linked-account store. Connectors read it at call time;
// they never persist or cache it themselves.
type LinkedAccount struct {
	ID           string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	ShopDomain   string            // Shopify
	Extra        map[string]string // provider-specific extras (e.g. GitHub installation ID)
}
