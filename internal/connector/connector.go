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

// Package connector defines the polymorphic provider capability set
// (register/unregister/verify/parse/renew) and the static registry that
// maps an app name to its Connector, built once at start-up.
package connector

import (
	"context"
	"net/http"
	"time"

	"github.com/johnearle/triggerhub/internal/models"
)

// RegisterResult is returned by a successful Register call.
type RegisterResult struct {
	ExternalWebhookID string
	ExpiresAt         *time.Time
	SetupInstructions string

	// Config carries provider-generated values the caller must merge back
	// into the trigger's persisted config map — e.g. GitHub's per-hook
	// secret, needed by Verify on every subsequent delivery but only known
	// once Register creates the remote hook. Nil when Register has nothing
	// to add.
	Config map[string]string
}

// RenewResult is returned by a successful Renew call.
type RenewResult struct {
	ExpiresAt time.Time
}

// ErrRenewNotSupported is returned by connectors whose subscriptions never
// expire; callers treat it as a no-op.
var ErrRenewNotSupported = errNotSupported{}

type errNotSupported struct{}

func (errNotSupported) Error() string { return "connector: renew not supported" }

// Connector is the capability set every provider implementation satisfies.
// Credentials are read from the LinkedAccount at call time, never cached
// across calls — this lets token refresh happen between calls without
// reconstructing the connector.
type Connector interface {
	// Register creates (or idempotently confirms) a remote subscription.
	Register(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) (RegisterResult, error)

	// Unregister removes the remote subscription. A "not found" response
	// from the provider is treated as success.
	Unregister(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) error

	// Verify authenticates an inbound delivery: signature check plus replay
	// window enforcement. It must use constant-time comparison.
	Verify(ctx context.Context, rawBody []byte, headers http.Header, trigger models.Trigger) error

	// Parse converts a verified payload into zero or more canonical events
	// (HubSpot batches several events per HTTP delivery). It is a pure
	// function over the decoded payload — no I/O.
	Parse(rawBody []byte, headers http.Header, trigger models.Trigger) ([]models.ParsedEvent, error)

	// Renew extends an expiring subscription. Connectors whose provider has
	// no concept of expiry return ErrRenewNotSupported.
	Renew(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) (RenewResult, error)
}

// ChallengeHandler is an optional capability for providers that probe the
// endpoint before a subscription is confirmed (e.g. Slack's
// url_verification). Implementations type-assert a Connector to this
// interface rather than adding an optional method to Connector itself.
type ChallengeHandler interface {
	// HandleChallenge returns (response, true) if rawBody is a challenge
	// payload, or (nil, false) if it is not.
	HandleChallenge(rawBody []byte, headers http.Header) ([]byte, bool, error)
}

// Registry is the static app-name -> Connector lookup built once at
// start-up.
type Registry struct {
	byApp map[string]Connector
}

// NewRegistry builds a Registry from an app-name -> Connector map.
func NewRegistry(connectors map[string]Connector) *Registry {
	byApp := make(map[string]Connector, len(connectors))
	for app, c := range connectors {
		byApp[app] = c
	}
	return &Registry{byApp: byApp}
}

// Lookup returns the connector for an app name, or ok=false if unsupported.
func (r *Registry) Lookup(app string) (Connector, bool) {
	c, ok := r.byApp[app]
	return c, ok
}
