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

// Package gmail implements the Gmail push-notification connector: Google
// Pub/Sub delivers an OIDC-signed bearer token instead of an HMAC, so
// Verify validates a JWT rather than computing a digest, and Renew re-issues
// the underlying users.watch subscription before it lapses.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

const (
	googleIssuer  = "https://accounts.google.com"
	watchLifetime = 7 * 24 * time.Hour
)

// TokenVerifier is the subset of *oidc.IDTokenVerifier this connector needs,
// so tests can supply a fake without reaching the network.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Connector implements connector.Connector for Gmail push notifications.
type Connector struct {
	// Audience is the externally reachable push endpoint URL Google signs
	// the token against (the configured OIDC audience).
	Audience string

	// Verifier validates the bearer token's signature, issuer and audience.
	// Built lazily from Audience via NewProvider if nil.
	Verifier TokenVerifier

	// TopicName is the Pub/Sub topic users.watch subscribes to.
	TopicName string

	// WatchRequest performs the Gmail users.watch call. When it is nil,
	// Register and Renew return a PermanentError; cmd/server does not set
	// it, so Gmail watches are neither created nor renewed there.
	WatchRequest func(ctx context.Context, account models.LinkedAccount, topic string) (expiration time.Time, historyID uint64, err error)
}

// NewProvider builds an oidc.IDTokenVerifier bound to Google's OIDC issuer
// and the configured push audience, for production wiring.
func NewProvider(ctx context.Context, audience string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("gmail: discover oidc provider: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: audience}), nil
}

// Register calls users.watch to start push notifications to TopicName.
func (c *Connector) Register(ctx context.Context, _ models.Trigger, account models.LinkedAccount) (connector.RegisterResult, error) {
	if c.WatchRequest == nil {
		return connector.RegisterResult{}, &connector.PermanentError{Op: "gmail.Register", Err: fmt.Errorf("no watch request configured")}
	}
	expiry, _, err := c.WatchRequest(ctx, account, c.TopicName)
	if err != nil {
		return connector.RegisterResult{}, &connector.TransientError{Op: "gmail.Register", Err: err}
	}
	return connector.RegisterResult{
		ExternalWebhookID: c.TopicName,
		ExpiresAt:         &expiry,
	}, nil
}

// Unregister is a no-op: letting the watch lapse is sufficient, and Gmail
// has no explicit unwatch-by-id call this system needs beyond users.stop,
// which this connector does not call.
func (c *Connector) Unregister(_ context.Context, _ models.Trigger, _ models.LinkedAccount) error {
	return nil
}

// Renew re-issues the users.watch call; Gmail watches expire after at most
// seven days regardless of activity.
func (c *Connector) Renew(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) (connector.RenewResult, error) {
	result, err := c.Register(ctx, trigger, account)
	if err != nil {
		return connector.RenewResult{}, err
	}
	expiry := time.Now().UTC().Add(watchLifetime)
	if result.ExpiresAt != nil {
		expiry = *result.ExpiresAt
	}
	return connector.RenewResult{ExpiresAt: expiry}, nil
}

// Verify validates the bearer token Google Pub/Sub attaches to the push
// request: a signed OIDC JWT whose issuer and audience must match.
func (c *Connector) Verify(ctx context.Context, _ []byte, headers http.Header, _ models.Trigger) error {
	auth := headers.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return &connector.InvalidSignatureError{Reason: "missing bearer token"}
	}
	rawToken := strings.TrimPrefix(auth, prefix)

	verifier := c.Verifier
	if verifier == nil {
		v, err := NewProvider(ctx, c.Audience)
		if err != nil {
			return &connector.TransientError{Op: "gmail.Verify", Err: err}
		}
		verifier = v
	}

	if _, err := verifier.Verify(ctx, rawToken); err != nil {
		return &connector.InvalidSignatureError{Reason: err.Error()}
	}
	return nil
}

// pushEnvelope is Pub/Sub's push-subscription wire format.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
}

// notification is the base64-decoded Gmail push payload.
type notification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Parse decodes the Pub/Sub envelope and its base64 payload into a single
// canonical event keyed by the Pub/Sub messageId.
func (c *Connector) Parse(rawBody []byte, _ http.Header, _ models.Trigger) ([]models.ParsedEvent, error) {
	var env pushEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, &connector.MalformedPayloadError{Reason: err.Error()}
	}
	if env.Message.MessageID == "" {
		return nil, &connector.MalformedPayloadError{Reason: "missing message.messageId"}
	}

	decoded, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, &connector.MalformedPayloadError{Reason: "invalid base64 message data: " + err.Error()}
	}
	var note notification
	if err := json.Unmarshal(decoded, &note); err != nil {
		return nil, &connector.MalformedPayloadError{Reason: err.Error()}
	}

	extID := env.Message.MessageID
	return []models.ParsedEvent{{
		EventType:       "gmail.historyChanged",
		EventData:       decoded,
		ExternalEventID: &extID,
	}}, nil
}
