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

// Package slack implements the Slack Events API connector: the
// v0 signing-secret scheme, the one-time url_verification challenge, and
// event parsing. Slack event subscriptions are configured in the app
// management UI, so Register never calls a remote API.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

// Connector implements connector.Connector (and connector.ChallengeHandler)
// for Slack.
type Connector struct {
	// SigningSecret is the Slack app's signing secret.
	SigningSecret string

	// ReplaySkew bounds how old X-Slack-Request-Timestamp may be.
	ReplaySkew time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c *Connector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Register reports that Slack event subscriptions are set up in the Slack
// app console; nothing is created remotely.
func (c *Connector) Register(_ context.Context, trigger models.Trigger, _ models.LinkedAccount) (connector.RegisterResult, error) {
	return connector.RegisterResult{
		SetupInstructions: fmt.Sprintf(
			"Subscribe to event %q with Request URL %s in the Slack app's Event Subscriptions page.",
			trigger.TriggerType, trigger.WebhookPath(),
		),
	}, nil
}

// Unregister is a no-op: there is nothing this system can delete remotely.
func (c *Connector) Unregister(_ context.Context, _ models.Trigger, _ models.LinkedAccount) error {
	return nil
}

// Renew is not supported: Slack event subscriptions do not expire.
func (c *Connector) Renew(_ context.Context, _ models.Trigger, _ models.LinkedAccount) (connector.RenewResult, error) {
	return connector.RenewResult{}, connector.ErrRenewNotSupported
}

// Verify checks X-Slack-Signature: hex HMAC-SHA256 of "v0:<timestamp>:<body>"
// prefixed "v0=", against the signing secret, plus a replay-window check on
// X-Slack-Request-Timestamp.
func (c *Connector) Verify(_ context.Context, rawBody []byte, headers http.Header, _ models.Trigger) error {
	sig := headers.Get("X-Slack-Signature")
	if sig == "" {
		return &connector.InvalidSignatureError{Reason: "missing X-Slack-Signature"}
	}

	tsHeader := headers.Get("X-Slack-Request-Timestamp")
	tsSeconds, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return &connector.InvalidSignatureError{Reason: "missing or invalid X-Slack-Request-Timestamp"}
	}
	signedAt := time.Unix(tsSeconds, 0).UTC()
	if err := connector.CheckReplayWindow(signedAt, c.now(), c.ReplaySkew); err != nil {
		return err
	}

	base := "v0:" + tsHeader + ":" + string(rawBody)
	want := "v0=" + connector.HMACHex([]byte(c.SigningSecret), []byte(base))
	if !connector.ConstantTimeEqual(sig, want) {
		return &connector.InvalidSignatureError{Reason: "signature mismatch"}
	}
	return nil
}

type slackEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

type slackEvent struct {
	Type string `json:"type"`
}

// HandleChallenge answers Slack's one-time url_verification handshake by
// echoing the challenge token, satisfying connector.ChallengeHandler. Slack
// signs url_verification requests exactly like any other Events API
// delivery, so this still runs the full Verify check before answering.
func (c *Connector) HandleChallenge(rawBody []byte, headers http.Header) ([]byte, bool, error) {
	var env slackEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, false, &connector.MalformedPayloadError{Reason: err.Error()}
	}
	if env.Type != "url_verification" {
		return nil, false, nil
	}
	if err := c.Verify(context.Background(), rawBody, headers, models.Trigger{}); err != nil {
		return nil, true, err
	}
	resp, err := json.Marshal(map[string]string{"challenge": env.Challenge})
	if err != nil {
		return nil, false, &connector.PermanentError{Op: "slack.HandleChallenge", Err: err}
	}
	return resp, true, nil
}

// Parse decodes an event_callback envelope into a single canonical event,
// keyed by Slack's own event_id.
func (c *Connector) Parse(rawBody []byte, _ http.Header, _ models.Trigger) ([]models.ParsedEvent, error) {
	var env slackEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, &connector.MalformedPayloadError{Reason: err.Error()}
	}
	if env.Type != "event_callback" {
		return nil, &connector.MalformedPayloadError{Reason: "unexpected envelope type " + env.Type}
	}

	var inner slackEvent
	if err := json.Unmarshal(env.Event, &inner); err != nil {
		return nil, &connector.MalformedPayloadError{Reason: err.Error()}
	}

	extID := env.EventID
	return []models.ParsedEvent{{
		EventType:       inner.Type,
		EventData:       env.Event,
		ExternalEventID: &extID,
	}}, nil
}
