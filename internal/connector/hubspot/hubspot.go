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

// Package hubspot implements the HubSpot webhook connector: HMAC-SHA256-v3
// signature verification and batched-event parsing. HubSpot subscriptions
// are configured at the app level via the HubSpot developer portal, so
// Register only confirms (or reports) the expected webhook target rather
// than calling a subscription-creation API.
package hubspot

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

// Connector implements connector.Connector for HubSpot.
type Connector struct {
	// AppSecret is the HubSpot app's client secret used to sign requests.
	AppSecret string

	// AllowLegacySignatures opts into accepting v1/v2 signatures alongside
	// v3 (spec.md §9 open question iii). Default false.
	AllowLegacySignatures bool

	// ReplaySkew bounds how old a signed timestamp may be.
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

// Register reports that HubSpot subscriptions are managed in the developer
// portal; it never calls a remote API.
func (c *Connector) Register(_ context.Context, trigger models.Trigger, _ models.LinkedAccount) (connector.RegisterResult, error) {
	return connector.RegisterResult{
		SetupInstructions: fmt.Sprintf(
			"Add subscription %q pointing at %s in the HubSpot app's Webhooks settings.",
			trigger.TriggerType, trigger.WebhookPath(),
		),
	}, nil
}

// Unregister is a no-op: there is nothing this system can delete remotely.
func (c *Connector) Unregister(_ context.Context, _ models.Trigger, _ models.LinkedAccount) error {
	return nil
}

// Renew is not supported: HubSpot subscriptions do not expire.
func (c *Connector) Renew(_ context.Context, _ models.Trigger, _ models.LinkedAccount) (connector.RenewResult, error) {
	return connector.RenewResult{}, connector.ErrRenewNotSupported
}

// Verify checks X-HubSpot-Signature-V3: HMAC-SHA256 of
// "<method><uri><body><timestamp>" (HubSpot's v3 base string order), hex
// digest, against the app secret, plus a replay-window check on the
// X-HubSpot-Request-Timestamp header.
func (c *Connector) Verify(_ context.Context, rawBody []byte, headers http.Header, trigger models.Trigger) error {
	sig := headers.Get("X-HubSpot-Signature-V3")
	if sig == "" {
		if c.AllowLegacySignatures && (headers.Get("X-HubSpot-Signature") != "" || headers.Get("X-HubSpot-Signature-V2") != "") {
			return c.verifyLegacy(rawBody, headers)
		}
		return &connector.InvalidSignatureError{Reason: "missing X-HubSpot-Signature-V3"}
	}

	tsHeader := headers.Get("X-HubSpot-Request-Timestamp")
	tsMillis, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return &connector.InvalidSignatureError{Reason: "missing or invalid X-HubSpot-Request-Timestamp"}
	}
	signedAt := time.UnixMilli(tsMillis).UTC()
	if err := connector.CheckReplayWindow(signedAt, c.now(), c.ReplaySkew); err != nil {
		return err
	}

	method := headers.Get(":method")
	if method == "" {
		method = http.MethodPost
	}
	uri := headers.Get(":uri")
	if uri == "" {
		uri = trigger.WebhookPath()
	}

	base := method + uri + string(rawBody) + tsHeader
	want := connector.HMACHex([]byte(c.AppSecret), []byte(base))
	if !connector.ConstantTimeEqual(sig, want) {
		return &connector.InvalidSignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// verifyLegacy accepts the deprecated v1/v2 signature, which is a plain
// HMAC-SHA256 of "<client secret><body>" with no timestamp component —
// only reachable when AllowLegacySignatures is explicitly set.
func (c *Connector) verifyLegacy(rawBody []byte, headers http.Header) error {
	sig := headers.Get("X-HubSpot-Signature-V2")
	if sig == "" {
		sig = headers.Get("X-HubSpot-Signature")
	}
	want := connector.HMACHex(nil, append([]byte(c.AppSecret), rawBody...))
	if !connector.ConstantTimeEqual(sig, want) {
		return &connector.InvalidSignatureError{Reason: "legacy signature mismatch"}
	}
	return nil
}

// hubspotEvent is one element of HubSpot's batched delivery array.
type hubspotEvent struct {
	EventID        int64           `json:"eventId"`
	SubscriptionID int64           `json:"subscriptionId"`
	SubscriptionType string        `json:"subscriptionType"`
	Raw            json.RawMessage `json:"-"`
}

// Parse accepts either a single event object or a JSON array of them
// (HubSpot's batched delivery, scenario (c) in spec.md §8): one
// models.ParsedEvent per array element, each keyed by its own eventId.
func (c *Connector) Parse(rawBody []byte, _ http.Header, _ models.Trigger) ([]models.ParsedEvent, error) {
	var rawEvents []json.RawMessage

	trimmed := trimLeadingSpace(rawBody)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(rawBody, &rawEvents); err != nil {
			return nil, &connector.MalformedPayloadError{Reason: err.Error()}
		}
	} else {
		rawEvents = []json.RawMessage{rawBody}
	}

	out := make([]models.ParsedEvent, 0, len(rawEvents))
	for _, raw := range rawEvents {
		var ev hubspotEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, &connector.MalformedPayloadError{Reason: err.Error()}
		}
		extID := strconv.FormatInt(ev.EventID, 10)
		out = append(out, models.ParsedEvent{
			EventType:       ev.SubscriptionType,
			EventData:       raw,
			ExternalEventID: &extID,
		})
	}
	return out, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\n' || b[i] == '\t' || b[i] == '\r') {
		i++
	}
	return b[i:]
}
