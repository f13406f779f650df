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

// Package github implements the GitHub webhook connector: sha256=-prefixed
// HMAC verification and idempotent repository-hook registration via
// google/go-github.
package github

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v50/github"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

// Connector implements connector.Connector for GitHub repository webhooks.
type Connector struct {
	// NewClient builds a *gogithub.Client for a linked account. Overridable
	// for tests; defaults to wrapping connector.ClientFor.
	NewClient func(account models.LinkedAccount) *gogithub.Client
}

func (c *Connector) client(account models.LinkedAccount) *gogithub.Client {
	if c.NewClient != nil {
		return c.NewClient(account)
	}
	return gogithub.NewClient(connector.ClientFor(account))
}

// Register idempotently creates a repository webhook: it lists existing
// hooks first and reuses one already pointed at this trigger's callback URL
// before creating a new one, so repeated calls never duplicate hooks.
func (c *Connector) Register(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) (connector.RegisterResult, error) {
	owner, repo, err := ownerRepo(trigger)
	if err != nil {
		return connector.RegisterResult{}, &connector.PermanentError{Op: "github.Register", Err: err}
	}
	client := c.client(account)
	callbackURL := trigger.WebhookPath()

	hooks, _, err := client.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return connector.RegisterResult{}, classify("github.Register", err)
	}
	for _, h := range hooks {
		if h.Config != nil {
			if url, ok := h.Config["url"].(string); ok && url == callbackURL {
				// Already registered under this callback URL; the hook secret
				// generated on first creation is still in trigger.Config, so
				// there is nothing new to report back.
				return connector.RegisterResult{ExternalWebhookID: fmt.Sprintf("%d", h.GetID())}, nil
			}
		}
	}

	secret, err := randomHexSecret(32)
	if err != nil {
		return connector.RegisterResult{}, &connector.PermanentError{Op: "github.Register", Err: err}
	}

	hook := &gogithub.Hook{
		Name:   gogithub.String("web"),
		Active: gogithub.Bool(true),
		Events: []string{trigger.TriggerType},
		Config: map[string]interface{}{
			"url":          callbackURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}
	created, _, err := client.Repositories.CreateHook(ctx, owner, repo, hook)
	if err != nil {
		return connector.RegisterResult{}, classify("github.Register", err)
	}
	return connector.RegisterResult{
		ExternalWebhookID: fmt.Sprintf("%d", created.GetID()),
		Config:            map[string]string{"hook_secret": secret},
	}, nil
}

// Unregister deletes the repository webhook. A 404 is treated as success.
func (c *Connector) Unregister(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) error {
	owner, repo, err := ownerRepo(trigger)
	if err != nil {
		return &connector.PermanentError{Op: "github.Unregister", Err: err}
	}
	var hookID int64
	if _, err := fmt.Sscanf(trigger.ExternalWebhookID, "%d", &hookID); err != nil {
		return &connector.PermanentError{Op: "github.Unregister", Err: fmt.Errorf("invalid external webhook id %q", trigger.ExternalWebhookID)}
	}
	_, err = c.client(account).Repositories.DeleteHook(ctx, owner, repo, hookID)
	if err != nil {
		if resp, ok := err.(*gogithub.ErrorResponse); ok && resp.Response != nil && resp.Response.StatusCode == http.StatusNotFound {
			return nil
		}
		return classify("github.Unregister", err)
	}
	return nil
}

// Renew is not supported: GitHub repository webhooks do not expire.
func (c *Connector) Renew(_ context.Context, _ models.Trigger, _ models.LinkedAccount) (connector.RenewResult, error) {
	return connector.RenewResult{}, connector.ErrRenewNotSupported
}

// Verify checks X-Hub-Signature-256: hex HMAC-SHA256 of the raw body,
// prefixed "sha256=", against the per-hook secret stored in the trigger's
// config.
func (c *Connector) Verify(_ context.Context, rawBody []byte, headers http.Header, trigger models.Trigger) error {
	sig := headers.Get("X-Hub-Signature-256")
	if sig == "" {
		return &connector.InvalidSignatureError{Reason: "missing X-Hub-Signature-256"}
	}
	secret := trigger.Config["hook_secret"]
	want := "sha256=" + connector.HMACHex([]byte(secret), rawBody)
	if !connector.ConstantTimeEqual(sig, want) {
		return &connector.InvalidSignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// Parse decodes the delivery into a single canonical event keyed by
// X-GitHub-Delivery and typed by X-GitHub-Event.
func (c *Connector) Parse(rawBody []byte, headers http.Header, _ models.Trigger) ([]models.ParsedEvent, error) {
	if !json.Valid(rawBody) {
		return nil, &connector.MalformedPayloadError{Reason: "body is not valid JSON"}
	}
	deliveryID := headers.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		return nil, &connector.MalformedPayloadError{Reason: "missing X-GitHub-Delivery"}
	}
	eventType := headers.Get("X-GitHub-Event")
	return []models.ParsedEvent{{
		EventType:       eventType,
		EventData:       rawBody,
		ExternalEventID: &deliveryID,
	}}, nil
}

func ownerRepo(trigger models.Trigger) (owner, repo string, err error) {
	owner, repo = trigger.Config["owner"], trigger.Config["repo"]
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("trigger config missing owner/repo: %q", trigger.Config)
	}
	return owner, repo, nil
}

func randomHexSecret(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func classify(op string, err error) error {
	if resp, ok := err.(*gogithub.ErrorResponse); ok && resp.Response != nil {
		if resp.Response.StatusCode >= 500 || resp.Response.StatusCode == http.StatusTooManyRequests {
			return &connector.TransientError{Op: op, Err: err}
		}
	}
	return &connector.PermanentError{Op: op, Err: err}
}
