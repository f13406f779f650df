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

// Package shopify implements the Shopify webhook connector: base64
// HMAC-SHA256 signature verification and Admin GraphQL API registration.
//
// Shopify's Admin API has no officially supported Go SDK in this corpus, so
// Register/Unregister issue the GraphQL mutations directly over net/http —
// the one place this connector reaches for the standard library instead of
// a third-party client.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

const apiVersion = "2024-10"

// Connector implements connector.Connector for Shopify.
type Connector struct {
	// AppSecret is the Shopify app's shared secret used to verify HMACs.
	AppSecret string
}

// Register creates a webhookSubscriptionCreate via the Admin GraphQL API.
func (c *Connector) Register(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) (connector.RegisterResult, error) {
	const mutation = `
mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $input: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $input) {
    webhookSubscription { id }
    userErrors { field message }
  }
}`
	vars := map[string]any{
		"topic": trigger.TriggerType,
		"input": map[string]any{
			"callbackUrl": trigger.WebhookPath(),
			"format":      "JSON",
		},
	}

	var resp struct {
		Data struct {
			WebhookSubscriptionCreate struct {
				WebhookSubscription struct {
					ID string `json:"id"`
				} `json:"webhookSubscription"`
				UserErrors []struct {
					Field   []string `json:"field"`
					Message string   `json:"message"`
				} `json:"userErrors"`
			} `json:"webhookSubscriptionCreate"`
		} `json:"data"`
	}
	if err := c.graphQL(ctx, account, mutation, vars, &resp); err != nil {
		return connector.RegisterResult{}, err
	}
	if len(resp.Data.WebhookSubscriptionCreate.UserErrors) > 0 {
		return connector.RegisterResult{}, &connector.PermanentError{
			Op:  "shopify.Register",
			Err: fmt.Errorf("%s", resp.Data.WebhookSubscriptionCreate.UserErrors[0].Message),
		}
	}
	return connector.RegisterResult{
		ExternalWebhookID: resp.Data.WebhookSubscriptionCreate.WebhookSubscription.ID,
	}, nil
}

// Unregister deletes the webhook subscription. A not-found response is
// treated as already-deleted, not an error.
func (c *Connector) Unregister(ctx context.Context, trigger models.Trigger, account models.LinkedAccount) error {
	const mutation = `
mutation webhookSubscriptionDelete($id: ID!) {
  webhookSubscriptionDelete(id: $id) {
    userErrors { field message }
  }
}`
	vars := map[string]any{"id": trigger.ExternalWebhookID}

	var resp struct {
		Data struct {
			WebhookSubscriptionDelete struct {
				UserErrors []struct {
					Message string `json:"message"`
				} `json:"userErrors"`
			} `json:"webhookSubscriptionDelete"`
		} `json:"data"`
	}
	if err := c.graphQL(ctx, account, mutation, vars, &resp); err != nil {
		return err
	}
	if len(resp.Data.WebhookSubscriptionDelete.UserErrors) > 0 {
		msg := resp.Data.WebhookSubscriptionDelete.UserErrors[0].Message
		if msg == "Webhook subscription does not exist" {
			return nil
		}
		return &connector.PermanentError{Op: "shopify.Unregister", Err: fmt.Errorf("%s", msg)}
	}
	return nil
}

// Renew is not supported: Shopify webhook subscriptions do not expire.
func (c *Connector) Renew(_ context.Context, _ models.Trigger, _ models.LinkedAccount) (connector.RenewResult, error) {
	return connector.RenewResult{}, connector.ErrRenewNotSupported
}

// Verify checks X-Shopify-Hmac-SHA256: base64 HMAC-SHA256 of the raw body
// against the app secret. Shopify has no replay-window header; dedup is
// left entirely to the X-Shopify-Webhook-Id uniqueness constraint.
func (c *Connector) Verify(_ context.Context, rawBody []byte, headers http.Header, _ models.Trigger) error {
	sig := headers.Get("X-Shopify-Hmac-SHA256")
	if sig == "" {
		return &connector.InvalidSignatureError{Reason: "missing X-Shopify-Hmac-SHA256"}
	}
	want := connector.HMACBase64([]byte(c.AppSecret), rawBody)
	if !connector.ConstantTimeEqual(sig, want) {
		return &connector.InvalidSignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// Parse decodes the delivery into a single canonical event, keyed by
// X-Shopify-Webhook-Id and typed by X-Shopify-Topic.
func (c *Connector) Parse(rawBody []byte, headers http.Header, _ models.Trigger) ([]models.ParsedEvent, error) {
	if !json.Valid(rawBody) {
		return nil, &connector.MalformedPayloadError{Reason: "body is not valid JSON"}
	}
	webhookID := headers.Get("X-Shopify-Webhook-Id")
	if webhookID == "" {
		return nil, &connector.MalformedPayloadError{Reason: "missing X-Shopify-Webhook-Id"}
	}
	topic := headers.Get("X-Shopify-Topic")
	return []models.ParsedEvent{{
		EventType:       topic,
		EventData:       rawBody,
		ExternalEventID: &webhookID,
	}}, nil
}

func (c *Connector) graphQL(ctx context.Context, account models.LinkedAccount, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return &connector.PermanentError{Op: "shopify.graphQL", Err: err}
	}

	url := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", account.ShopDomain, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &connector.PermanentError{Op: "shopify.graphQL", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", account.AccessToken)

	client := &http.Client{Timeout: connector.DefaultProviderTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return &connector.TransientError{Op: "shopify.graphQL", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &connector.TransientError{Op: "shopify.graphQL", Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &connector.TransientError{Op: "shopify.graphQL", Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return &connector.PermanentError{Op: "shopify.graphQL", Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &connector.PermanentError{Op: "shopify.graphQL", Err: err}
	}
	return nil
}
