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

package connector

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/johnearle/triggerhub/internal/models"
)

// DefaultProviderTimeout is the per-call timeout applied to outbound
// provider requests unless the caller overrides it.
const DefaultProviderTimeout = 10 * time.Second

// userAgent identifies this system to every provider API.
const userAgent = "triggerhub-webhooks/1.0"

// ClientFor builds a credentialed *http.Client for a linked account. It is
// called fresh on every connector invocation rather than cached on
// construction, so a token refreshed between calls is always picked up.
func ClientFor(account models.LinkedAccount) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.TokenExpiry,
	})
	return &http.Client{
		Transport: &userAgentTransport{
			base: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
		Timeout: DefaultProviderTimeout,
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(req)
}

// ProviderSemaphore bounds outbound concurrency per provider app so one slow
// provider cannot starve calls to the others. It is a plain buffered-channel
// counting semaphore.
type ProviderSemaphore struct {
	slots chan struct{}
}

// NewProviderSemaphore creates a semaphore allowing at most n concurrent
// outbound calls.
func NewProviderSemaphore(n int) *ProviderSemaphore {
	if n <= 0 {
		n = 8
	}
	return &ProviderSemaphore{slots: make(chan struct{}, n)}
}

// Do runs fn with a slot held, respecting ctx cancellation while waiting.
func (p *ProviderSemaphore) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	return fn(ctx)
}
