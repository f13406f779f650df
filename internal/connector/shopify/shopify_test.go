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

package shopify

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

func TestVerifyAcceptsValidSignature(t *testing.T) {
	c := &Connector{AppSecret: "shh"}
	body := []byte(`{"id":1}`)
	sig := connector.HMACBase64([]byte("shh"), body)

	headers := http.Header{}
	headers.Set("X-Shopify-Hmac-SHA256", sig)

	require.NoError(t, c.Verify(nil, body, headers, models.Trigger{}))
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	c := &Connector{AppSecret: "shh"}
	headers := http.Header{}
	headers.Set("X-Shopify-Hmac-SHA256", "bogus")

	err := c.Verify(nil, []byte(`{}`), headers, models.Trigger{})
	var sigErr *connector.InvalidSignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestParseUsesWebhookIDAndTopic(t *testing.T) {
	c := &Connector{}
	headers := http.Header{}
	headers.Set("X-Shopify-Webhook-Id", "wh-123")
	headers.Set("X-Shopify-Topic", "orders/create")

	events, err := c.Parse([]byte(`{"id":1}`), headers, models.Trigger{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "orders/create", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "wh-123", *events[0].ExternalEventID)
}

func TestParseRejectsMissingWebhookID(t *testing.T) {
	c := &Connector{}
	_, err := c.Parse([]byte(`{}`), http.Header{}, models.Trigger{})
	var malformedErr *connector.MalformedPayloadError
	require.ErrorAs(t, err, &malformedErr)
}

func TestRenewNotSupported(t *testing.T) {
	c := &Connector{}
	_, err := c.Renew(nil, models.Trigger{}, models.LinkedAccount{})
	assert.ErrorIs(t, err, connector.ErrRenewNotSupported)
}
