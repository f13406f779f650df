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

package hubspot

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestVerifyAcceptsValidV3Signature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{AppSecret: "shh", ReplaySkew: 5 * time.Minute, Now: fixedNow(now)}
	trigger := models.Trigger{ID: "t1", App: "hubspot"}

	body := []byte(`{"eventId":1}`)
	tsMillis := now.UnixMilli()
	tsHeader := strconv.FormatInt(tsMillis, 10)
	base := http.MethodPost + trigger.WebhookPath() + string(body) + tsHeader
	sig := connector.HMACHex([]byte("shh"), []byte(base))

	headers := http.Header{}
	headers.Set("X-HubSpot-Signature-V3", sig)
	headers.Set("X-HubSpot-Request-Timestamp", tsHeader)
	headers.Set(":method", http.MethodPost)
	headers.Set(":uri", trigger.WebhookPath())

	err := c.Verify(nil, body, headers, trigger)
	require.NoError(t, err)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{AppSecret: "shh", ReplaySkew: 5 * time.Minute, Now: fixedNow(now)}
	trigger := models.Trigger{ID: "t1", App: "hubspot"}

	body := []byte(`{"eventId":1}`)
	staleTime := now.Add(-10 * time.Minute)
	tsHeader := strconv.FormatInt(staleTime.UnixMilli(), 10)
	base := http.MethodPost + trigger.WebhookPath() + string(body) + tsHeader
	sig := connector.HMACHex([]byte("shh"), []byte(base))

	headers := http.Header{}
	headers.Set("X-HubSpot-Signature-V3", sig)
	headers.Set("X-HubSpot-Request-Timestamp", tsHeader)
	headers.Set(":method", http.MethodPost)
	headers.Set(":uri", trigger.WebhookPath())

	err := c.Verify(nil, body, headers, trigger)
	var staleErr *connector.StaleTimestampError
	require.ErrorAs(t, err, &staleErr)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{AppSecret: "shh", ReplaySkew: 5 * time.Minute, Now: fixedNow(now)}
	trigger := models.Trigger{ID: "t1", App: "hubspot"}

	headers := http.Header{}
	headers.Set("X-HubSpot-Signature-V3", "deadbeef")
	headers.Set("X-HubSpot-Request-Timestamp", strconv.FormatInt(now.UnixMilli(), 10))

	err := c.Verify(nil, []byte(`{}`), headers, trigger)
	var sigErr *connector.InvalidSignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestParseSingleEvent(t *testing.T) {
	c := &Connector{}
	events, err := c.Parse([]byte(`{"eventId":42,"subscriptionType":"contact.creation"}`), nil, models.Trigger{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "contact.creation", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "42", *events[0].ExternalEventID)
}

func TestParseBatchedEvents(t *testing.T) {
	c := &Connector{}
	body := []byte(`[{"eventId":1,"subscriptionType":"contact.creation"},{"eventId":2,"subscriptionType":"contact.deletion"}]`)
	events, err := c.Parse(body, nil, models.Trigger{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", *events[0].ExternalEventID)
	assert.Equal(t, "2", *events[1].ExternalEventID)
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	c := &Connector{}
	_, err := c.Parse([]byte(`not json`), nil, models.Trigger{})
	var malformedErr *connector.MalformedPayloadError
	require.ErrorAs(t, err, &malformedErr)
}

func TestRenewNotSupported(t *testing.T) {
	c := &Connector{}
	_, err := c.Renew(nil, models.Trigger{}, models.LinkedAccount{})
	assert.ErrorIs(t, err, connector.ErrRenewNotSupported)
}
