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

package slack

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

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{SigningSecret: "shh", ReplaySkew: 5 * time.Minute, Now: func() time.Time { return now }}

	body := []byte(`{"type":"event_callback"}`)
	tsHeader := strconv.FormatInt(now.Unix(), 10)
	base := "v0:" + tsHeader + ":" + string(body)
	sig := "v0=" + connector.HMACHex([]byte("shh"), []byte(base))

	headers := http.Header{}
	headers.Set("X-Slack-Signature", sig)
	headers.Set("X-Slack-Request-Timestamp", tsHeader)

	require.NoError(t, c.Verify(nil, body, headers, models.Trigger{}))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{SigningSecret: "shh", ReplaySkew: 5 * time.Minute, Now: func() time.Time { return now }}

	body := []byte(`{}`)
	stale := now.Add(-1 * time.Hour)
	tsHeader := strconv.FormatInt(stale.Unix(), 10)
	base := "v0:" + tsHeader + ":" + string(body)
	sig := "v0=" + connector.HMACHex([]byte("shh"), []byte(base))

	headers := http.Header{}
	headers.Set("X-Slack-Signature", sig)
	headers.Set("X-Slack-Request-Timestamp", tsHeader)

	err := c.Verify(nil, body, headers, models.Trigger{})
	var staleErr *connector.StaleTimestampError
	require.ErrorAs(t, err, &staleErr)
}

func TestHandleChallengeAnswersURLVerificationWithValidSignature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{SigningSecret: "shh", ReplaySkew: 5 * time.Minute, Now: func() time.Time { return now }}

	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	tsHeader := strconv.FormatInt(now.Unix(), 10)
	base := "v0:" + tsHeader + ":" + string(body)
	sig := "v0=" + connector.HMACHex([]byte("shh"), []byte(base))

	headers := http.Header{}
	headers.Set("X-Slack-Signature", sig)
	headers.Set("X-Slack-Request-Timestamp", tsHeader)

	resp, ok, err := c.HandleChallenge(body, headers)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"challenge":"abc123"}`, string(resp))
}

func TestHandleChallengeRejectsInvalidSignature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Connector{SigningSecret: "shh", ReplaySkew: 5 * time.Minute, Now: func() time.Time { return now }}

	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	headers := http.Header{}
	headers.Set("X-Slack-Signature", "v0=deadbeef")
	headers.Set("X-Slack-Request-Timestamp", strconv.FormatInt(now.Unix(), 10))

	_, _, err := c.HandleChallenge(body, headers)
	var sigErr *connector.InvalidSignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestHandleChallengeIgnoresOtherEnvelopes(t *testing.T) {
	c := &Connector{}
	_, ok, err := c.HandleChallenge([]byte(`{"type":"event_callback"}`), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseEventCallback(t *testing.T) {
	c := &Connector{}
	body := []byte(`{"type":"event_callback","event_id":"Ev123","event":{"type":"message"}}`)
	events, err := c.Parse(body, nil, models.Trigger{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "Ev123", *events[0].ExternalEventID)
}
