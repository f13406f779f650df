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

package github

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

func TestVerifyAcceptsValidSignature(t *testing.T) {
	c := &Connector{}
	body := []byte(`{"action":"opened"}`)
	trigger := models.Trigger{Config: map[string]string{"hook_secret": "shh"}}
	sig := "sha256=" + connector.HMACHex([]byte("shh"), body)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", sig)

	require.NoError(t, c.Verify(nil, body, headers, trigger))
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	c := &Connector{}
	trigger := models.Trigger{Config: map[string]string{"hook_secret": "shh"}}
	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256=bogus")

	err := c.Verify(nil, []byte(`{}`), headers, trigger)
	var sigErr *connector.InvalidSignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestParseUsesDeliveryIDAndEventType(t *testing.T) {
	c := &Connector{}
	headers := http.Header{}
	headers.Set("X-GitHub-Delivery", "abc-123")
	headers.Set("X-GitHub-Event", "issues")

	events, err := c.Parse([]byte(`{"action":"opened"}`), headers, models.Trigger{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "issues", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "abc-123", *events[0].ExternalEventID)
}

func TestParseRejectsMissingDeliveryID(t *testing.T) {
	c := &Connector{}
	_, err := c.Parse([]byte(`{}`), http.Header{}, models.Trigger{})
	var malformedErr *connector.MalformedPayloadError
	require.ErrorAs(t, err, &malformedErr)
}

func TestOwnerRepoReadsTriggerConfig(t *testing.T) {
	owner, repo, err := ownerRepo(models.Trigger{Config: map[string]string{"owner": "acme", "repo": "widgets"}})
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
}

func TestOwnerRepoRejectsMissingConfig(t *testing.T) {
	_, _, err := ownerRepo(models.Trigger{Config: map[string]string{"owner": "acme"}})
	require.Error(t, err)
}

func TestRenewNotSupported(t *testing.T) {
	c := &Connector{}
	_, err := c.Renew(nil, models.Trigger{}, models.LinkedAccount{})
	assert.ErrorIs(t, err, connector.ErrRenewNotSupported)
}
