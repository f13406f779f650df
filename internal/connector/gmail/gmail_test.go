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

package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
)

func TestVerifyRejectsMissingBearerToken(t *testing.T) {
	c := &Connector{}
	err := c.Verify(context.Background(), nil, http.Header{}, models.Trigger{})
	var sigErr *connector.InvalidSignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestParseDecodesPushEnvelope(t *testing.T) {
	c := &Connector{}
	inner := `{"emailAddress":"a@example.com","historyId":42}`
	data := base64.StdEncoding.EncodeToString([]byte(inner))
	body := []byte(`{"message":{"data":"` + data + `","messageId":"msg-1"}}`)

	events, err := c.Parse(body, nil, models.Trigger{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "gmail.historyChanged", events[0].EventType)
	require.NotNil(t, events[0].ExternalEventID)
	assert.Equal(t, "msg-1", *events[0].ExternalEventID)
}

func TestParseRejectsMissingMessageID(t *testing.T) {
	c := &Connector{}
	_, err := c.Parse([]byte(`{"message":{"data":"e30="}}`), nil, models.Trigger{})
	var malformedErr *connector.MalformedPayloadError
	require.ErrorAs(t, err, &malformedErr)
}

func TestRenewUsesWatchRequest(t *testing.T) {
	fixedExpiry := time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)
	c := &Connector{
		TopicName: "projects/acme/topics/gmail-push",
		WatchRequest: func(_ context.Context, _ models.LinkedAccount, topic string) (time.Time, uint64, error) {
			assert.Equal(t, "projects/acme/topics/gmail-push", topic)
			return fixedExpiry, 100, nil
		},
	}
	result, err := c.Renew(context.Background(), models.Trigger{}, models.LinkedAccount{})
	require.NoError(t, err)
	assert.Equal(t, fixedExpiry, result.ExpiresAt)
}
