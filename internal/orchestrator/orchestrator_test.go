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

package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnearle/triggerhub/internal/connector"
	"github.com/johnearle/triggerhub/internal/models"
	storepkg "github.com/johnearle/triggerhub/internal/store"
)

// fakeStore is an in-memory stand-in for *store.Store, letting orchestrator
// tests run without a Postgres instance.
type fakeStore struct {
	triggers map[string]models.Trigger
}

func newFakeStore() *fakeStore {
	return &fakeStore{triggers: map[string]models.Trigger{}}
}

func (s *fakeStore) CreateTrigger(_ context.Context, t models.Trigger) (*models.Trigger, error) {
	s.triggers[t.ID] = t
	cp := t
	return &cp, nil
}

func (s *fakeStore) GetTrigger(_ context.Context, id string) (*models.Trigger, error) {
	t, ok := s.triggers[id]
	if !ok {
		return nil, storepkg.ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (s *fakeStore) DeleteTrigger(_ context.Context, id string) error {
	delete(s.triggers, id)
	return nil
}

func (s *fakeStore) UpdateTriggerStatus(_ context.Context, id string, status models.TriggerStatus, errMsg string) error {
	t := s.triggers[id]
	t.Status = status
	t.LastError = errMsg
	s.triggers[id] = t
	return nil
}

func (s *fakeStore) UpdateTriggerExternalID(_ context.Context, id, externalID string, expiresAt *time.Time) error {
	t := s.triggers[id]
	t.ExternalWebhookID = externalID
	t.ExpiresAt = expiresAt
	s.triggers[id] = t
	return nil
}

func (s *fakeStore) UpdateTriggerConfig(_ context.Context, id string, patch map[string]string) error {
	t := s.triggers[id]
	if t.Config == nil {
		t.Config = map[string]string{}
	}
	for k, v := range patch {
		t.Config[k] = v
	}
	s.triggers[id] = t
	return nil
}

// fakeCatalog stands in for the real catalog package; permissive lets
// tests exercise registration without needing every trigger type declared.
type fakeCatalog struct{ permissive bool }

func (c fakeCatalog) Supports(string, string) bool { return c.permissive }

type fakeAccounts struct {
	account models.LinkedAccount
	err     error
}

func (f fakeAccounts) Resolve(context.Context, string) (models.LinkedAccount, error) {
	return f.account, f.err
}

// fakeConnector lets each test script Register/Unregister outcomes.
type fakeConnector struct {
	registerResult  connector.RegisterResult
	registerErr     error
	unregisterErr   error
	registerCalls   int
	unregisterCalls int
}

func (c *fakeConnector) Register(context.Context, models.Trigger, models.LinkedAccount) (connector.RegisterResult, error) {
	c.registerCalls++
	return c.registerResult, c.registerErr
}
func (c *fakeConnector) Unregister(context.Context, models.Trigger, models.LinkedAccount) error {
	c.unregisterCalls++
	return c.unregisterErr
}
func (c *fakeConnector) Verify(context.Context, []byte, http.Header, models.Trigger) error { return nil }
func (c *fakeConnector) Parse([]byte, http.Header, models.Trigger) ([]models.ParsedEvent, error) {
	return nil, nil
}
func (c *fakeConnector) Renew(context.Context, models.Trigger, models.LinkedAccount) (connector.RenewResult, error) {
	return connector.RenewResult{}, connector.ErrRenewNotSupported
}

func registry(app string, c connector.Connector) *connector.Registry {
	return connector.NewRegistry(map[string]connector.Connector{app: c})
}

func TestCreateActivatesOnSuccessfulRegister(t *testing.T) {
	fs := newFakeStore()
	fc := &fakeConnector{registerResult: connector.RegisterResult{ExternalWebhookID: "hook-1"}}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	trigger, err := o.Create(context.Background(), CreateRequest{
		Project: "proj1", App: "GITHUB", LinkedAccountID: "acct1", TriggerType: "push",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerActive, trigger.Status)
	assert.Equal(t, "hook-1", trigger.ExternalWebhookID)
	assert.Equal(t, 1, fc.registerCalls)
	assert.NotEmpty(t, trigger.VerificationToken)
	assert.Contains(t, trigger.Config["callback_url"], trigger.ID)
}

func TestCreateRollsBackOnPermanentFailure(t *testing.T) {
	fs := newFakeStore()
	fc := &fakeConnector{registerErr: &connector.PermanentError{Op: "x", Err: errors.New("bad config")}}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	_, err := o.Create(context.Background(), CreateRequest{
		Project: "proj1", App: "GITHUB", LinkedAccountID: "acct1", TriggerType: "push",
	})
	require.Error(t, err)
	assert.Empty(t, fs.triggers, "row must be rolled back on permanent failure")
}

func TestCreateLeavesRowInErrorOnTransientFailure(t *testing.T) {
	fs := newFakeStore()
	fc := &fakeConnector{registerErr: &connector.TransientError{Op: "x", Err: errors.New("timeout")}}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	trigger, err := o.Create(context.Background(), CreateRequest{
		Project: "proj1", App: "GITHUB", LinkedAccountID: "acct1", TriggerType: "push",
	})
	require.Error(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, models.TriggerError, trigger.Status)
	assert.Len(t, fs.triggers, 1, "row survives for the scheduler's retry job")
}

func TestCreateRejectsTriggerTypeNotInCatalog(t *testing.T) {
	fs := newFakeStore()
	fc := &fakeConnector{registerResult: connector.RegisterResult{ExternalWebhookID: "hook-1"}}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: false}, "https://hooks.example.com")

	_, err := o.Create(context.Background(), CreateRequest{
		Project: "proj1", App: "GITHUB", LinkedAccountID: "acct1", TriggerType: "not-a-real-event",
	})
	require.Error(t, err)
	assert.Zero(t, fc.registerCalls, "connector must never be called for an uncataloged trigger type")
	assert.Empty(t, fs.triggers, "no row should be created for a rejected request")
}

func TestUpdateStatusTransitionSkipsConnector(t *testing.T) {
	fs := newFakeStore()
	id := "t1"
	fs.triggers[id] = models.Trigger{ID: id, App: "GITHUB", Status: models.TriggerActive}
	fc := &fakeConnector{}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	paused := models.TriggerPaused
	trigger, err := o.Update(context.Background(), id, UpdatePatch{Status: &paused})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerPaused, trigger.Status)
	assert.Zero(t, fc.registerCalls)
	assert.Zero(t, fc.unregisterCalls)
}

func TestUpdateConfigReRegisters(t *testing.T) {
	fs := newFakeStore()
	id := "t1"
	fs.triggers[id] = models.Trigger{ID: id, App: "GITHUB", Status: models.TriggerActive, LinkedAccountID: "acct1"}
	fc := &fakeConnector{registerResult: connector.RegisterResult{ExternalWebhookID: "hook-2"}}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	trigger, err := o.Update(context.Background(), id, UpdatePatch{Config: map[string]string{"owner": "acme"}})
	require.NoError(t, err)
	assert.Equal(t, 1, fc.unregisterCalls)
	assert.Equal(t, 1, fc.registerCalls)
	assert.Equal(t, "hook-2", trigger.ExternalWebhookID)
}

func TestDeleteProceedsDespiteUnregisterFailure(t *testing.T) {
	fs := newFakeStore()
	id := "t1"
	fs.triggers[id] = models.Trigger{ID: id, App: "GITHUB", LinkedAccountID: "acct1"}
	fc := &fakeConnector{unregisterErr: errors.New("network blip")}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	err := o.Delete(context.Background(), id)
	require.NoError(t, err)
	_, ok := fs.triggers[id]
	assert.False(t, ok, "row must still be deleted even when unregister fails")
}

func TestDeleteOfMissingTriggerIsNoop(t *testing.T) {
	fs := newFakeStore()
	fc := &fakeConnector{}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	err := o.Delete(context.Background(), "does-not-exist")
	require.NoError(t, err)
}

func TestBulkUpdateStatusReportsPerItem(t *testing.T) {
	fs := newFakeStore()
	fs.triggers["ok"] = models.Trigger{ID: "ok", App: "GITHUB", Status: models.TriggerActive}
	fc := &fakeConnector{}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	results := o.BulkUpdateStatus(context.Background(), []string{"ok", "missing"}, models.TriggerPaused)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestBulkDeleteReportsPerItem(t *testing.T) {
	fs := newFakeStore()
	fs.triggers["ok"] = models.Trigger{ID: "ok", App: "GITHUB"}
	fc := &fakeConnector{}
	o := New(fs, registry("GITHUB", fc), fakeAccounts{}, nil, fakeCatalog{permissive: true}, "https://hooks.example.com")

	results := o.BulkDelete(context.Background(), []string{"ok", "missing"})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err, "deleting an already-absent trigger is a no-op success")
}
