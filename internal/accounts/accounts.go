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

// Package accounts is the thin read-only boundary onto the linked-account
// store that holds each account's OAuth tokens and API keys. This core
// never writes to linked_accounts and never manages OAuth refresh — it only
// resolves the credentials a connector needs at call time, satisfying the
// orchestrator.AccountResolver / scheduler.AccountResolver contract.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johnearle/triggerhub/internal/models"
)

// Resolver reads linked account credentials from a table owned by the
// (out-of-scope) admin/auth layer. It is deliberately the thinnest possible
// adapter: one SELECT, no caching, no token refresh — refresh is the linked
// account store's job, not this core's.
type Resolver struct {
	pool *pgxpool.Pool
}

// New builds a Resolver over the shared connection pool.
func New(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// ErrNotFound is returned when no linked account matches the given ID.
var ErrNotFound = fmt.Errorf("accounts: linked account not found")

// Resolve loads the credentials and provider-specific extras for a linked
// account. The orchestrator and scheduler call this before each connector
// call (never at construction) so a token refreshed between calls is always
// picked up fresh.
func (r *Resolver) Resolve(ctx context.Context, linkedAccountID string) (models.LinkedAccount, error) {
	var (
		account   models.LinkedAccount
		extraJSON []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, provider, access_token, refresh_token, token_expiry, shop_domain, extra
		FROM linked_accounts WHERE id = $1
	`, linkedAccountID)

	err := row.Scan(
		&account.ID, &account.Provider, &account.AccessToken, &account.RefreshToken,
		&account.TokenExpiry, &account.ShopDomain, &extraJSON,
	)
	if err == pgx.ErrNoRows {
		return models.LinkedAccount{}, ErrNotFound
	}
	if err != nil {
		return models.LinkedAccount{}, fmt.Errorf("accounts: resolve %s: %w", linkedAccountID, err)
	}

	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &account.Extra); err != nil {
			return models.LinkedAccount{}, fmt.Errorf("accounts: unmarshal extra for %s: %w", linkedAccountID, err)
		}
	}
	return account, nil
}
