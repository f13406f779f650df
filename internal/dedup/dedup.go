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

// Package dedup provides a fast-path duplicate check using a Redis SET with
// TTL, sitting in front of the store's Postgres UNIQUE-constraint dedup.
// A hit here lets the ingestion handler short-circuit before ever reaching
// the database; a miss still falls through to the constraint, which is the
// actual source of truth when two deliveries race each other.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen (trigger, external event id) pair is
	// remembered. Persisted events are retained far longer than this; the
	// TTL only needs to outlast a provider's redelivery window.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "triggerhub:seen:"
)

// Filter tracks which (trigger, external event id) pairs have already been
// seen.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if triggerID/externalEventID has NOT been seen before.
// If true, the pair is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, triggerID, externalEventID string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, triggerID, externalEventID)

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}
