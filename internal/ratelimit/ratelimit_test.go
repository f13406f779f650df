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

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRespectsPerTriggerBurst(t *testing.T) {
	l := New(
		BucketConfig{Capacity: 1000, Refill: 1000},
		BucketConfig{Capacity: 2, Refill: 0.001},
		time.Minute,
	)
	defer l.Close()

	assert.True(t, l.Allow("1.2.3.4", "t1"))
	assert.True(t, l.Allow("1.2.3.4", "t1"))
	assert.False(t, l.Allow("1.2.3.4", "t1"))
}

func TestAllowIsolatesBucketsPerTrigger(t *testing.T) {
	l := New(
		BucketConfig{Capacity: 1000, Refill: 1000},
		BucketConfig{Capacity: 1, Refill: 0.001},
		time.Minute,
	)
	defer l.Close()

	assert.True(t, l.Allow("1.2.3.4", "t1"))
	assert.False(t, l.Allow("1.2.3.4", "t1"))
	assert.True(t, l.Allow("1.2.3.4", "t2"))
}

func TestAllowRespectsGlobalBucket(t *testing.T) {
	l := New(
		BucketConfig{Capacity: 1, Refill: 0.001},
		BucketConfig{Capacity: 1000, Refill: 1000},
		time.Minute,
	)
	defer l.Close()

	assert.True(t, l.Allow("1.2.3.4", "t1"))
	assert.False(t, l.Allow("1.2.3.4", "t2"))
}

func TestAllowDoesNotChargeIPBucketWhenTriggerBucketExhausted(t *testing.T) {
	// Per-trigger bucket "t1" is exhausted after the first call; a request
	// rejected on the trigger bucket must not also consume an IP token —
	// otherwise a single saturated trigger would starve unrelated triggers
	// sharing the same IP.
	l := New(
		BucketConfig{Capacity: 2, Refill: 0.0001},
		BucketConfig{Capacity: 1, Refill: 0.0001},
		time.Minute,
	)
	defer l.Close()

	assert.True(t, l.Allow("1.2.3.4", "t1"))
	assert.False(t, l.Allow("1.2.3.4", "t1"), "t1's bucket is now empty")
	assert.True(t, l.Allow("1.2.3.4", "t2"), "the IP token from the rejected t1 call must have been returned")
}

func TestRetryAfterReflectsTriggerBucketDelay(t *testing.T) {
	l := New(
		BucketConfig{Capacity: 1000, Refill: 1000},
		BucketConfig{Capacity: 1, Refill: 1},
		time.Minute,
	)
	defer l.Close()

	assert.True(t, l.Allow("1.2.3.4", "t1"))
	assert.False(t, l.Allow("1.2.3.4", "t1"))
	assert.Greater(t, l.RetryAfter("t1"), time.Duration(0))
}

func TestEvictIdleRemovesStaleBuckets(t *testing.T) {
	l := New(
		BucketConfig{Capacity: 1000, Refill: 1000},
		BucketConfig{Capacity: 5, Refill: 5},
		time.Minute,
	)
	defer l.Close()

	l.Allow("1.2.3.4", "t1")
	s := l.triggerBuckets.shards[shardFor("t1")]
	s.mu.Lock()
	s.buckets["t1"].lastUsed = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	evicted := l.triggerBuckets.evictIdle(time.Minute)
	assert.Equal(t, 1, evicted)

	s.mu.Lock()
	_, ok := s.buckets["t1"]
	s.mu.Unlock()
	assert.False(t, ok)
}
