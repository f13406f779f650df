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

// Package ratelimit implements the two-tier ingestion limiter: a bucket
// keyed by client IP and a bucket keyed by trigger ID, each sharded so one
// hot key never serializes access to the others.
package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const shardCount = 16

// BucketConfig describes a token bucket's capacity and refill rate.
type BucketConfig struct {
	Capacity float64 // burst size
	Refill   float64 // tokens per second
}

// Limiter enforces an IP-keyed bucket and a trigger-keyed bucket, both
// created lazily and evicted once idle.
type Limiter struct {
	ipBuckets      *keyedBuckets
	triggerBuckets *keyedBuckets

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Limiter from IP and per-trigger bucket configurations and
// starts a background goroutine that evicts idle buckets from both sets.
func New(ipConfig, triggerConfig BucketConfig, idleAfter time.Duration) *Limiter {
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}

	l := &Limiter{
		ipBuckets:      newKeyedBuckets(ipConfig),
		triggerBuckets: newKeyedBuckets(triggerConfig),
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.evictionLoop(ctx, idleAfter)

	return l
}

// Allow reports whether a request from ip for triggerID may proceed. Both
// buckets must have a token available right now or neither is charged: the
// IP token is reserved first and cancelled (returned) if the trigger bucket
// turns out to be empty, so a saturated trigger can never drain tokens from
// the shared IP bucket out from under unrelated triggers.
func (l *Limiter) Allow(ip, triggerID string) bool {
	now := time.Now()
	ipRes := l.ipBuckets.reserve(ip, now)
	if !ipRes.OK() || ipRes.DelayFrom(now) > 0 {
		ipRes.CancelAt(now)
		return false
	}

	triggerRes := l.triggerBuckets.reserve(triggerID, now)
	if !triggerRes.OK() || triggerRes.DelayFrom(now) > 0 {
		triggerRes.CancelAt(now)
		ipRes.CancelAt(now)
		return false
	}

	return true
}

// RetryAfter estimates how long until triggerID's bucket has a token,
// for the 429 response's Retry-After header.
func (l *Limiter) RetryAfter(triggerID string) time.Duration {
	return l.triggerBuckets.retryAfter(triggerID)
}

// Close stops the eviction loop. Production wiring should defer it during
// graceful shutdown; short-lived test Limiters may skip it.
func (l *Limiter) Close() {
	l.cancel()
	l.wg.Wait()
}

func (l *Limiter) evictionLoop(ctx context.Context, idleAfter time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(idleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := l.ipBuckets.evictIdle(idleAfter) + l.triggerBuckets.evictIdle(idleAfter)
			if evicted > 0 {
				slog.Debug("ratelimit: evicted idle buckets", "count", evicted)
			}
		}
	}
}

// keyedBuckets is a sharded, lazily-populated map of key -> token bucket.
type keyedBuckets struct {
	cfg    BucketConfig
	shards [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newKeyedBuckets(cfg BucketConfig) *keyedBuckets {
	kb := &keyedBuckets{cfg: cfg}
	for i := range kb.shards {
		kb.shards[i] = &shard{buckets: make(map[string]*bucketEntry)}
	}
	return kb
}

func (kb *keyedBuckets) entry(key string) *bucketEntry {
	s := kb.shards[shardFor(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.buckets[key]
	if !ok {
		e = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(kb.cfg.Refill), int(kb.cfg.Capacity))}
		s.buckets[key] = e
	}
	e.lastUsed = time.Now()
	return e
}

// reserve claims a token at now without committing to the caller succeeding;
// Allow inspects DelayFrom(now)/OK() and calls CancelAt(now) to give the
// token back when the overall request is rejected. The cancel must use the
// same instant as the reservation: a reservation cancelled after its
// time-to-act returns nothing.
func (kb *keyedBuckets) reserve(key string, now time.Time) *rate.Reservation {
	return kb.entry(key).limiter.ReserveN(now, 1)
}

func (kb *keyedBuckets) retryAfter(key string) time.Duration {
	now := time.Now()
	r := kb.entry(key).limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

func (kb *keyedBuckets) evictIdle(idleAfter time.Duration) int {
	cutoff := time.Now().Add(-idleAfter)
	evicted := 0
	for _, s := range kb.shards {
		s.mu.Lock()
		for key, e := range s.buckets {
			if e.lastUsed.Before(cutoff) {
				delete(s.buckets, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % shardCount
}
