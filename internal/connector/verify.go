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

package connector

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// HMACHex computes hex(HMAC-SHA256(key, data)) — the shape GitHub and Slack
// both use (with their own prefixes added by the caller).
func HMACHex(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACBase64 computes base64(HMAC-SHA256(key, data)) — Shopify's shape.
func HMACBase64(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqual compares two strings without leaking timing
// information, as spec.md §4.B requires of every connector's Verify.
func ConstantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// CheckReplayWindow rejects timestamps older (or newer) than skew relative
// to now, independent of whether the signature is valid — scenario (b) in
// spec.md §8 requires this check to run even when the HMAC is correct.
func CheckReplayWindow(signedAt, now time.Time, skew time.Duration) error {
	age := now.Sub(signedAt)
	if age < 0 {
		age = -age
	}
	if age > skew {
		return &StaleTimestampError{Age: fmt.Sprintf("%s (skew budget %s)", age, skew)}
	}
	return nil
}
