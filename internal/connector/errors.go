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

import "fmt"

// TransientError wraps a provider failure the orchestrator should retry
// (network blip, 5xx, rate limited upstream).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a provider failure that will not succeed on retry
// (bad config, 4xx other than 409/404, invalid credentials).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// InvalidSignatureError is returned by Verify when the computed signature
// does not match the provider's.
type InvalidSignatureError struct{ Reason string }

func (e *InvalidSignatureError) Error() string { return "invalid signature: " + e.Reason }

// StaleTimestampError is returned by Verify when the provider's signed
// timestamp falls outside the replay window.
type StaleTimestampError struct{ Age string }

func (e *StaleTimestampError) Error() string { return "stale timestamp: age " + e.Age }

// MalformedPayloadError is returned by Parse when the body cannot be
// decoded into the provider's expected shape.
type MalformedPayloadError struct{ Reason string }

func (e *MalformedPayloadError) Error() string { return "malformed payload: " + e.Reason }
