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

package models

import (
	"encoding/json"
	"time"
)

// EventStatus is the lifecycle state of a TriggerEvent.
type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventDelivered EventStatus = "DELIVERED"
	EventFailed    EventStatus = "FAILED"
	EventExpired   EventStatus = "EXPIRED"
)

// DefaultEventRetention is how long a TriggerEvent lives before cleanup:
// received_at + 30 days.
const DefaultEventRetention = 30 * 24 * time.Hour

// TriggerEvent represents one persisted webhook delivery.
type TriggerEvent struct {
	ID                string
	TriggerID         string
	EventType         string
	EventData         json.RawMessage
	ExternalEventID   *string
	Status            EventStatus
	ErrorMessage      *string
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
	DeliveredAt       *time.Time
	ExpiresAt         time.Time
}

// EventFilter narrows list_events queries.
type EventFilter struct {
	TriggerID string
	Status    EventStatus
	Since     time.Time
	Until     time.Time
}

// ParsedEvent is the output of Connector.Parse: a pure, unpersisted view of
// one inbound delivery ready for insert-or-ignore.
type ParsedEvent struct {
	EventType       string
	EventData       json.RawMessage
	ExternalEventID *string
}
