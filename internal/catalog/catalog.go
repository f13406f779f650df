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

// Package catalog serves the per-app trigger catalog: for each supported
// app, the list of available trigger_type values, a human description, and
// a JSON schema for the config map. The catalog is read-only at runtime, so
// it is built once from a static in-memory table rather than queried.
package catalog

// TriggerDescriptor describes one subscribable trigger type for an app.
type TriggerDescriptor struct {
	TriggerType string
	Description string
	// ConfigSchema is a JSON Schema document describing the shape of the
	// trigger's config map, serialized lazily by callers that need it.
	ConfigSchema string
}

// Catalog is the read-only, start-up-built registry of supported apps and
// their trigger types.
type Catalog struct {
	byApp map[string][]TriggerDescriptor
}

// New builds a Catalog from the static per-app trigger table.
func New() *Catalog {
	return &Catalog{byApp: defaultTriggers}
}

// Apps returns the supported app names.
func (c *Catalog) Apps() []string {
	apps := make([]string, 0, len(c.byApp))
	for app := range c.byApp {
		apps = append(apps, app)
	}
	return apps
}

// TriggersFor returns the trigger descriptors for an app, or ok=false if
// the app is not supported.
func (c *Catalog) TriggersFor(app string) ([]TriggerDescriptor, bool) {
	triggers, ok := c.byApp[app]
	return triggers, ok
}

// Supports reports whether app declares triggerType.
func (c *Catalog) Supports(app, triggerType string) bool {
	for _, t := range c.byApp[app] {
		if t.TriggerType == triggerType {
			return true
		}
	}
	return false
}

const configSchemaObject = `{"type":"object"}`

var defaultTriggers = map[string][]TriggerDescriptor{
	"HUBSPOT": {
		{TriggerType: "contact.creation", Description: "A contact was created.", ConfigSchema: configSchemaObject},
		{TriggerType: "contact.propertyChange", Description: "A contact property changed.", ConfigSchema: configSchemaObject},
		{TriggerType: "deal.creation", Description: "A deal was created.", ConfigSchema: configSchemaObject},
		{TriggerType: "deal.propertyChange", Description: "A deal property changed.", ConfigSchema: configSchemaObject},
	},
	"SHOPIFY": {
		{TriggerType: "orders/create", Description: "An order was created.", ConfigSchema: configSchemaObject},
		{TriggerType: "orders/updated", Description: "An order was updated.", ConfigSchema: configSchemaObject},
		{TriggerType: "products/update", Description: "A product was updated.", ConfigSchema: configSchemaObject},
		{TriggerType: "app/uninstalled", Description: "The app was uninstalled from the shop.", ConfigSchema: configSchemaObject},
	},
	"SLACK": {
		{TriggerType: "message.channels", Description: "A message was posted to a public channel.", ConfigSchema: configSchemaObject},
		{TriggerType: "reaction_added", Description: "A reaction was added to a message.", ConfigSchema: configSchemaObject},
		{TriggerType: "team_join", Description: "A new member joined the workspace.", ConfigSchema: configSchemaObject},
	},
	"GITHUB": {
		{TriggerType: "push", Description: "A push landed on the repository.", ConfigSchema: configSchemaObject},
		{TriggerType: "pull_request", Description: "A pull request was opened, updated, or closed.", ConfigSchema: configSchemaObject},
		{TriggerType: "issues", Description: "An issue was opened, updated, or closed.", ConfigSchema: configSchemaObject},
		{TriggerType: "release", Description: "A release was published.", ConfigSchema: configSchemaObject},
	},
	"GMAIL": {
		{TriggerType: "historyChanged", Description: "New mailbox history is available (message added/deleted/labeled).", ConfigSchema: configSchemaObject},
	},
}
