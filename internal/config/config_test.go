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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/triggers"
master_key: "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE="
`)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, float64(200), cfg.GlobalRate.Capacity)
	require.Equal(t, float64(100), cfg.GlobalRate.Refill)
	require.Equal(t, float64(20), cfg.TriggerRate.Capacity)
	require.Equal(t, float64(10), cfg.TriggerRate.Refill)
	require.Equal(t, 5*time.Minute, cfg.ReplaySkew)
	require.Equal(t, 30*24*time.Hour, cfg.EventRetention)
	require.Equal(t, "0 */6 * * *", cfg.Scheduler.RenewExpiring)
	require.Equal(t, "* * * * *", cfg.Scheduler.UpdateGauges)
	require.False(t, cfg.AllowLegacyHubSpotSignatures)
}

func TestLoadRequiresDatabaseDSN(t *testing.T) {
	path := writeConfig(t, `master_key: "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE="`)
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresMasterKey(t *testing.T) {
	path := writeConfig(t, `database: {dsn: "postgres://localhost/triggers"}`)
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
}

func TestEnvVarUsedWhenYAMLUnset(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/triggers"
master_key: "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE="
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("REDIS_URL", "redis://example:6380/2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "redis://example:6380/2", cfg.RedisURL)
}
