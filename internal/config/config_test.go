package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TFL_APP_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tfl", cfg.Feed.Kind)
	assert.Equal(t, 15*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, "sqlite", cfg.Store.Kind)
	assert.Equal(t, "stopspoint_coordinates_aggloclusters_enriched", cfg.Store.ClusterTable)
	assert.Equal(t, "stopspoint_coordinates", cfg.Store.StopsTable)
	assert.Equal(t, "temporary/arrivals_most_recent_snapshot.csv", cfg.Snapshot.StagingName)
	assert.Equal(t, "latest/arrivals_most_recent_snapshot.csv", cfg.Snapshot.LatestName)
	assert.Equal(t, 5, cfg.Snapshot.PromoteAttempts)
	assert.Equal(t, 2*time.Second, cfg.Snapshot.PromoteBackoff)
	assert.Equal(t, "log", cfg.Signal.Kind)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Signal.Brokers)
	assert.Equal(t, "bus-density-image", cfg.Signal.JobName)
	assert.Equal(t, "@every 1m", cfg.Schedule.Cron)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, "Europe/London", cfg.Location().String())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BUSDENSITY_SIGNAL_KIND", "kafka")
	t.Setenv("BUSDENSITY_SIGNAL_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BUSDENSITY_SNAPSHOT_PROMOTE_BACKOFF", "250ms")
	t.Setenv("BUSDENSITY_API_PORT", "9000")
	t.Setenv("TFL_APP_KEY", "from-legacy-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "kafka", cfg.Signal.Kind)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Signal.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Snapshot.PromoteBackoff)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "from-legacy-env", cfg.Feed.TfL.AppKey)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
feed:
  kind: gtfsrt
  gtfsrt:
    url: https://example.test/tripupdates.pb
store:
  kind: postgres
  postgres_url: postgres://localhost/warehouse
snapshot:
  promote_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gtfsrt", cfg.Feed.Kind)
	assert.Equal(t, "https://example.test/tripupdates.pb", cfg.Feed.GTFSRT.URL)
	assert.Equal(t, "postgres", cfg.Store.Kind)
	assert.Equal(t, 3, cfg.Snapshot.PromoteAttempts)
	// untouched keys keep their defaults
	assert.Equal(t, "data/snapshots", cfg.Snapshot.Dir)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown feed", func(c *Config) { c.Feed.Kind = "siri" }},
		{"gtfsrt without url", func(c *Config) { c.Feed.Kind = "gtfsrt"; c.Feed.GTFSRT.URL = "" }},
		{"postgres without url", func(c *Config) { c.Store.Kind = "postgres"; c.Store.PostgresURL = "" }},
		{"zero promote attempts", func(c *Config) { c.Snapshot.PromoteAttempts = 0 }},
		{"staging equals latest", func(c *Config) { c.Snapshot.LatestName = c.Snapshot.StagingName }},
		{"kafka without brokers", func(c *Config) { c.Signal.Kind = "kafka"; c.Signal.Brokers = nil }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}
