package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/internal/ml"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "app:\n  name: cinesense\n"))
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Data.Source)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 15*time.Minute, cfg.Recommendation.CacheTTL)
	assert.Equal(t, 20, cfg.Recommendation.PopularityMinRatings)
	assert.Equal(t, 3, cfg.Snapshot.Keep)
	assert.Equal(t, ml.DefaultRegistryConfig(), cfg.Models.Registry())
}

func TestLoadFile_Overrides(t *testing.T) {
	path := writeConfig(t, `
data:
  source: postgres
database:
  url: postgres://localhost/cinesense
models:
  als:
    factors: 16
  hybrid:
    collaborative: 0.5
    content: 0.25
    demographic: 0.25
kafka:
  enabled: true
  brokers: ["kafka:9092"]
`)

	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Data.Source)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)

	reg := cfg.Models.Registry()
	assert.Equal(t, 16, reg.ALS.Factors)
	assert.Equal(t, ml.HybridWeights{Collaborative: 0.5, Content: 0.25, Demographic: 0.25}, reg.Hybrid)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "weights do not sum to one",
			content: "models:\n  hybrid:\n    collaborative: 0.4\n    content: 0.3\n    demographic: 0.2\n",
		},
		{
			name:    "unknown data source",
			content: "data:\n  source: parquet\n",
		},
		{
			name:    "zero factors",
			content: "models:\n  als:\n    factors: 0\n",
		},
		{
			name:    "zero alpha",
			content: "models:\n  als:\n    alpha: 0\n",
		},
		{
			name:    "bad log format",
			content: "logging:\n  format: xml\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
