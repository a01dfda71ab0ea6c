package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(tempConfigPath(t, "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Session.LaneDepth)
	assert.Equal(t, int64(4), cfg.Session.MaxConcurrent)
	assert.Zero(t, cfg.ShutdownTimeout())
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := tempConfigPath(t, name)

			original := Default()
			original.LogLevel = "debug"
			original.Quiet = true
			original.Session.StreamDepth = 8
			original.Session.PullTimeoutMs = 250
			original.Metrics.Addr = ":9100"

			require.NoError(t, Save(path, original))
			_, err := os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err), "temp file left behind")

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, original, loaded)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := tempConfigPath(t, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nsession:\n  lane_depth: 3\n"), 0644))

	t.Setenv("GODEC_LANE_DEPTH", "9")
	t.Setenv("GODEC_METRICS_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9, cfg.Session.LaneDepth)
	assert.Equal(t, "127.0.0.1:9000", cfg.Metrics.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"bad json", "c.json", "{"},
		{"bad level", "c.json", `{"log_level":"loud"}`},
		{"zero lanes", "c.yaml", "session:\n  lane_depth: 0\n"},
		{"negative depth", "c.yaml", "session:\n  stream_depth: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tempConfigPath(t, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestGetSetValue(t *testing.T) {
	path := tempConfigPath(t, "config.json")

	v, err := GetValue(path, "session.lane_depth")
	require.NoError(t, err)
	assert.Equal(t, 64.0, v)

	require.NoError(t, SetValue(path, "session.lane_depth", "12"))
	require.NoError(t, SetValue(path, "quiet", "true"))
	require.NoError(t, SetValue(path, "metrics.addr", ":2112"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Session.LaneDepth)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, ":2112", cfg.Metrics.Addr)

	assert.Error(t, SetValue(path, "nope", "1"))
	assert.Error(t, SetValue(path, "quiet", "maybe"))
	assert.Error(t, SetValue(path, "session.lane_depth", "1.5"))
	assert.Error(t, SetValue(path, "session.lane_depth", "0"))
	_, err = GetValue(path, "nope")
	assert.Error(t, err)
}

func TestSetValue_IgnoresEnv(t *testing.T) {
	path := tempConfigPath(t, "config.json")
	t.Setenv("GODEC_LOG_LEVEL", "error")

	require.NoError(t, SetValue(path, "quiet", "true"))
	v, err := GetValue(path, "log_level")
	require.NoError(t, err)
	assert.Equal(t, "info", v)
}
