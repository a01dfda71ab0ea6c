package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_Nested(t *testing.T) {
	m := map[string]any{
		"preproc": map[string]any{
			"sample_rate": 8000,
			"window":      map[string]any{"size": 400},
		},
		"log_level": "info",
	}
	got := Flatten(m)
	assert.Equal(t, map[string]any{
		"preproc.sample_rate": 8000,
		"preproc.window.size": 400,
		"log_level":           "info",
	}, got)
}

func TestFlatten_OpaqueValuesKept(t *testing.T) {
	blob := []float32{1, 2}
	got := Flatten(map[string]any{"a": blob, "b": nil})
	assert.Equal(t, blob, got["a"])
	assert.Contains(t, got, "b")
}

func TestUnflatten_RoundTrip(t *testing.T) {
	flat := map[string]any{
		"session.lane_depth": 3.0,
		"session.quiet":      true,
		"metrics.addr":       ":1",
		"log_level":          "debug",
	}
	nested := Unflatten(flat)
	session, ok := nested["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, session["lane_depth"])
	assert.Equal(t, flat, Flatten(nested))
}

func TestUnflatten_ScalarReplacedByMap(t *testing.T) {
	nested := Unflatten(map[string]any{"a": 1, "a.b": 2})
	// whichever key is applied last wins; the result is never half merged
	flat := Flatten(nested)
	assert.Len(t, flat, 1)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "session.lane_depth")
	assert.Contains(t, keys, "metrics.addr")
	assert.IsIncreasing(t, keys)
}
