package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	in := samplePayload{Name: "baseline", Values: []float64{1.5, -2, 0}}

	require.NoError(t, Save(path, "pattern_scorer", 1, in))

	var out samplePayload
	require.NoError(t, Load(path, "pattern_scorer", 1, &out))
	assert.Equal(t, in, out)
}

func TestLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json")

	var out samplePayload
	err := Load(path, "pattern_scorer", 1, &out)
	require.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), path)
}

func TestLoadCorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var out samplePayload
	assert.ErrorIs(t, Load(path, "pattern_scorer", 1, &out), ErrCorrupt)
}

func TestLoadWrongComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, Save(path, "anomaly_model", 1, samplePayload{}))

	var out samplePayload
	err := Load(path, "pattern_scorer", 1, &out)
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "anomaly_model")
}

func TestLoadWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, Save(path, "pattern_scorer", 2, samplePayload{}))

	var out samplePayload
	err := Load(path, "pattern_scorer", 1, &out)
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "schema version 2")
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, Save(path, "pattern_scorer", 1, samplePayload{Name: "first"}))
	require.NoError(t, Save(path, "pattern_scorer", 1, samplePayload{Name: "second"}))

	var out samplePayload
	require.NoError(t, Load(path, "pattern_scorer", 1, &out))
	assert.Equal(t, "second", out.Name)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "model.json")
	require.NoError(t, Save(path, "engine", 1, samplePayload{}))

	var out samplePayload
	assert.NoError(t, Load(path, "engine", 1, &out))
}
