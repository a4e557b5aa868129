// Package artifact reads and writes versioned model artifacts. Every
// fitted component persists as a JSON envelope naming the component and
// its schema version, so a missing file, a truncated write, or an
// artifact from a different component or schema is detected up front
// instead of failing mid-deserialization.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrMissing marks a load from a path with no artifact file.
	ErrMissing = errors.New("artifact missing")

	// ErrCorrupt marks an artifact that exists but cannot be used:
	// unparsable JSON, wrong component, or wrong schema version.
	ErrCorrupt = errors.New("artifact corrupt")
)

type envelope struct {
	Component string          `json:"component"`
	Version   int             `json:"version"`
	SavedAt   time.Time       `json:"savedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Save writes payload as a versioned artifact at path. The write goes
// through a temp file in the same directory and a rename, so readers
// never observe a partial artifact.
func Save(path, component string, version int, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", component, err)
	}
	data, err := json.Marshal(envelope{
		Component: component,
		Version:   version,
		SavedAt:   time.Now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", component, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s artifact: %w", component, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish %s artifact: %w", component, err)
	}
	return nil
}

// Load reads the artifact at path into payload, verifying component and
// schema version first. Returns an error wrapping ErrMissing when the
// file does not exist and ErrCorrupt when it cannot be used.
func Load(path, component string, version int, payload any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return fmt.Errorf("read artifact %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if env.Component != component {
		return fmt.Errorf("%w: %s: component %q, want %q", ErrCorrupt, path, env.Component, component)
	}
	if env.Version != version {
		return fmt.Errorf("%w: %s: schema version %d, want %d", ErrCorrupt, path, env.Version, version)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("%w: %s: payload: %v", ErrCorrupt, path, err)
	}
	return nil
}
