package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore keeps State in a YAML file next to the config.
type FileStore struct {
	path string
}

// NewFile creates a file store. An empty path uses the default location.
func NewFile(path string) *FileStore {
	if path == "" {
		path = "/var/lib/chainoiler/state.yaml"
	}
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	if err := checkVersion(s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Save writes to a temporary file and renames it over the old one, so a
// power cut leaves either the previous or the new state.
func (f *FileStore) Save(_ context.Context, s State) error {
	s.Version = Version
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: remove %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
