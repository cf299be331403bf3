package registry

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactStore persists serialized model bytes. One artifact per
// (account, family, run) tuple.
type ArtifactStore interface {
	Save(account, family, runID string, data []byte) (ref string, err error)
	Load(ref string) ([]byte, error)
	Remove(ref string) error
	RemoveAll(account, family string) (removed []string, err error)
}

// FSArtifactStore writes artifacts to the local filesystem under
// <dir>/<account>/<family>/<run_id>.json.
type FSArtifactStore struct {
	dir string
}

func NewFSArtifactStore(dir string) *FSArtifactStore {
	return &FSArtifactStore{dir: dir}
}

func (s *FSArtifactStore) Save(account, family, runID string, data []byte) (string, error) {
	dir := filepath.Join(s.dir, account, family)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	ref := filepath.Join(dir, runID+".json")
	if err := os.WriteFile(ref, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return ref, nil
}

func (s *FSArtifactStore) Load(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *FSArtifactStore) Remove(ref string) error {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func (s *FSArtifactStore) RemoveAll(account, family string) ([]string, error) {
	dir := filepath.Join(s.dir, account, family)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var removed []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ref := filepath.Join(dir, e.Name())
		if err := os.Remove(ref); err != nil {
			return removed, fmt.Errorf("remove artifact: %w", err)
		}
		removed = append(removed, ref)
	}
	return removed, nil
}
