package stores

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const yamlExt = ".yaml"

// YAMLStore keeps one YAML document per key under a directory.
type YAMLStore[T any] struct {
	mu  sync.RWMutex
	dir string
}

// NewYAMLStore creates a YAML store rooted at dir. The directory is created on first write.
func NewYAMLStore[T any](dir string) (*YAMLStore[T], error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	return &YAMLStore[T]{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *YAMLStore[T]) Dir() string {
	return s.dir
}

// Location returns the file path used for key.
func (s *YAMLStore[T]) Location(key string) string {
	return filepath.Join(s.dir, key+yamlExt)
}

// Get reads and decodes the document stored under key.
func (s *YAMLStore[T]) Get(_ context.Context, key string) (T, error) {
	var zero T
	if err := ValidateKey(key); err != nil {
		return zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Location(key))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var value T
	if err := yaml.Unmarshal(data, &value); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return value, nil
}

// Put encodes value and writes it atomically under key.
func (s *YAMLStore[T]) Put(_ context.Context, key string, value T) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}

	if err := os.Rename(tmpName, s.Location(key)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

// Delete removes the document stored under key.
func (s *YAMLStore[T]) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Location(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in sorted order.
func (s *YAMLStore[T]) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, yamlExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, yamlExt))
	}
	sort.Strings(keys)
	return keys, nil
}
