package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

const (
	ensurePresent = "present"
	ensureAbsent  = "absent"
)

type fileParams struct {
	Path    string  `json:"path" validate:"required,startswith=/"`
	Ensure  string  `json:"ensure" validate:"omitempty,oneof=present absent file"`
	Content *string `json:"content"`
	Mode    string  `json:"mode" validate:"omitempty,numeric,min=3,max=4"`
}

func (p *fileParams) absent() bool { return p.Ensure == ensureAbsent }

// FileHandler manages file content and permissions.
type FileHandler struct {
	logger zerolog.Logger
}

// NewFileHandler creates a file handler.
func NewFileHandler(logger zerolog.Logger) *FileHandler {
	return &FileHandler{logger: logger.With().Str("handler", "file").Logger()}
}

// Type returns "file".
func (h *FileHandler) Type() string { return "file" }

// Check compares the file on disk with the declaration.
func (h *FileHandler) Check(_ context.Context, res *engine.Resource) (bool, error) {
	p, err := h.params(res)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return p.absent(), nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p.Path, err)
	}
	if p.absent() {
		return false, nil
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", p.Path)
	}

	if p.Mode != "" {
		mode, err := parseMode(p.Mode)
		if err != nil {
			return false, err
		}
		if info.Mode().Perm() != mode {
			return false, nil
		}
	}

	if p.Content != nil {
		current, err := os.ReadFile(p.Path)
		if err != nil {
			return false, fmt.Errorf("failed to read %s: %w", p.Path, err)
		}
		if !bytes.Equal(current, []byte(*p.Content)) {
			return false, nil
		}
	}

	return true, nil
}

// Apply writes, chmods or removes the file.
func (h *FileHandler) Apply(_ context.Context, res *engine.Resource) (string, error) {
	p, err := h.params(res)
	if err != nil {
		return "", err
	}

	h.logger.Debug().Str("path", p.Path).Str("ensure", p.Ensure).Msg("Converging file")

	if p.absent() {
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to remove %s: %w", p.Path, err)
		}
		return "removed", nil
	}

	mode := os.FileMode(0o644)
	if p.Mode != "" {
		if mode, err = parseMode(p.Mode); err != nil {
			return "", err
		}
	}

	info, statErr := os.Stat(p.Path)
	exists := statErr == nil
	if exists && p.Mode == "" {
		mode = info.Mode().Perm()
	}

	if p.Content != nil {
		current, _ := os.ReadFile(p.Path)
		if !exists || !bytes.Equal(current, []byte(*p.Content)) {
			if err := writeFile(p.Path, []byte(*p.Content), mode); err != nil {
				return "", err
			}
			if !exists {
				return fmt.Sprintf("defined content as '{sha256}%s'", checksum(*p.Content)), nil
			}
			return fmt.Sprintf("content changed '{sha256}%s' to '{sha256}%s'",
				checksum(string(current)), checksum(*p.Content)), nil
		}
	} else if !exists {
		if err := writeFile(p.Path, nil, mode); err != nil {
			return "", err
		}
		return "created", nil
	}

	if p.Mode != "" && info.Mode().Perm() != mode {
		if err := os.Chmod(p.Path, mode); err != nil {
			return "", fmt.Errorf("failed to set mode on %s: %w", p.Path, err)
		}
		return fmt.Sprintf("mode changed '%04o' to '%04o'", info.Mode().Perm(), mode), nil
	}

	return "", nil
}

func (h *FileHandler) params(res *engine.Resource) (*fileParams, error) {
	p := &fileParams{Path: res.Title}
	if err := decodeParams(res, p); err != nil {
		return nil, err
	}
	if p.Ensure == "" || p.Ensure == "file" {
		p.Ensure = ensurePresent
	}
	return p, nil
}

// writeFile replaces path atomically through a temporary file in the same directory.
func writeFile(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func parseMode(s string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil || mode > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	return os.FileMode(mode).Perm(), nil
}

func checksum(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}
