package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSBlobs is a filesystem-backed blob store for derived artifacts.
// The location handle it returns is the absolute file path.
type FSBlobs struct {
	Dir string
}

// NewFSBlobs creates the artifact directory if needed.
func NewFSBlobs(dir string) (*FSBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
	}
	return &FSBlobs{Dir: dir}, nil
}

// Put writes the artifact and returns its location handle. The name is
// sanitized to a single path element; writes go through a temp file and
// rename so a crashed write never leaves a half-written artifact behind.
func (b *FSBlobs) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	dest := filepath.Join(b.Dir, name)
	tmp, err := os.CreateTemp(b.Dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create artifact temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact %s: %w", name, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize artifact %s: %w", name, err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return dest, nil
	}
	return abs, nil
}
