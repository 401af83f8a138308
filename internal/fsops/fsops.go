// Package fsops defines the filesystem operations the engine relies on. The
// OS implementation backs real runs; Memory is an atomic in-process store for
// exercising the sentinel protocol in tests.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultPollInterval is used by BlockUntilDeleted when no interval is given.
const DefaultPollInterval = time.Second

// FileOps is the filesystem contract used by the engine.
type FileOps interface {
	Exists(path string) (bool, error)
	// CreateDirectories creates every parent directory of the file at path.
	CreateDirectories(path string) error
	// CreateEmptyFile creates path if it is absent. When the file already
	// exists the returned error wraps fs.ErrExist.
	CreateEmptyFile(path string) error
	DeleteFile(path string) error
	// BlockUntilDeleted returns once path no longer exists or ctx is done.
	BlockUntilDeleted(ctx context.Context, path string, poll time.Duration) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// OS implements FileOps on the local filesystem.
type OS struct{}

// Exists implements FileOps.Exists.
func (OS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("fsops: stat %s: %w", path, err)
}

// CreateDirectories implements FileOps.CreateDirectories.
func (OS) CreateDirectories(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsops: create directories for %s: %w", path, err)
	}
	return nil
}

// CreateEmptyFile implements FileOps.CreateEmptyFile with O_EXCL, which is
// atomic on local filesystems.
func (OS) CreateEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fsops: create %s: %w", path, err)
	}
	return f.Close()
}

// DeleteFile implements FileOps.DeleteFile. Deleting a missing file is not an error.
func (OS) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fsops: delete %s: %w", path, err)
	}
	return nil
}

// BlockUntilDeleted implements FileOps.BlockUntilDeleted by polling.
func (o OS) BlockUntilDeleted(ctx context.Context, path string, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		exists, err := o.Exists(path)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

// ReadFile implements FileOps.ReadFile.
func (OS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fsops: read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile implements FileOps.WriteFile, creating parent directories.
func (o OS) WriteFile(path string, data []byte) error {
	if err := o.CreateDirectories(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fsops: write %s: %w", path, err)
	}
	return nil
}
