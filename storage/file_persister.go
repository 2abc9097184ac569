// Package storage holds the on-disk pieces of a run: browser user data
// directories and persisted artifacts such as failure screenshots.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePersister persists artifacts. It hides where and how the bytes end up.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister persists files to the local disk. Relative paths are
// resolved against BaseDir when it is set.
type LocalFilePersister struct {
	BaseDir string
}

// Persist writes data to path, creating missing directories and truncating
// an existing file.
func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persisting %q: %w", path, err)
	}

	cp := l.resolve(path)
	dir := filepath.Dir(cp)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	f, err := os.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating a local file %q: %w", cp, err)
	}
	defer func() {
		// Only return the close error if there isn't already an existing error.
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing the local file %q: %w", cp, cerr)
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		return fmt.Errorf("writing the local file %q: %w", cp, err)
	}

	return nil
}

// Location returns where path ends up on disk.
func (l *LocalFilePersister) Location(path string) string {
	return l.resolve(path)
}

func (l *LocalFilePersister) resolve(path string) string {
	cp := filepath.Clean(path)
	if l.BaseDir == "" || filepath.IsAbs(cp) {
		return cp
	}
	return filepath.Join(l.BaseDir, cp)
}
