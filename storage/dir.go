package storage

import (
	"fmt"
	"os"
)

// Dir is a browser user data directory. A directory created by Make is
// removed by Cleanup; a directory supplied by the caller is left alone.
type Dir struct {
	Dir    string
	remove bool

	fsRemoveAll func(string) error
}

// Make creates a temporary directory under tmpDir when dir is empty, or
// adopts dir otherwise.
func (d *Dir) Make(tmpDir, dir string) error {
	if dir != "" {
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = os.MkdirTemp(tmpDir, "navcheck-chromium-*"); err != nil {
		return fmt.Errorf("creating a temporary user data directory: %w", err)
	}
	d.remove = true

	return nil
}

// Cleanup removes the directory if Make created it.
func (d *Dir) Cleanup() error {
	if !d.remove {
		return nil
	}
	rm := d.fsRemoveAll
	if rm == nil {
		rm = os.RemoveAll
	}
	if err := rm(d.Dir); err != nil {
		return fmt.Errorf("removing the user data directory %q: %w", d.Dir, err)
	}
	d.remove = false

	return nil
}
