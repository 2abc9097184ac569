package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFilePersister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		existing string
		relative bool
	}{
		{name: "ok/screenshot", path: "navigation-1700000000000.png"},
		{name: "ok/creates_dirs", path: "artifacts/run-1/navigation.png"},
		{name: "ok/overwrites", path: "navigation.png", existing: "an older, longer screenshot"},
		{name: "ok/base_dir", path: "artifacts/navigation.png", relative: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			want := filepath.Join(dir, tt.path)

			l := &LocalFilePersister{}
			path := want
			if tt.relative {
				l.BaseDir = dir
				path = tt.path
			}
			require.Equal(t, want, l.Location(path))

			if tt.existing != "" {
				require.NoError(t, os.WriteFile(want, []byte(tt.existing), 0o600))
			}

			require.NoError(t, l.Persist(context.Background(), path, strings.NewReader("\x89PNG")))

			got, err := os.ReadFile(want)
			require.NoError(t, err)
			assert.Equal(t, "\x89PNG", string(got))
		})
	}
}

func TestLocalFilePersisterErrors(t *testing.T) {
	t.Parallel()

	t.Run("err/canceled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		l := &LocalFilePersister{BaseDir: t.TempDir()}
		err := l.Persist(ctx, "x.png", strings.NewReader("x"))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("err/dir_is_a_file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "artifacts"), nil, 0o600))

		l := &LocalFilePersister{BaseDir: dir}
		err := l.Persist(context.Background(), "artifacts/x.png", strings.NewReader("x"))
		assert.ErrorContains(t, err, "creating a local directory")
	})
}
