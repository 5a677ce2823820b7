package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 5, 0, time.UTC)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func newTestSnapshotter(src, dest string) *Snapshotter {
	cfg := config.Default().Snapshot
	cfg.Enabled = true
	cfg.SourceRoot = src
	cfg.DestRoot = dest
	s := New(cfg, zap.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestDirName(t *testing.T) {
	assert.Equal(t, "20261019-093005_0f8e2b1c", DirName(fixedNow, "0f8e2b1c-aaaa-bbbb-cccc-000000000000"))
	assert.Equal(t, "20261019-093005_abc", DirName(fixedNow, "abc"))
}

func TestTake_FiltersAndPrunes(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"training.py":           "print('train')",
		"README.md":             "docs",
		"configs/base.yaml":     "lr: 0.1",
		"configs/notes.md":      "notes",
		".git/config":           "[core]",
		"logs/run.txt":          "old log",
		"data/weights.bin":      "binary",
		"pkg/model.py":          "class M: pass",
		"pkg/__pycache__/m.pyc": "bytecode",
		"scripts/run_all.sh":    "#!/bin/sh",
		"requirements.txt":      "torch",
	})

	dest := filepath.Join(t.TempDir(), "snaps")
	dir, err := newTestSnapshotter(src, dest).Take(context.Background(), "0f8e2b1c-aaaa")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "20261019-093005_0f8e2b1c"), dir)

	for _, kept := range []string{"training.py", "configs/base.yaml", "pkg/model.py", "scripts/run_all.sh", "requirements.txt"} {
		assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(kept)))
	}
	for _, dropped := range []string{"README.md", "configs/notes.md", ".git", "logs", "data", "pkg/__pycache__"} {
		assert.NoFileExists(t, filepath.Join(dir, filepath.FromSlash(dropped)))
		assert.NoDirExists(t, filepath.Join(dir, filepath.FromSlash(dropped)))
	}

	content, err := os.ReadFile(filepath.Join(dir, "training.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('train')", string(content))
}

func TestTake_IncludeBeatsExclude(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"keep.cfg":     "a",
		"drop.cfg":     "b",
		"nested/x.cfg": "c",
	})

	s := newTestSnapshotter(src, filepath.Join(t.TempDir(), "snaps"))
	s.cfg.Include = []string{"keep.cfg", "nested/*"}
	s.cfg.Exclude = []string{"*.cfg"}

	dir, err := s.Take(context.Background(), "run")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "keep.cfg"))
	assert.FileExists(t, filepath.Join(dir, "nested", "x.cfg"))
	assert.NoFileExists(t, filepath.Join(dir, "drop.cfg"))
}

func TestTake_DestinationInsideSource(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"training.py": "x"})

	dest := filepath.Join(src, "snaps")
	dir, err := newTestSnapshotter(src, dest).Take(context.Background(), "run")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "training.py"))
	assert.NoDirExists(t, filepath.Join(dir, "snaps"))
}

func TestTake_Failures(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		s := newTestSnapshotter(filepath.Join(t.TempDir(), "nope"), t.TempDir())
		_, err := s.Take(context.Background(), "run")
		assert.ErrorIs(t, err, models.ErrSnapshot)
	})

	t.Run("cancelled copy leaves nothing behind", func(t *testing.T) {
		src := t.TempDir()
		writeTree(t, src, map[string]string{"a.py": "x", "b/c.py": "y"})
		dest := filepath.Join(t.TempDir(), "snaps")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestSnapshotter(src, dest).Take(ctx, "run")
		assert.ErrorIs(t, err, models.ErrSnapshot)
		assert.NoDirExists(t, filepath.Join(dest, DirName(fixedNow, "run")))
	})

	t.Run("existing destination", func(t *testing.T) {
		src := t.TempDir()
		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, DirName(fixedNow, "run")), 0755))

		_, err := newTestSnapshotter(src, dest).Take(context.Background(), "run")
		assert.ErrorIs(t, err, models.ErrSnapshot)
	})
}

func TestFilter(t *testing.T) {
	f := newFilter([]string{"*.py"}, []string{".git/", "*"})

	assert.False(t, f.skip("train.py", false))
	assert.False(t, f.skip("pkg/deep/model.py", false))
	assert.True(t, f.skip("README.md", false))
	assert.True(t, f.skip(".git", true))
	assert.True(t, f.skip("sub/.git", true))
	assert.False(t, f.skip("pkg", true), "plain patterns never prune directories")
}
