// Package snapshot stages a filtered copy of the source tree so that
// sessions keep running the code as it was at dispatch time.
package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/otiai10/copy"
	"go.uber.org/zap"
)

// Snapshotter copies SourceRoot into a fresh directory under DestRoot.
type Snapshotter struct {
	logger *zap.Logger
	cfg    config.SnapshotSettings
	now    func() time.Time
}

// New creates a snapshotter for the given settings.
func New(cfg config.SnapshotSettings, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{logger: logger, cfg: cfg, now: time.Now}
}

// DirName returns the snapshot directory name for a run started at t.
func DirName(t time.Time, runID string) string {
	short := strings.ReplaceAll(runID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return t.Format("20060102-150405") + "_" + short
}

// Take copies the source tree and returns the absolute snapshot directory.
// On failure nothing is left behind and the error wraps models.ErrSnapshot.
func (s *Snapshotter) Take(ctx context.Context, runID string) (string, error) {
	src, err := filepath.Abs(s.cfg.SourceRoot)
	if err != nil {
		return "", fmt.Errorf("%w: resolving source root: %v", models.ErrSnapshot, err)
	}
	destRoot, err := filepath.Abs(s.cfg.DestRoot)
	if err != nil {
		return "", fmt.Errorf("%w: resolving destination root: %v", models.ErrSnapshot, err)
	}
	if info, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: source root: %v", models.ErrSnapshot, err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("%w: source root %s is not a directory", models.ErrSnapshot, src)
	}

	dest := filepath.Join(destRoot, DirName(s.now(), runID))
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%w: destination %s already exists", models.ErrSnapshot, dest)
	}
	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return "", fmt.Errorf("%w: creating destination root: %v", models.ErrSnapshot, err)
	}

	s.logger.Info("Taking source snapshot", zap.String("source", src), zap.String("destination", dest))
	startTime := time.Now()

	f := newFilter(s.cfg.Include, s.cfg.Exclude)
	var copied int
	opts := copy.Options{
		Skip: func(p string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if p == destRoot {
				return true, nil
			}
			rel, err := filepath.Rel(src, p)
			if err != nil {
				return false, err
			}
			if rel == "." {
				return false, nil
			}
			info, err := os.Lstat(p)
			if err != nil {
				return false, err
			}
			skip := f.skip(filepath.ToSlash(rel), info.IsDir())
			if !skip && !info.IsDir() {
				copied++
			}
			return skip, nil
		},
	}

	if err := copy.Copy(src, dest, opts); err != nil {
		s.cleanup(dest)
		return "", fmt.Errorf("%w: copying %s: %v", models.ErrSnapshot, src, err)
	}
	if err := pruneEmptyDirs(dest); err != nil {
		s.cleanup(dest)
		return "", fmt.Errorf("%w: pruning %s: %v", models.ErrSnapshot, dest, err)
	}

	s.logger.Info("Source snapshot completed",
		zap.String("destination", dest),
		zap.Int("files", copied),
		zap.Duration("duration", time.Since(startTime)),
	)
	return dest, nil
}

func (s *Snapshotter) cleanup(dest string) {
	if err := os.RemoveAll(dest); err != nil {
		s.logger.Warn("Failed to remove partial snapshot", zap.String("destination", dest), zap.Error(err))
	}
}

// filter decides which paths are copied. Patterns use path.Match syntax and
// are tried against the slash-separated relative path and the base name. A
// trailing "/" restricts a pattern to directories.
type filter struct {
	includeFiles, includeDirs []string
	excludeFiles, excludeDirs []string
}

func newFilter(include, exclude []string) filter {
	var f filter
	f.includeFiles, f.includeDirs = splitPatterns(include)
	f.excludeFiles, f.excludeDirs = splitPatterns(exclude)
	return f
}

func splitPatterns(patterns []string) (files, dirs []string) {
	for _, p := range patterns {
		if d, ok := strings.CutSuffix(p, "/"); ok {
			dirs = append(dirs, d)
		} else {
			files = append(files, p)
		}
	}
	return files, dirs
}

// skip reports whether rel should be left out. Includes win over excludes.
// Directories are only pruned by directory patterns so that included files
// below them are still reached.
func (f filter) skip(rel string, isDir bool) bool {
	if isDir {
		return !matchAny(f.includeDirs, rel) && matchAny(f.excludeDirs, rel)
	}
	if matchAny(f.includeFiles, rel) {
		return false
	}
	return matchAny(f.excludeFiles, rel)
}

func matchAny(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// pruneEmptyDirs removes directories left empty by the filter, deepest first.
// root itself is kept.
func pruneEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return err
			}
		}
	}
	return nil
}
