// Package startup provides boot-time recovery and cleanup routines.
package startup

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/recarr/internal/repository"
)

// DefaultSweepAge is the default maximum age for abandoned scratch
// artifacts (1 hour).
const DefaultSweepAge = 1 * time.Hour

// SweepScratchDir removes entries in the shared scratch directory that
// are older than maxAge. Anything in the scratch dir is fair game: a
// file still in use is always younger than the cutoff because writers
// create their temp files immediately before writing.
//
// Returns the number of entries removed and any error encountered.
func SweepScratchDir(logger *slog.Logger, dir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("scratch directory does not exist, skipping sweep",
			"path", dir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to read scratch directory",
			"path", dir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat scratch entry",
				"path", path,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent scratch entry",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove scratch entry",
				"path", path,
				"error", err,
			)
			continue
		}

		logger.Info("removed abandoned scratch entry",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// SweepAbandonedWrites walks the artifact root and removes leftover
// dot-tmp files from interrupted atomic writes. Writers stage content
// in ".<name>.<rand>.tmp" next to the destination and rename into
// place; a crash between the two leaves the temp file behind.
//
// Returns the number of files removed and any error encountered.
func SweepAbandonedWrites(logger *slog.Logger, root string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		logger.Debug("artifact root does not exist, skipping sweep",
			"path", root,
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("failed to walk artifact tree",
				"path", path,
				"error", err,
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove abandoned temp file",
				"path", path,
				"error", err,
			)
			return nil
		}

		logger.Info("removed abandoned temp file",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
		return nil
	})

	return removed, err
}

// RecoverInterruptedTasks returns tasks still marked running from a
// previous process to the pending state so the dispatcher can claim
// them again. Without this recovery, work claimed by a crashed worker
// stays locked forever since the in-memory executor state is lost on
// restart. Call it before the dispatcher starts.
//
// Returns the number of tasks recovered and any error encountered.
func RecoverInterruptedTasks(ctx context.Context, logger *slog.Logger, tasks repository.TaskRepository, staleAfter time.Duration) (int64, error) {
	recovered, err := tasks.RecoverStale(ctx, staleAfter)
	if err != nil {
		logger.Error("failed to recover interrupted tasks",
			"error", err,
		)
		return 0, err
	}
	if recovered > 0 {
		logger.Warn("returned interrupted tasks to the queue",
			"count", recovered,
		)
	}
	return recovered, nil
}
