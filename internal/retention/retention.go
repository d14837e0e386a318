// Package retention runs the periodic deletion passes: auto-expire due
// recordings, clean up the media files of soft-deleted ones, hard-delete
// rows whose grace window ended, and garbage-collect expired refresh
// tokens and terminal tasks. Each recording is handled in its own
// transaction so one bad row never sinks a pass.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/quota"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/resolve"
)

// passBatchSize bounds one listing query inside a pass.
const passBatchSize = 100

// DefaultTaskRetention keeps terminal task rows a week when the config
// leaves it unset.
const DefaultTaskRetention = 7 * 24 * time.Hour

// Controller executes the retention passes.
type Controller struct {
	recordings  repository.RecordingRepository
	users       repository.UserRepository
	credentials repository.CredentialRepository
	tasks       repository.TaskRepository
	quota       *quota.Service
	storage     quota.StorageCalculator
	logger      *slog.Logger

	taskRetention time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewController creates a retention controller.
func NewController(
	recordings repository.RecordingRepository,
	users repository.UserRepository,
	credentials repository.CredentialRepository,
	tasks repository.TaskRepository,
	qs *quota.Service,
	storage quota.StorageCalculator,
	taskRetention time.Duration,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if taskRetention <= 0 {
		taskRetention = DefaultTaskRetention
	}
	return &Controller{
		recordings:    recordings,
		users:         users,
		credentials:   credentials,
		tasks:         tasks,
		quota:         qs,
		storage:       storage,
		logger:        logger,
		taskRetention: taskRetention,
		now:           time.Now,
	}
}

// AutoExpire soft-deletes active recordings whose expire_at has passed,
// using each owner's configured deletion windows. Returns how many
// recordings expired.
func (c *Controller) AutoExpire(ctx context.Context) (int, error) {
	now := c.now().UTC()
	windows := newWindowCache(c.users)
	expired := 0

	for {
		batch, err := c.recordings.ListExpirable(ctx, now, passBatchSize)
		if err != nil {
			return expired, err
		}
		if len(batch) == 0 {
			return expired, nil
		}

		progressed := false
		for _, rec := range batch {
			w := windows.forUser(ctx, rec.UserID)
			if err := c.recordings.AutoExpire(ctx, rec.ID, rec.UserID, w); err != nil {
				c.logger.Error("auto-expire failed",
					slog.Int64("recording_id", rec.ID),
					slog.Any("error", err),
				)
				continue
			}
			expired++
			progressed = true
		}
		if !progressed {
			// Every row in the batch failed; retrying the same listing
			// would spin.
			return expired, nil
		}
		if len(batch) < passBatchSize {
			return expired, nil
		}
	}
}

// CleanupFiles removes the media of soft-deleted recordings whose
// cleanup time has come. The repository re-checks the delete state
// inside its transaction, so a recording restored between the scan and
// the cleanup is left alone. Returns recordings cleaned and bytes freed.
func (c *Controller) CleanupFiles(ctx context.Context) (int, int64, error) {
	now := c.now().UTC()
	cleaned := 0
	var freed int64
	touched := make(map[models.ULID]bool)

	for {
		batch, err := c.recordings.ListCleanupDue(ctx, now, passBatchSize)
		if err != nil {
			return cleaned, freed, err
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, rec := range batch {
			bytes, err := c.recordings.CleanupRecordingFiles(ctx, rec.ID, rec.UserID)
			if err != nil {
				c.logger.Error("file cleanup failed",
					slog.Int64("recording_id", rec.ID),
					slog.Any("error", err),
				)
				continue
			}
			cleaned++
			freed += bytes
			touched[rec.UserID] = true
			progressed = true
		}
		if !progressed || len(batch) < passBatchSize {
			break
		}
	}

	c.refreshStorage(ctx, touched)
	return cleaned, freed, nil
}

// HardDelete removes recordings whose hard-delete time has come,
// together with any remaining artifacts. Returns how many rows were
// deleted.
func (c *Controller) HardDelete(ctx context.Context) (int, error) {
	now := c.now().UTC()
	deleted := 0
	touched := make(map[models.ULID]bool)

	for {
		batch, err := c.recordings.ListHardDeleteDue(ctx, now, passBatchSize)
		if err != nil {
			return deleted, err
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, rec := range batch {
			if err := c.recordings.Delete(ctx, rec.ID, rec.UserID); err != nil {
				c.logger.Error("hard delete failed",
					slog.Int64("recording_id", rec.ID),
					slog.Any("error", err),
				)
				continue
			}
			deleted++
			touched[rec.UserID] = true
			progressed = true
		}
		if !progressed || len(batch) < passBatchSize {
			break
		}
	}

	c.refreshStorage(ctx, touched)
	return deleted, nil
}

// TokenGC deletes expired refresh-token rows.
func (c *Controller) TokenGC(ctx context.Context) (int64, error) {
	return c.credentials.DeleteExpiredTokens(ctx, c.now().UTC())
}

// PruneTasks deletes terminal tasks and task history older than the
// retention window.
func (c *Controller) PruneTasks(ctx context.Context) (int64, int64, error) {
	cutoff := c.now().UTC().Add(-c.taskRetention)
	pruned, err := c.tasks.Prune(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	history, err := c.tasks.PruneHistory(ctx, cutoff)
	if err != nil {
		return pruned, 0, err
	}
	return pruned, history, nil
}

// refreshStorage recomputes the storage accounting of every user whose
// artifacts were removed. Best effort: accounting catches up on the next
// artifact write either way.
func (c *Controller) refreshStorage(ctx context.Context, userIDs map[models.ULID]bool) {
	if c.quota == nil || c.storage == nil {
		return
	}
	for id := range userIDs {
		user, err := c.users.GetByID(ctx, id)
		if err != nil || user == nil {
			continue
		}
		if _, err := c.quota.AccountStorage(ctx, user, c.storage); err != nil {
			c.logger.Warn("storage accounting not refreshed",
				slog.String("user_id", id.String()),
				slog.Any("error", err),
			)
		}
	}
}

// windowCache resolves per-user deletion windows once per pass.
type windowCache struct {
	users repository.UserRepository
	cache map[models.ULID]repository.RetentionWindows
}

func newWindowCache(users repository.UserRepository) *windowCache {
	return &windowCache{users: users, cache: make(map[models.ULID]repository.RetentionWindows)}
}

func (w *windowCache) forUser(ctx context.Context, userID models.ULID) repository.RetentionWindows {
	if cached, ok := w.cache[userID]; ok {
		return cached
	}

	var rc *resolve.RetentionConfig
	if cfg, err := w.users.GetConfig(ctx, userID); err == nil && cfg != nil && cfg.Processing != nil {
		rc = cfg.Processing.Retention
	}
	windows := repository.RetentionWindows{
		SoftDeleteDays: rc.SoftDeleteDaysValue(),
		HardDeleteDays: rc.HardDeleteDaysValue(),
	}
	w.cache[userID] = windows
	return windows
}
