package retention

import (
	"context"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/queue"
)

// Register installs the maintenance task handlers on the dispatcher. All
// five run on the maintenance queue, fired by the scheduler's cron beat.
func (c *Controller) Register(d *queue.Dispatcher) {
	d.RegisterFunc(models.TaskRetentionExpire, c.handleExpire)
	d.RegisterFunc(models.TaskRetentionCleanup, c.handleCleanup)
	d.RegisterFunc(models.TaskRetentionHardDelete, c.handleHardDelete)
	d.RegisterFunc(models.TaskTokenGC, c.handleTokenGC)
	d.RegisterFunc(models.TaskPrune, c.handleTaskPrune)
}

func (c *Controller) handleExpire(ctx context.Context, _ *models.Task) (models.JSONMap, error) {
	expired, err := c.AutoExpire(ctx)
	if err != nil {
		return nil, err
	}
	return models.JSONMap{"expired": expired}, nil
}

func (c *Controller) handleCleanup(ctx context.Context, _ *models.Task) (models.JSONMap, error) {
	cleaned, freed, err := c.CleanupFiles(ctx)
	if err != nil {
		return nil, err
	}
	return models.JSONMap{"cleaned": cleaned, "bytes_freed": freed}, nil
}

func (c *Controller) handleHardDelete(ctx context.Context, _ *models.Task) (models.JSONMap, error) {
	deleted, err := c.HardDelete(ctx)
	if err != nil {
		return nil, err
	}
	return models.JSONMap{"deleted": deleted}, nil
}

func (c *Controller) handleTokenGC(ctx context.Context, _ *models.Task) (models.JSONMap, error) {
	deleted, err := c.TokenGC(ctx)
	if err != nil {
		return nil, err
	}
	return models.JSONMap{"tokens_deleted": deleted}, nil
}

func (c *Controller) handleTaskPrune(ctx context.Context, _ *models.Task) (models.JSONMap, error) {
	tasks, history, err := c.PruneTasks(ctx)
	if err != nil {
		return nil, err
	}
	return models.JSONMap{"tasks_pruned": tasks, "history_pruned": history}, nil
}
