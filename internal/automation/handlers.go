package automation

import (
	"context"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// payloadJobID pulls the automation job id out of a task payload.
func payloadJobID(m models.JSONMap) (models.ULID, error) {
	raw, _ := m["automation_id"].(string)
	if raw == "" {
		return models.ULID{}, recerr.New(recerr.KindTerminal, "automation task has no job id")
	}
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, recerr.Wrap(recerr.KindTerminal, err, "bad automation job id")
	}
	return id, nil
}

// TaskPayload builds the payload of an automation task.
func TaskPayload(jobID models.ULID) models.JSONMap {
	return models.JSONMap{"automation_id": jobID.String()}
}

// Register installs the automation task handlers on the dispatcher.
func (r *Runner) Register(d *queue.Dispatcher) {
	d.RegisterFunc(models.TaskAutomationRun, r.handleRun)
	d.RegisterFunc(models.TaskAutomationDryRun, r.handleDryRun)
}

func (r *Runner) handleRun(ctx context.Context, task *models.Task) (models.JSONMap, error) {
	jobID, err := payloadJobID(task.Payload)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, jobID, task.UserID)
	if err != nil {
		return nil, err
	}
	return res.Map(), nil
}

func (r *Runner) handleDryRun(ctx context.Context, task *models.Task) (models.JSONMap, error) {
	jobID, err := payloadJobID(task.Payload)
	if err != nil {
		return nil, err
	}
	res, err := r.DryRun(ctx, jobID, task.UserID)
	if err != nil {
		return nil, err
	}
	return res.Map(), nil
}
