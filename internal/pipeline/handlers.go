package pipeline

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/pipeline/steps"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// stepFn is the shape every step executor shares.
type stepFn func(ctx context.Context, req steps.Request) (models.JSONMap, error)

// stepHandler wraps a step executor into a queue handler: decode the
// chain payload, run the step, then either advance the chain or apply
// the failure policy. The returned error drives the queue's settle
// logic, so retryable errors pass through untouched until the task's
// attempts run out.
func (o *Orchestrator) stepHandler(taskType models.TaskType, fn stepFn) queue.HandlerFunc {
	return func(ctx context.Context, task *models.Task) (models.JSONMap, error) {
		p, err := DecodePayload(task.Payload)
		if err != nil {
			return nil, err
		}

		result, err := fn(ctx, p.request())
		if err == nil {
			if aerr := o.afterSuccess(ctx, p); aerr != nil {
				// The step's own work is durably done and idempotent, so
				// retrying the task to redo the advance is safe.
				return nil, recerr.Wrap(recerr.KindTransient, aerr, "advancing chain after %s", taskType)
			}
			return result, nil
		}
		return nil, o.settleFailure(ctx, taskType, task, p, err)
	}
}

// afterSuccess moves the chain forward: group members go through the
// join counter, everything else submits the next chain element.
func (o *Orchestrator) afterSuccess(ctx context.Context, p Payload) error {
	if p.Member {
		return o.completeMember(ctx, p)
	}
	return o.Advance(ctx, p)
}

// settleFailure decides what a step error means for the chain. Lost
// races pass through as no-ops, retryable errors pass through while
// attempts remain, and everything else is final: the failure policy
// runs, and a tolerated transcription-family failure still advances the
// chain under a cascade-skip marker.
func (o *Orchestrator) settleFailure(ctx context.Context, taskType models.TaskType, task *models.Task, p Payload, stepErr error) error {
	if recerr.Is(stepErr, recerr.KindRace) {
		return stepErr
	}
	if recerr.Retryable(stepErr) && task.AttemptCount < task.MaxAttempts {
		return stepErr
	}

	allowErrors := false
	if isTranscriptionFamily(taskType) {
		allowErrors = o.allowsErrors(ctx, p)
	}
	o.HandleFailure(ctx, taskType, p, stepErr, allowErrors)

	if allowErrors && isTranscriptionFamily(taskType) {
		if aerr := o.advanceAfterSkip(ctx, taskType, p); aerr != nil {
			o.logger.Error("chain not advanced after tolerated failure",
				slog.Int64("recording_id", p.RecordingID),
				slog.String("task", string(taskType)),
				slog.Any("error", aerr),
			)
		}
		return recerr.Wrap(recerr.KindCascadeSkip, stepErr, "%s skipped on error", taskType)
	}
	return stepErr
}

// advanceAfterSkip keeps the chain moving past a tolerated failure. A
// skipped transcribe step also removes the steps that consume its
// output from the rest of the chain.
func (o *Orchestrator) advanceAfterSkip(ctx context.Context, taskType models.TaskType, p Payload) error {
	if p.Member {
		return o.completeMember(ctx, p)
	}
	if taskType == models.TaskTranscribe {
		p.Remaining = dropTranscriptionDependents(p.Remaining)
	}
	return o.Advance(ctx, p)
}
