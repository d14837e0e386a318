package pipeline

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/recarr/internal/metrics"
	"github.com/jmylchreest/recarr/internal/models"
)

// HandleFailure applies the per-step failure policy once an error is
// final for its task: retries are exhausted or the error is not
// retryable. It mutates the recording and its stages so the operator
// sees where the pipeline stopped and a relaunch resumes from a sane
// status.
func (o *Orchestrator) HandleFailure(ctx context.Context, taskType models.TaskType, p Payload, cause error, allowErrors bool) {
	rec, err := o.env.Recordings.GetByID(ctx, p.RecordingID, p.UserID)
	if err != nil || rec == nil {
		o.logger.Error("failure handling skipped, recording unavailable",
			slog.Int64("recording_id", p.RecordingID),
			slog.String("task", string(taskType)),
			slog.Any("error", err),
		)
		return
	}

	reason := cause.Error()
	metrics.StageFailures.WithLabelValues(failureStageName(taskType)).Inc()
	switch taskType {
	case models.TaskDownload:
		// A mapped recording stays launchable; an unmapped one has nobody
		// to relaunch it, so it parks as skipped.
		if rec.IsMapped {
			rec.Status = models.StatusInitialized
		} else {
			rec.Status = models.StatusSkipped
		}
		rec.MarkFailure("download", reason)

	case models.TaskTrim:
		o.failStage(ctx, rec.ID, models.StageTrim, reason)
		rec.Status = models.StatusDownloaded
		rec.MarkFailure("trim", reason)

	case models.TaskTranscribe, models.TaskExtractTopics, models.TaskGenerateSubtitles:
		st := stageTypeFor(taskType)
		if allowErrors {
			o.skipStageOnError(ctx, rec, st, reason)
			rec.MarkFailure(failureStageName(taskType), reason)
		} else {
			o.failStage(ctx, rec.ID, st, reason)
			rec.Status = models.StatusDownloaded
			rec.MarkFailure(failureStageName(taskType), reason)
		}

	case models.TaskUpload:
		// The step already marked the target failed; the recording-level
		// flag is set once every target has failed.
		allFailed := len(rec.Targets) > 0
		for i := range rec.Targets {
			if rec.Targets[i].Status != models.TargetFailed {
				allFailed = false
				break
			}
		}
		if allFailed {
			rec.MarkFailure("upload", reason)
		}

	case models.TaskUploadLauncher:
		rec.MarkFailure("upload", reason)
	}

	if err := o.env.Recordings.Update(ctx, rec); err != nil {
		o.logger.Error("failure state not persisted",
			slog.Int64("recording_id", rec.ID),
			slog.String("task", string(taskType)),
			slog.Any("error", err),
		)
	}
}

// failStage marks one stage failed.
func (o *Orchestrator) failStage(ctx context.Context, rid int64, st models.StageType, reason string) {
	stage, err := o.env.Recordings.GetOrCreateStage(ctx, rid, st)
	if err != nil {
		o.logger.Error("stage failure not recorded",
			slog.Int64("recording_id", rid),
			slog.String("stage", string(st)),
			slog.Any("error", err),
		)
		return
	}
	stage.MarkFailed(reason)
	if err := o.env.Recordings.SaveStage(ctx, stage); err != nil {
		o.logger.Error("stage failure not persisted",
			slog.Int64("recording_id", rid),
			slog.String("stage", string(st)),
			slog.Any("error", err),
		)
	}
}

// skipStageOnError skips a transcription-family stage that failed while
// the config tolerates errors, keeping the failure visible on the row.
// Skipping the transcribe stage also cascade-skips its dependents that
// have not already finished; the stage, the cascade, and the aggregate
// recompute land in one repository transaction.
func (o *Orchestrator) skipStageOnError(ctx context.Context, rec *models.Recording, st models.StageType, reason string) {
	var dependents []models.StageType
	if st == models.StageTranscribe {
		dependents = models.TranscriptionDependents
	}
	if err := o.env.Recordings.SkipStageCascade(ctx, rec.ID, st, reason, dependents); err != nil {
		o.logger.Error("error-skip not persisted",
			slog.Int64("recording_id", rec.ID),
			slog.String("stage", string(st)),
			slog.Any("error", err),
		)
	}
}

// allowsErrors resolves whether the transcription family tolerates
// failures for this recording. Resolution failures default to strict.
func (o *Orchestrator) allowsErrors(ctx context.Context, p Payload) bool {
	rec, err := o.env.Recordings.GetByID(ctx, p.RecordingID, p.UserID)
	if err != nil || rec == nil {
		return false
	}
	res, err := o.env.ResolveConfigs(ctx, rec, p.Override)
	if err != nil {
		return false
	}
	return res.Processing.TranscriptionAllowsErrors()
}
