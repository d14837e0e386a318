package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/status"
)

// retryStageTasks maps the operator-facing stage names onto the task
// type a retry re-enters the chain at.
var retryStageTasks = map[string]models.TaskType{
	"download":           models.TaskDownload,
	"trim":               models.TaskTrim,
	"transcribe":         models.TaskTranscribe,
	"extract_topics":     models.TaskExtractTopics,
	"generate_subtitles": models.TaskGenerateSubtitles,
	"upload":             models.TaskUploadLauncher,
}

// RetryStages lists the stage names RetryStage accepts.
func RetryStages() []string {
	return []string{"download", "trim", "transcribe", "extract_topics", "generate_subtitles", "upload"}
}

// Pause stops new pipeline steps from being scheduled for the
// recording. In-flight steps complete naturally; the pause lands on
// every subsequent step.
func (o *Orchestrator) Pause(ctx context.Context, rid int64, userID models.ULID) error {
	return o.setPause(ctx, rid, userID, true)
}

// Resume clears the pause flag.
func (o *Orchestrator) Resume(ctx context.Context, rid int64, userID models.ULID) error {
	return o.setPause(ctx, rid, userID, false)
}

func (o *Orchestrator) setPause(ctx context.Context, rid int64, userID models.ULID, pause bool) error {
	rec, err := o.env.Recordings.GetByID(ctx, rid, userID)
	if err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "loading recording %d", rid)
	}
	if rec == nil {
		return recerr.NotFound("recording")
	}
	if rec.OnPause == pause {
		return nil
	}
	if err := o.env.Recordings.SetPause(ctx, rid, userID, pause); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "updating pause flag")
	}
	o.logger.Info("pause flag changed",
		slog.Int64("recording_id", rid),
		slog.Bool("on_pause", pause),
	)
	return nil
}

// Reset cancels the recording's queued work and clears its pipeline
// state so a fresh launch re-plans the chain. preserve keeps the
// processed artifacts; the downloaded source survives either way.
func (o *Orchestrator) Reset(ctx context.Context, rid int64, userID models.ULID, preserve bool) error {
	cancelled, err := o.dispatcher.CancelPendingForRecording(ctx, rid, userID)
	if err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "cancelling queued tasks")
	}

	if err := o.env.Recordings.ResetPipeline(ctx, rid, userID, preserve); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return recerr.NotFound("recording")
		case errors.Is(err, models.ErrRecordingDeleted):
			return recerr.Wrap(recerr.KindAdmission, err, "resetting recording %d", rid)
		}
		return recerr.Wrap(recerr.KindTransient, err, "resetting recording %d", rid)
	}

	o.logger.Info("pipeline reset",
		slog.Int64("recording_id", rid),
		slog.Bool("preserve_artifacts", preserve),
		slog.Int64("tasks_cancelled", cancelled),
	)
	return nil
}

// RetryStage rebuilds and submits the chain from the named stage. The
// stage and everything after it in the effective plan run again; stages
// before it keep their state.
func (o *Orchestrator) RetryStage(ctx context.Context, rid int64, userID models.ULID, stage string) (models.ULID, error) {
	taskType, ok := retryStageTasks[stage]
	if !ok {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "unknown stage %q", stage)
	}

	rec, err := o.env.Recordings.GetByID(ctx, rid, userID)
	if err != nil {
		return models.ULID{}, recerr.Wrap(recerr.KindTransient, err, "loading recording %d", rid)
	}
	if rec == nil {
		return models.ULID{}, recerr.NotFound("recording")
	}
	if rec.IsDeleted() || rec.BlankRecord {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "recording %d not retryable", rid)
	}
	if taskType != models.TaskDownload && rec.LocalVideoPath == "" {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "recording %d has no downloaded media", rid)
	}

	if err := o.env.Quota.CheckAdmission(ctx, userID); err != nil {
		return models.ULID{}, err
	}

	res, err := o.env.ResolveConfigs(ctx, rec, rec.ProcessingPreferences)
	if err != nil {
		return models.ULID{}, err
	}
	chain, err := o.planChain(ctx, rec, res, taskType == models.TaskDownload)
	if err != nil {
		return models.ULID{}, err
	}
	idx := chainIndexOf(chain, taskType)
	if idx < 0 {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "stage %s not enabled for recording %d", stage, rid)
	}
	tail := chain[idx:]

	if err := o.rewindStages(ctx, rec, taskType, tail); err != nil {
		return models.ULID{}, err
	}

	if rec.ClearFailureForStage(stage) {
		if err := o.env.Recordings.Update(ctx, rec); err != nil {
			return models.ULID{}, recerr.Wrap(recerr.KindTransient, err, "clearing failure fields")
		}
	}

	chainID := models.NewULID()
	payload := Payload{
		RecordingID: rid,
		UserID:      userID,
		ChainID:     chainID,
		Override:    rec.ProcessingPreferences,
	}
	if err := o.submitNext(ctx, payload, tail[0], tail[1:]); err != nil {
		return models.ULID{}, err
	}

	o.logger.Info("stage retry submitted",
		slog.Int64("recording_id", rid),
		slog.String("stage", stage),
		slog.String("chain_id", chainID.String()),
		slog.Int("steps", len(tail)),
	)
	return chainID, nil
}

// chainIndexOf finds the chain element running the task type; group
// membership counts.
func chainIndexOf(chain []StepRef, t models.TaskType) int {
	for i, ref := range chain {
		if ref.Type == t {
			return i
		}
		for _, m := range ref.Members {
			if m == t {
				return i
			}
		}
	}
	return -1
}

// rewindStages returns the stage rows of the retried tail to pending.
// The retried stage itself consumes one of its bounded retries when it
// had failed; downstream stages rewind for free.
func (o *Orchestrator) rewindStages(ctx context.Context, rec *models.Recording, retried models.TaskType, tail []StepRef) error {
	var types []models.TaskType
	for _, ref := range tail {
		if ref.IsGroup() {
			types = append(types, ref.Members...)
			continue
		}
		types = append(types, ref.Type)
	}

	for _, t := range types {
		st := stageTypeFor(t)
		if st == "" {
			continue
		}
		stage, err := o.env.Recordings.GetOrCreateStage(ctx, rec.ID, st)
		if err != nil {
			return recerr.Wrap(recerr.KindTransient, err, "loading %s stage", st)
		}
		if t == retried && stage.Status == models.StageFailed {
			if stage.RetryCount >= stage.MaxRetries {
				return recerr.Wrap(recerr.KindAdmission, models.ErrRetriesExhausted, "stage %s", st)
			}
			stage.RetryCount++
		}
		stage.Status = models.StagePending
		stage.Failed = false
		stage.FailedReason = ""
		stage.SkipReason = ""
		stage.StartedAt = nil
		stage.CompletedAt = nil
		if err := o.env.Recordings.SaveStage(ctx, stage); err != nil {
			return recerr.Wrap(recerr.KindTransient, err, "rewinding %s stage", st)
		}
	}
	return nil
}

// ScheduleUpload admits and enqueues one upload for the platform. The
// preset and metadata override ride the task payload; the upload
// executor resolves the rest.
func (o *Orchestrator) ScheduleUpload(ctx context.Context, rid int64, userID models.ULID, platform, presetID string) (models.ULID, error) {
	if platform == "" {
		return models.ULID{}, recerr.Wrap(recerr.KindAdmission, models.ErrPlatformRequired, "scheduling upload")
	}

	rec, err := o.env.Recordings.GetByID(ctx, rid, userID)
	if err != nil {
		return models.ULID{}, recerr.Wrap(recerr.KindTransient, err, "loading recording %d", rid)
	}
	if rec == nil {
		return models.ULID{}, recerr.NotFound("recording")
	}
	if !status.AllowUpload(rec, models.Now(), platform) {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "recording %d not uploadable to %s", rid, platform)
	}

	if err := o.env.Quota.CheckAdmission(ctx, userID); err != nil {
		return models.ULID{}, err
	}

	chainID := models.NewULID()
	payload := Payload{
		RecordingID: rid,
		UserID:      userID,
		ChainID:     chainID,
		Platform:    platform,
		PresetID:    presetID,
	}
	if err := o.enqueue(ctx, models.TaskUpload, payload); err != nil {
		return models.ULID{}, err
	}

	o.logger.Info("upload scheduled",
		slog.Int64("recording_id", rid),
		slog.String("platform", platform),
		slog.String("chain_id", chainID.String()),
	)
	return chainID, nil
}
