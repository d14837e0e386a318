// Package steps implements the pipeline step executors: download, trim,
// transcribe, topic extraction, subtitle generation, and per-platform
// upload. Every executor follows the same contract: load the recording,
// resolve the effective config, verify admission, do the work, persist
// stage transitions and timings, and return a small result map. State
// lives in the database; the inputs are ids and overrides only.
package steps

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/credentials"
	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/media"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/quota"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/resolve"
	"github.com/jmylchreest/recarr/internal/tokens"
)

// Env carries every dependency the step executors share.
type Env struct {
	Recordings repository.RecordingRepository
	Users      repository.UserRepository
	Templates  repository.TemplateRepository
	Presets    repository.PresetRepository
	Timings    repository.TimingRepository

	Store  *artifacts.Store
	Quota  *quota.Service
	Tokens *tokens.Manager
	Vault  *credentials.Vault

	Meeting     providers.MeetingClient
	Transcriber providers.Transcriber
	Topics      providers.TopicExtractor
	Uploaders   *providers.UploaderRegistry

	HTTP   *httpclient.Client
	FFmpeg *media.Detector

	// TopicsPrimaryModel and TopicsFallbackModel drive the two-tier
	// model fallback of the topic-extraction step.
	TopicsPrimaryModel  string
	TopicsFallbackModel string

	Logger *slog.Logger
}

// Request is the common executor input decoded from a task payload.
type Request struct {
	RecordingID int64
	UserID      models.ULID

	// Override is the manual processing override of this execution.
	Override *resolve.ProcessingConfig

	// Upload fan-out fields, set only on upload tasks.
	Platform         string
	PresetID         string
	MetadataOverride *resolve.MetadataConfig
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// loadRecording fetches the recording with its children, treating a
// missing or tenant-mismatched row as not found.
func (e *Env) loadRecording(ctx context.Context, req Request) (*models.Recording, error) {
	rec, err := e.Recordings.GetByID(ctx, req.RecordingID, req.UserID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "loading recording %d", req.RecordingID)
	}
	if rec == nil {
		return nil, recerr.NotFound("recording")
	}
	return rec, nil
}

// loadUser fetches the owning tenant, needed for filesystem slugs.
func (e *Env) loadUser(ctx context.Context, userID models.ULID) (*models.User, error) {
	user, err := e.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "loading user")
	}
	if user == nil {
		return nil, recerr.NotFound("user")
	}
	return user, nil
}

// result builds the common executor result map.
func result(rec *models.Recording, status string) models.JSONMap {
	return models.JSONMap{
		"ok":           true,
		"status":       status,
		"recording_id": rec.ID,
		"user_id":      rec.UserID.String(),
	}
}

// beginStage moves a stage row to in_progress, creating it if absent. A
// previously failed stage goes through the retry transition, which is
// refused once its retries are exhausted.
func (e *Env) beginStage(ctx context.Context, rid int64, st models.StageType) (*models.ProcessingStage, error) {
	stage, err := e.Recordings.GetOrCreateStage(ctx, rid, st)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "preparing %s stage", st)
	}
	if stage.Status == models.StageFailed {
		if err := stage.PrepareRetry(); err != nil {
			return nil, recerr.Wrap(recerr.KindAdmission, err, "%s stage not retryable", st)
		}
	} else {
		stage.MarkInProgress()
	}
	if err := e.Recordings.SaveStage(ctx, stage); err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "saving %s stage", st)
	}
	return stage, nil
}

// completeStage marks the stage completed with metadata and persists it.
func (e *Env) completeStage(ctx context.Context, stage *models.ProcessingStage, meta models.JSONMap) error {
	stage.MarkCompleted(meta)
	if err := e.Recordings.SaveStage(ctx, stage); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "completing %s stage", stage.StageType)
	}
	return nil
}

// startTiming opens an analytics timing for one attempt of a stage.
func (e *Env) startTiming(ctx context.Context, rid int64, stageType, substep string) *models.StageTiming {
	attempt := 1
	if n, err := e.Timings.NextAttempt(ctx, rid, stageType); err == nil {
		attempt = n
	}
	return &models.StageTiming{
		RecordingID: rid,
		StageType:   stageType,
		Substep:     substep,
		Attempt:     attempt,
		StartedAt:   models.Now(),
	}
}

// finishTiming closes and persists the timing row. Timing persistence
// failures never fail the step.
func (e *Env) finishTiming(ctx context.Context, t *models.StageTiming, status string, stepErr error) {
	if t == nil {
		return
	}
	t.Finish(status, stepErr)
	if err := e.Timings.Create(ctx, t); err != nil {
		e.logger().Warn("stage timing not recorded",
			slog.Int64("recording_id", t.RecordingID),
			slog.String("stage", t.StageType),
			slog.Any("error", err),
		)
	}
}

// clearOwnFailure resets the recording failure flags when the last
// failure belongs to the retrying stage, leaving later failures of other
// stages untouched.
func (e *Env) clearOwnFailure(ctx context.Context, rec *models.Recording, stage string) {
	if !rec.ClearFailureForStage(stage) {
		return
	}
	if err := e.Recordings.Update(ctx, rec); err != nil {
		e.logger().Warn("failure flags not cleared",
			slog.Int64("recording_id", rec.ID),
			slog.String("stage", stage),
			slog.Any("error", err),
		)
	}
}

// classifyHTTP maps a download/upload HTTP status onto an error kind.
func classifyHTTP(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return recerr.New(recerr.KindAuthExpired, "%s: server returned %d", op, status)
	case status == http.StatusNotFound:
		return recerr.New(recerr.KindNotFound, "%s: server returned 404", op)
	case status == http.StatusTooManyRequests || status >= 500:
		return recerr.New(recerr.KindTransient, "%s: server returned %d", op, status)
	default:
		return recerr.New(recerr.KindTerminal, "%s: server returned %d", op, status)
	}
}
