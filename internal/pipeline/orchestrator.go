package pipeline

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/recarr/internal/metrics"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/pipeline/steps"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/resolve"
	"github.com/jmylchreest/recarr/internal/status"
)

// Orchestrator plans chains, registers the step handlers, and advances
// chains as tasks complete.
type Orchestrator struct {
	env        *steps.Env
	joins      repository.JoinRepository
	dispatcher *queue.Dispatcher
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator over the step environment.
func NewOrchestrator(env *steps.Env, joins repository.JoinRepository, dispatcher *queue.Dispatcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		env:        env,
		joins:      joins,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Register wires every pipeline task type into the dispatcher.
func (o *Orchestrator) Register() {
	o.dispatcher.RegisterFunc(models.TaskDownload, o.stepHandler(models.TaskDownload, o.env.Download))
	o.dispatcher.RegisterFunc(models.TaskTrim, o.stepHandler(models.TaskTrim, o.env.Trim))
	o.dispatcher.RegisterFunc(models.TaskTranscribe, o.stepHandler(models.TaskTranscribe, o.env.Transcribe))
	o.dispatcher.RegisterFunc(models.TaskExtractTopics, o.stepHandler(models.TaskExtractTopics, o.env.ExtractTopics))
	o.dispatcher.RegisterFunc(models.TaskGenerateSubtitles, o.stepHandler(models.TaskGenerateSubtitles, o.env.GenerateSubtitles))
	o.dispatcher.RegisterFunc(models.TaskUploadLauncher, o.stepHandler(models.TaskUploadLauncher, o.launchUploads))
	o.dispatcher.RegisterFunc(models.TaskUpload, o.stepHandler(models.TaskUpload, o.env.Upload))
}

// LaunchRequest starts a pipeline chain for one recording.
type LaunchRequest struct {
	RecordingID int64
	UserID      models.ULID

	// Override is the manual processing override of this launch. It may
	// carry the runtime-template hint.
	Override *resolve.ProcessingConfig

	// Priority is stamped onto every task of the chain; zero means the
	// queue default.
	Priority int
}

// Launch plans and submits the chain for one recording and returns its
// chain id. A blank recording is skipped without a chain (zero id, nil
// error).
func (o *Orchestrator) Launch(ctx context.Context, req LaunchRequest) (models.ULID, error) {
	rec, err := o.env.Recordings.GetByID(ctx, req.RecordingID, req.UserID)
	if err != nil {
		return models.ULID{}, recerr.Wrap(recerr.KindTransient, err, "loading recording %d", req.RecordingID)
	}
	if rec == nil {
		return models.ULID{}, recerr.NotFound("recording")
	}

	if rec.BlankRecord {
		rec.Status = models.StatusSkipped
		if err := o.env.Recordings.Update(ctx, rec); err != nil {
			return models.ULID{}, recerr.Wrap(recerr.KindTransient, err, "skipping blank recording")
		}
		o.logger.Info("blank recording skipped", slog.Int64("recording_id", rec.ID))
		return models.ULID{}, nil
	}

	if err := o.env.Quota.CheckAdmission(ctx, req.UserID); err != nil {
		return models.ULID{}, err
	}

	res, err := o.env.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return models.ULID{}, err
	}

	now := models.Now()
	needDownload := rec.LocalVideoPath == "" || rec.Status == models.StatusInitialized
	if needDownload {
		if !status.AllowDownload(rec, now, res.Processing.ForceDownload()) {
			return models.ULID{}, recerr.New(recerr.KindAdmission, "recording %d not launchable in status %s", rec.ID, rec.Status)
		}
	} else if !status.AllowRun(rec, now) {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "recording %d not runnable in status %s", rec.ID, rec.Status)
	}

	chain, err := o.planChain(ctx, rec, res, needDownload)
	if err != nil {
		return models.ULID{}, err
	}
	if len(chain) == 0 {
		return models.ULID{}, recerr.New(recerr.KindAdmission, "no pipeline steps enabled for recording %d", rec.ID)
	}

	if err := o.prepareStages(ctx, rec.ID, chain); err != nil {
		return models.ULID{}, err
	}
	if rec.PipelineStartedAt == nil {
		rec.PipelineStartedAt = &now
	}
	if err := o.env.Recordings.Update(ctx, rec); err != nil {
		return models.ULID{}, recerr.Wrap(recerr.KindTransient, err, "stamping pipeline start")
	}
	if err := o.env.Quota.RecordAdmission(ctx, req.UserID); err != nil {
		o.logger.Warn("admission not recorded",
			slog.String("user_id", req.UserID.String()),
			slog.Any("error", err),
		)
	}

	chainID := models.NewULID()
	payload := Payload{
		RecordingID: rec.ID,
		UserID:      req.UserID,
		ChainID:     chainID,
		Override:    req.Override,
		Priority:    req.Priority,
	}
	if err := o.submitNext(ctx, payload, chain[0], chain[1:]); err != nil {
		rec.MarkFailure("pipeline", err.Error())
		if uerr := o.env.Recordings.Update(ctx, rec); uerr != nil {
			o.logger.Warn("launch failure not recorded",
				slog.Int64("recording_id", rec.ID),
				slog.Any("error", uerr),
			)
		}
		return models.ULID{}, err
	}

	metrics.PipelinesLaunched.Inc()
	o.logger.Info("pipeline launched",
		slog.Int64("recording_id", rec.ID),
		slog.String("chain_id", chainID.String()),
		slog.Int("steps", len(chain)),
	)
	return chainID, nil
}

// planChain computes the chain the effective config enables.
func (o *Orchestrator) planChain(ctx context.Context, rec *models.Recording, res *steps.Resolved, needDownload bool) ([]StepRef, error) {
	var chain []StepRef
	if needDownload {
		chain = append(chain, Step(models.TaskDownload))
	}
	if res.Processing.TrimmingEnabled() {
		chain = append(chain, Step(models.TaskTrim))
	}
	if res.Processing.TranscriptionEnabled() {
		chain = append(chain, Step(models.TaskTranscribe))
		var members []models.TaskType
		if res.Processing.TopicsEnabled() {
			members = append(members, models.TaskExtractTopics)
		}
		if res.Processing.SubtitlesEnabled() {
			members = append(members, models.TaskGenerateSubtitles)
		}
		switch len(members) {
		case 0:
		case 1:
			chain = append(chain, Step(members[0]))
		default:
			chain = append(chain, Group(members...))
		}
	}
	if res.Output.AutoUploadEnabled() {
		platforms, err := o.resolvePlatforms(ctx, rec.UserID, res.Output)
		if err != nil {
			return nil, err
		}
		if len(platforms) > 0 {
			chain = append(chain, Step(models.TaskUploadLauncher))
		}
	}
	return chain, nil
}

// prepareStages creates pending stage rows for every stage the chain
// will run, so the aggregate status sees the whole plan up front.
func (o *Orchestrator) prepareStages(ctx context.Context, rid int64, chain []StepRef) error {
	var types []models.TaskType
	for _, ref := range chain {
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
		if _, err := o.env.Recordings.GetOrCreateStage(ctx, rid, st); err != nil {
			return recerr.Wrap(recerr.KindTransient, err, "preparing %s stage", st)
		}
	}
	return nil
}

// resolvePlatforms returns the upload destinations of this launch: the
// configured default platforms, or the platforms of the configured
// enabled presets.
func (o *Orchestrator) resolvePlatforms(ctx context.Context, userID models.ULID, out *resolve.OutputConfig) ([]string, error) {
	if len(out.DefaultPlatforms) > 0 {
		return out.DefaultPlatforms, nil
	}
	if len(out.PresetIDs) == 0 {
		return nil, nil
	}

	ids := make([]models.ULID, 0, len(out.PresetIDs))
	for _, raw := range out.PresetIDs {
		id, err := models.ParseULID(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	presets, err := o.env.Presets.GetByIDs(ctx, ids, userID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "loading output presets")
	}

	seen := make(map[string]bool)
	var platforms []string
	for _, p := range presets {
		if !p.IsEnabled() || seen[p.Platform] {
			continue
		}
		seen[p.Platform] = true
		platforms = append(platforms, p.Platform)
	}
	return platforms, nil
}

// Advance submits the next element of the chain, if any. A pause that
// landed since the previous step parks the chain instead: the finished
// step keeps its result, nothing further is enqueued, and a later run
// or retry re-plans from the recording's current state.
func (o *Orchestrator) Advance(ctx context.Context, p Payload) error {
	if len(p.Remaining) == 0 {
		return nil
	}
	rec, err := o.env.Recordings.GetByID(ctx, p.RecordingID, p.UserID)
	if err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "loading recording %d", p.RecordingID)
	}
	if rec == nil {
		return nil
	}
	if rec.OnPause {
		o.logger.Info("chain parked, recording paused",
			slog.Int64("recording_id", p.RecordingID),
			slog.String("chain_id", p.ChainID.String()),
			slog.Int("steps_remaining", len(p.Remaining)),
		)
		return nil
	}
	return o.submitNext(ctx, p, p.Remaining[0], p.Remaining[1:])
}

// submitNext submits one chain element. A parallel group creates the
// join row first, then enqueues every member; the tail after the group
// lives in the join until the last member completes it.
func (o *Orchestrator) submitNext(ctx context.Context, p Payload, head StepRef, rest []StepRef) error {
	if !head.IsGroup() {
		next := p
		next.Member = false
		next.Remaining = rest
		return o.enqueue(ctx, head.Type, next)
	}

	tail := p
	tail.Member = false
	tail.Remaining = rest
	join := &models.PipelineJoin{
		ChainID:       p.ChainID,
		RecordingID:   p.RecordingID,
		UserID:        p.UserID,
		ExpectedCount: len(head.Members),
		TailPayload:   tail.Map(),
	}
	if err := o.joins.Create(ctx, join); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "creating join for chain %s", p.ChainID)
	}

	for _, member := range head.Members {
		mp := p
		mp.Member = true
		mp.Remaining = nil
		if err := o.enqueue(ctx, member, mp); err != nil {
			return err
		}
	}
	return nil
}

// enqueue submits one task carrying the chain payload.
func (o *Orchestrator) enqueue(ctx context.Context, t models.TaskType, p Payload) error {
	rid := p.RecordingID
	task := &models.Task{
		Queue:       QueueFor(t),
		Type:        t,
		UserID:      p.UserID,
		RecordingID: &rid,
		ChainID:     p.ChainID,
		Priority:    p.Priority,
		Payload:     p.Map(),
	}
	if _, err := o.dispatcher.Enqueue(ctx, task); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "enqueueing %s task", t)
	}
	return nil
}

// completeMember records one group member finishing. The member that
// completes the group refreshes the aggregate status and enqueues the
// tail exactly once.
func (o *Orchestrator) completeMember(ctx context.Context, p Payload) error {
	join, wonTail, err := o.joins.CompleteMember(ctx, p.ChainID)
	if err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "completing join member for chain %s", p.ChainID)
	}
	if !wonTail {
		return nil
	}

	// Re-read through the aggregator so the tail admission checks see
	// every member's final stage state.
	if _, err := o.env.Recordings.UpdateStatus(ctx, p.RecordingID, p.UserID); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "refreshing status after join")
	}
	if join.TailPayload == nil {
		return nil
	}
	tail, err := DecodePayload(join.TailPayload)
	if err != nil {
		return err
	}
	return o.Advance(ctx, tail)
}

// launchUploads is the upload-launcher step: it fans out one upload task
// per resolved platform.
func (o *Orchestrator) launchUploads(ctx context.Context, req steps.Request) (models.JSONMap, error) {
	rec, err := o.env.Recordings.GetByID(ctx, req.RecordingID, req.UserID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "loading recording %d", req.RecordingID)
	}
	if rec == nil {
		return nil, recerr.NotFound("recording")
	}
	if rec.OnPause {
		return models.JSONMap{"ok": true, "status": "paused", "recording_id": rec.ID}, nil
	}

	res, err := o.env.ResolveConfigs(ctx, rec, req.Override)
	if err != nil {
		return nil, err
	}
	platforms, err := o.resolvePlatforms(ctx, req.UserID, res.Output)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		return models.JSONMap{"ok": true, "status": "no_platforms", "recording_id": rec.ID}, nil
	}

	for _, platform := range platforms {
		p := Payload{
			RecordingID:      req.RecordingID,
			UserID:           req.UserID,
			ChainID:          models.NewULID(),
			Override:         req.Override,
			Platform:         platform,
			MetadataOverride: res.Output.Metadata,
		}
		if err := o.enqueue(ctx, models.TaskUpload, p); err != nil {
			return nil, err
		}
	}

	return models.JSONMap{
		"ok":           true,
		"status":       "scheduled",
		"recording_id": rec.ID,
		"platforms":    platforms,
	}, nil
}
