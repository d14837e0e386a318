package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/config"
	"github.com/jmylchreest/recarr/internal/credentials"
	"github.com/jmylchreest/recarr/internal/database/migrations"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/pipeline/steps"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/quota"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/resolve"
	"github.com/jmylchreest/recarr/internal/tokens"
)

type harness struct {
	db         *gorm.DB
	store      *artifacts.Store
	recordings repository.RecordingRepository
	tasks      repository.TaskRepository
	users      repository.UserRepository
	orch       *Orchestrator
	dispatcher *queue.Dispatcher
	env        *steps.Env
}

type stubTranscriber struct {
	fn func(ctx context.Context, req providers.TranscribeRequest) (*providers.Transcription, error)
}

func (s *stubTranscriber) Transcribe(ctx context.Context, req providers.TranscribeRequest) (*providers.Transcription, error) {
	return s.fn(ctx, req)
}

type stubExtractor struct {
	fn func(ctx context.Context, req providers.TopicsRequest) (*providers.TopicsResult, error)
}

func (s *stubExtractor) Extract(ctx context.Context, req providers.TopicsRequest) (*providers.TopicsResult, error) {
	return s.fn(ctx, req)
}

func okTranscriber() *stubTranscriber {
	return &stubTranscriber{fn: func(_ context.Context, _ providers.TranscribeRequest) (*providers.Transcription, error) {
		return &providers.Transcription{
			Language:        "en",
			Model:           "whisper-test",
			DurationSeconds: 30,
			Text:            "hello world",
			Words: []providers.Word{
				{Text: "hello", Start: 0, End: 1},
				{Text: "world", Start: 1, End: 2},
			},
			Segments: []providers.Segment{
				{ID: 0, Text: "hello world", Start: 0, End: 2},
			},
		}, nil
	}}
}

func okExtractor() *stubExtractor {
	return &stubExtractor{fn: func(_ context.Context, _ providers.TopicsRequest) (*providers.TopicsResult, error) {
		return &providers.TopicsResult{
			Model: "topics-test",
			Topics: []models.Topic{
				{Title: "Greeting", StartSeconds: 0},
			},
		}, nil
	}}
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	migrator := migrations.NewMigrator(db, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))

	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)

	recordings := repository.NewRecordingRepository(db, artifacts.Remover{})
	tasks := repository.NewTaskRepository(db)
	users := repository.NewUserRepository(db)
	quotas := repository.NewQuotaRepository(db)

	cfg := config.QueuesConfig{
		Downloads:       config.QueueConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Minute, SoftTimeout: time.Minute, HardTimeout: 2 * time.Minute},
		Uploads:         config.QueueConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Minute, SoftTimeout: time.Minute, HardTimeout: 2 * time.Minute},
		ProcessingCPU:   config.QueueConfig{Workers: 1, MaxAttempts: 2, Backoff: time.Minute, SoftTimeout: time.Minute, HardTimeout: 2 * time.Minute},
		AsyncOperations: config.QueueConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Minute, SoftTimeout: time.Minute, HardTimeout: 2 * time.Minute},
		Maintenance:     config.QueueConfig{Workers: 1, MaxAttempts: 3, Backoff: time.Minute, SoftTimeout: time.Minute, HardTimeout: 2 * time.Minute},
		PollInterval:    10 * time.Millisecond,
		LockTimeout:     time.Minute,
	}
	dispatcher := queue.NewDispatcher(cfg, tasks, nil)

	env := &steps.Env{
		Recordings:  recordings,
		Users:       users,
		Templates:   repository.NewTemplateRepository(db),
		Presets:     repository.NewPresetRepository(db),
		Timings:     repository.NewTimingRepository(db),
		Store:       store,
		Quota:       quota.NewService(quotas, tasks, nil),
		Tokens:      tokens.NewManager(nil),
		Transcriber: okTranscriber(),
		Topics:      okExtractor(),
		Uploaders:   providers.NewUploaderRegistry(),

		TopicsPrimaryModel: "topics-test",
	}

	orch := NewOrchestrator(env, repository.NewJoinRepository(db), dispatcher, nil)
	orch.Register()

	return &harness{
		db:         db,
		store:      store,
		recordings: recordings,
		tasks:      tasks,
		users:      users,
		orch:       orch,
		dispatcher: dispatcher,
		env:        env,
	}
}

// createUser inserts a user plus a config enabling the given stages.
func (h *harness) createUser(t *testing.T, slug int, processing *resolve.ProcessingConfig) *models.User {
	t.Helper()

	user := &models.User{
		Email: models.NewULID().String() + "@example.com",
		Slug:  slug,
	}
	require.NoError(t, h.db.Create(user).Error)
	require.NoError(t, h.users.SaveConfig(context.Background(), &models.UserConfig{
		UserID:     user.ID,
		Processing: processing,
	}))
	return user
}

// createDownloadedRecording inserts a recording whose media is already on
// disk, ready for the post-download chain.
func (h *harness) createDownloadedRecording(t *testing.T, user *models.User, name string) *models.Recording {
	t.Helper()

	require.NoError(t, h.store.EnsureUserDirs(user.Slug))
	start := models.Now()
	rec := &models.Recording{
		UserID:      user.ID,
		DisplayName: name,
		SourceType:  "meeting",
		SourceKey:   models.NewULID().String(),
		StartTime:   &start,
		Status:      models.StatusDownloaded,
		IsMapped:    true,
	}
	require.NoError(t, h.db.Create(rec).Error)

	path := h.store.RecordingVideo(user.Slug, rec.ID)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	rec.LocalVideoPath = path
	require.NoError(t, h.db.Save(rec).Error)
	return rec
}

// drain claims and executes runnable tasks until every queue is idle.
func (h *harness) drain(t *testing.T) {
	t.Helper()

	ex := h.dispatcher.Executor()
	for rounds := 0; rounds < 100; rounds++ {
		ran := false
		for _, q := range models.AllQueues {
			for {
				task, err := h.tasks.Claim(context.Background(), q, "test-worker")
				require.NoError(t, err)
				if task == nil {
					break
				}
				ran = true
				require.NoError(t, ex.Execute(context.Background(), task))
			}
		}
		if !ran {
			return
		}
	}
	t.Fatal("queues never drained")
}

func transcriptionConfig(allowErrors bool) *resolve.ProcessingConfig {
	return &resolve.ProcessingConfig{
		Transcription: &resolve.TranscriptionConfig{
			EnableTranscription: resolve.Bool(true),
			EnableTopics:        resolve.Bool(true),
			EnableSubtitles:     resolve.Bool(true),
			AllowErrors:         resolve.Bool(allowErrors),
		},
	}
}

func TestLaunch_RunsChainToCompletion(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Weekly Sync")

	chainID, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)
	assert.False(t, chainID.IsZero())

	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, models.StatusProcessed, got.Status)
	assert.NotEmpty(t, got.TranscriptionDir)
	assert.Equal(t, models.StringList{"Greeting"}, got.MainTopics)
	require.NotNil(t, got.PipelineStartedAt)

	for _, st := range []models.StageType{models.StageTranscribe, models.StageExtractTopics, models.StageGenerateSubtitles} {
		stage := got.StageByType(st)
		require.NotNil(t, stage, st)
		assert.Equal(t, models.StageCompleted, stage.Status, st)
	}

	// Transcription artifacts landed on disk.
	assert.FileExists(t, filepath.Join(got.TranscriptionDir, "master.json"))
	assert.FileExists(t, filepath.Join(got.TranscriptionDir, "subtitles.srt"))
	assert.FileExists(t, filepath.Join(got.TranscriptionDir, "subtitles.vtt"))
}

func TestLaunch_BlankRecordingSkips(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Empty Room")
	rec.BlankRecord = true
	require.NoError(t, h.db.Save(rec).Error)

	chainID, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, chainID.IsZero(), "blank recordings launch no chain")

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, got.Status)
}

func TestLaunch_NoStepsEnabled(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, nil)
	rec := h.createDownloadedRecording(t, user, "Nothing To Do")

	_, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindAdmission))
}

func TestLaunch_MissingRecording(t *testing.T) {
	h := setupHarness(t)

	user := h.createUser(t, 1, transcriptionConfig(false))
	_, err := h.orch.Launch(context.Background(), LaunchRequest{RecordingID: 999, UserID: user.ID})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindNotFound))
}

func TestCascadeSkip_TranscriptionFailureTolerated(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.env.Transcriber = &stubTranscriber{fn: func(_ context.Context, _ providers.TranscribeRequest) (*providers.Transcription, error) {
		return nil, recerr.New(recerr.KindTerminal, "model rejected the audio")
	}}

	user := h.createUser(t, 1, transcriptionConfig(true))
	rec := h.createDownloadedRecording(t, user, "Noisy Audio")

	_, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)
	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)

	tr := got.StageByType(models.StageTranscribe)
	require.NotNil(t, tr)
	assert.Equal(t, models.StageSkipped, tr.Status)
	assert.Equal(t, models.SkipReasonError, tr.SkipReason)
	assert.True(t, tr.Failed, "error-skip keeps the failure visible")

	for _, dep := range models.TranscriptionDependents {
		stage := got.StageByType(dep)
		require.NotNil(t, stage, dep)
		assert.Equal(t, models.StageSkipped, stage.Status, dep)
		assert.Equal(t, models.SkipReasonParentFailed, stage.SkipReason, dep)
	}

	assert.True(t, got.Failed)
	assert.Equal(t, "transcribe", got.FailedAtStage)
	// Every stage is terminal, so the aggregate settles.
	assert.Equal(t, models.StatusProcessed, got.Status)

	// The cascade marker settles the task as completed/skipped, and the
	// dependent tasks were never enqueued.
	var depTasks int64
	require.NoError(t, h.db.Model(&models.Task{}).
		Where("type IN ?", []models.TaskType{models.TaskExtractTopics, models.TaskGenerateSubtitles}).
		Count(&depTasks).Error)
	assert.Equal(t, int64(0), depTasks)
}

func TestStrictTranscriptionFailureFailsRecording(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.env.Transcriber = &stubTranscriber{fn: func(_ context.Context, _ providers.TranscribeRequest) (*providers.Transcription, error) {
		return nil, recerr.New(recerr.KindTerminal, "model rejected the audio")
	}}

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Strict Mode")

	_, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)
	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)

	tr := got.StageByType(models.StageTranscribe)
	require.NotNil(t, tr)
	assert.Equal(t, models.StageFailed, tr.Status)
	assert.True(t, got.Failed)
	assert.Equal(t, "transcribe", got.FailedAtStage)
}

func TestTopicsFallbackModel(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	var calls []string
	h.env.TopicsPrimaryModel = "primary"
	h.env.TopicsFallbackModel = "fallback"
	h.env.Topics = &stubExtractor{fn: func(_ context.Context, req providers.TopicsRequest) (*providers.TopicsResult, error) {
		calls = append(calls, req.Model)
		if req.Model == "primary" {
			return nil, recerr.New(recerr.KindTransient, "primary overloaded")
		}
		return &providers.TopicsResult{Model: req.Model, Topics: []models.Topic{{Title: "Plan B"}}}, nil
	}}

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Fallback Test")

	_, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)
	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StringList{"Plan B"}, got.MainTopics)
	assert.Equal(t, []string{"primary", "fallback"}, calls)

	stage := got.StageByType(models.StageExtractTopics)
	require.NotNil(t, stage)
	assert.Equal(t, "fallback", stage.StageMeta["model"])
}

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{
		RecordingID: 7,
		UserID:      models.NewULID(),
		ChainID:     models.NewULID(),
		Remaining: []StepRef{
			Step(models.TaskTranscribe),
			Group(models.TaskExtractTopics, models.TaskGenerateSubtitles),
		},
		Override: &resolve.ProcessingConfig{
			Transcription: &resolve.TranscriptionConfig{Language: resolve.String("de")},
		},
		Platform: "youtube",
		Priority: models.PriorityManual,
	}

	decoded, err := DecodePayload(p.Map())
	require.NoError(t, err)
	assert.Equal(t, p.RecordingID, decoded.RecordingID)
	assert.Equal(t, p.UserID, decoded.UserID)
	assert.Equal(t, p.ChainID, decoded.ChainID)
	assert.Equal(t, p.Platform, decoded.Platform)
	assert.Equal(t, p.Priority, decoded.Priority)
	require.Len(t, decoded.Remaining, 2)
	assert.False(t, decoded.Remaining[0].IsGroup())
	assert.True(t, decoded.Remaining[1].IsGroup())
	require.NotNil(t, decoded.Override)
	assert.Equal(t, "de", decoded.Override.Transcription.LanguageValue())
}

func TestDecodePayload_Invalid(t *testing.T) {
	_, err := DecodePayload(models.JSONMap{})
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, models.QueueDownloads, QueueFor(models.TaskDownload))
	assert.Equal(t, models.QueueProcessingCPU, QueueFor(models.TaskTrim))
	assert.Equal(t, models.QueueUploads, QueueFor(models.TaskUpload))
	assert.Equal(t, models.QueueAsyncOperations, QueueFor(models.TaskTranscribe))
	assert.Equal(t, models.QueueAsyncOperations, QueueFor(models.TaskUploadLauncher))
}

func TestDropTranscriptionDependents(t *testing.T) {
	refs := []StepRef{
		Group(models.TaskExtractTopics, models.TaskGenerateSubtitles),
		Step(models.TaskUploadLauncher),
	}
	out := dropTranscriptionDependents(refs)
	require.Len(t, out, 1)
	assert.Equal(t, models.TaskUploadLauncher, out[0].Type)

	// A mixed group keeps its independent members.
	refs = []StepRef{Group(models.TaskExtractTopics, models.TaskUploadLauncher)}
	out = dropTranscriptionDependents(refs)
	require.Len(t, out, 1)
	assert.False(t, out[0].IsGroup(), "a single survivor degrades to a plain step")
	assert.Equal(t, models.TaskUploadLauncher, out[0].Type)
}

func TestPause_QueuedStepStopsQuietly(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	processing := transcriptionConfig(false)
	processing.Trimming = &resolve.TrimmingConfig{EnableTrimming: resolve.Bool(true)}
	user := h.createUser(t, 1, processing)
	rec := h.createDownloadedRecording(t, user, "Paused Early")

	_, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)

	// The pause lands while the trim task is still queued.
	require.NoError(t, h.orch.Pause(ctx, rec.ID, user.ID))
	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Failed, "a pause is a quiet stop, not a failure")
	assert.Empty(t, got.FailedAtStage)
	assert.True(t, got.OnPause)

	stage := got.StageByType(models.StageTrim)
	require.NotNil(t, stage)
	assert.False(t, stage.Failed)
	assert.Equal(t, models.StagePending, stage.Status)

	// Nothing past the paused step was enqueued.
	var later int64
	require.NoError(t, h.db.Model(&models.Task{}).
		Where("type = ?", models.TaskTranscribe).
		Count(&later).Error)
	assert.Zero(t, later)
}

func TestPause_MidStepParksChainAfterStepFinishes(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Paused Mid Flight")

	// The operator pauses while transcription is running. The in-flight
	// step finishes naturally; the chain parks before its successors.
	h.env.Transcriber = &stubTranscriber{fn: func(tctx context.Context, req providers.TranscribeRequest) (*providers.Transcription, error) {
		require.NoError(t, h.orch.Pause(tctx, rec.ID, user.ID))
		return okTranscriber().fn(tctx, req)
	}}

	_, err := h.orch.Launch(ctx, LaunchRequest{RecordingID: rec.ID, UserID: user.ID})
	require.NoError(t, err)
	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Failed)
	assert.True(t, got.OnPause, "a stale step save must not clear the pause")

	tr := got.StageByType(models.StageTranscribe)
	require.NotNil(t, tr)
	assert.Equal(t, models.StageCompleted, tr.Status)

	for _, dep := range models.TranscriptionDependents {
		stage := got.StageByType(dep)
		require.NotNil(t, stage, dep)
		assert.Equal(t, models.StagePending, stage.Status, dep)
	}

	var depTasks int64
	require.NoError(t, h.db.Model(&models.Task{}).
		Where("type IN ?", []models.TaskType{models.TaskExtractTopics, models.TaskGenerateSubtitles}).
		Count(&depTasks).Error)
	assert.Zero(t, depTasks)
}

func TestUploadExecutor_DeliversAndSettlesPipeline(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	sealer, err := credentials.NewAESSealer(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)
	vault := credentials.NewVault(repository.NewCredentialRepository(h.db), sealer)
	h.env.Vault = vault

	var uploads int
	h.env.Uploaders.Register(&providers.StubUploader{
		PlatformName: "videohub",
		UploadFunc: func(_ context.Context, req providers.UploadRequest) (*providers.UploadResult, error) {
			uploads++
			assert.JSONEq(t, `{"token":"tok-1"}`, string(req.Credentials))
			assert.Equal(t, "Launch Review", req.Title)
			return &providers.UploadResult{
				ExternalID:  "vid-42",
				ExternalURL: "https://videohub.example/v/42",
			}, nil
		},
	})

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Launch Review")
	start := models.Now()
	rec.PipelineStartedAt = &start
	rec.Status = models.StatusProcessed
	require.NoError(t, h.db.Save(rec).Error)

	cred, err := vault.Store(ctx, user.ID, "videohub", "main", map[string]string{"token": "tok-1"})
	require.NoError(t, err)
	preset := &models.OutputPreset{
		UserID:       user.ID,
		Name:         "Main channel",
		Platform:     "videohub",
		CredentialID: cred.ID,
	}
	require.NoError(t, h.db.Create(preset).Error)

	_, err = h.orch.ScheduleUpload(ctx, rec.ID, user.ID, "videohub", preset.ID.String())
	require.NoError(t, err)
	h.drain(t)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, uploads)
	assert.Equal(t, models.StatusReady, got.Status)

	tgt := got.TargetByType("videohub")
	require.NotNil(t, tgt)
	assert.Equal(t, models.TargetUploaded, tgt.Status)
	assert.Equal(t, "vid-42", tgt.VideoID)
	assert.Equal(t, "https://videohub.example/v/42", tgt.VideoURL)

	// Every target settled, so the end-to-end timing closed.
	require.NotNil(t, got.PipelineCompletedAt)

	// A re-delivered upload task is a no-op on an uploaded target.
	res, err := h.env.Upload(ctx, steps.Request{
		RecordingID: rec.ID,
		UserID:      user.ID,
		Platform:    "videohub",
		PresetID:    preset.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "already_uploaded", res["status"])
	assert.Equal(t, 1, uploads)
}

func TestHandleFailure_DownloadKeepsMappedRecordingLaunchable(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Weekly Sync")
	rec.Status = models.StatusDownloading
	require.NoError(t, h.db.Save(rec).Error)

	p := Payload{RecordingID: rec.ID, UserID: user.ID}
	h.orch.HandleFailure(ctx, models.TaskDownload, p, recerr.New(recerr.KindTransient, "download: server returned 502"), false)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitialized, got.Status)
	assert.True(t, got.Failed)
	assert.Equal(t, "download", got.FailedAtStage)
	assert.Contains(t, got.FailedReason, "502")
	require.NotNil(t, got.FailedAt)

	// The next download attempt clears its own failure flags.
	got.ClearFailureForStage("download")
	assert.False(t, got.Failed)
	assert.Empty(t, got.FailedAtStage)
	assert.Empty(t, got.FailedReason)
	assert.Nil(t, got.FailedAt)
}

func TestHandleFailure_DownloadParksUnmappedRecording(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Orphan")
	rec.Status = models.StatusDownloading
	rec.IsMapped = false
	require.NoError(t, h.db.Save(rec).Error)

	p := Payload{RecordingID: rec.ID, UserID: user.ID}
	h.orch.HandleFailure(ctx, models.TaskDownload, p, recerr.New(recerr.KindTerminal, "download: server returned 410"), false)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, got.Status)
	assert.True(t, got.Failed)
}

func TestHandleFailure_TrimFallsBackToDownloaded(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	user := h.createUser(t, 1, transcriptionConfig(false))
	rec := h.createDownloadedRecording(t, user, "Trimmed")
	rec.Status = models.StatusProcessing
	require.NoError(t, h.db.Save(rec).Error)

	p := Payload{RecordingID: rec.ID, UserID: user.ID}
	h.orch.HandleFailure(ctx, models.TaskTrim, p, recerr.New(recerr.KindTerminal, "trim: exit status 1"), false)

	got, err := h.recordings.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
	assert.Equal(t, "trim", got.FailedAtStage)

	stage := got.StageByType(models.StageTrim)
	require.NotNil(t, stage)
	assert.True(t, stage.Failed)
	assert.Contains(t, stage.FailedReason, "exit status 1")
}

func TestClearFailureForStage_LeavesOtherStagesAlone(t *testing.T) {
	rec := &models.Recording{}
	rec.MarkFailure("transcribe", "upstream gone")

	assert.False(t, rec.ClearFailureForStage("download"))
	assert.True(t, rec.Failed, "a transcribe failure survives a download retry")
	assert.True(t, rec.ClearFailureForStage("transcribe"))
	assert.False(t, rec.Failed)
}
