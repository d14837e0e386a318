package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/models"
)

func TestRecordingRepo_GetByID_TenantIsolation(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})

	alice := createTestUser(t, db, 1)
	bob := createTestUser(t, db, 2)
	rec := createTestRecording(t, db, alice.ID, "Weekly Sync")

	got, err := repo.GetByID(ctx, rec.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Weekly Sync", got.DisplayName)

	// Another tenant sees nothing, indistinguishable from a missing row.
	got, err = repo.GetByID(ctx, rec.ID, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetByID(ctx, 99999, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordingRepo_GetByID_EagerLoads(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})

	user := createTestUser(t, db, 1)
	rec := createTestRecording(t, db, user.ID, "Weekly Sync")

	require.NoError(t, db.Create(&models.ProcessingStage{
		RecordingID: rec.ID,
		StageType:   models.StageTrim,
	}).Error)
	require.NoError(t, db.Create(&models.OutputTarget{
		RecordingID: rec.ID,
		TargetType:  "videohub",
	}).Error)
	require.NoError(t, db.Create(&models.SourceMetadata{
		RecordingID: rec.ID,
		DownloadURL: "https://example.com/rec.mp4",
	}).Error)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Stages, 1)
	assert.Len(t, got.Targets, 1)
	require.NotNil(t, got.SourceMetadata)
	assert.Equal(t, "https://example.com/rec.mp4", got.SourceMetadata.DownloadURL)
}

func TestRecordingRepo_ListByUser_FiltersAndPaging(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})

	user := createTestUser(t, db, 1)
	for i := 0; i < 5; i++ {
		createTestRecording(t, db, user.ID, "Rec")
	}
	skipped := createTestRecording(t, db, user.ID, "Skipped")
	require.NoError(t, db.Model(skipped).UpdateColumn("status", models.StatusSkipped).Error)

	all, total, err := repo.ListByUser(ctx, user.ID, RecordingFilters{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, all, 6)

	paged, total, err := repo.ListByUser(ctx, user.ID, RecordingFilters{}, Page{Offset: 4, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, paged, 2)

	onlySkipped, _, err := repo.ListByUser(ctx, user.ID,
		RecordingFilters{Statuses: []models.RecordingStatus{models.StatusSkipped}}, Page{})
	require.NoError(t, err)
	require.Len(t, onlySkipped, 1)
	assert.Equal(t, skipped.ID, onlySkipped[0].ID)
}

func TestRecordingRepo_ListByUser_ExcludesDeletedByDefault(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})

	user := createTestUser(t, db, 1)
	keep := createTestRecording(t, db, user.ID, "Keep")
	gone := createTestRecording(t, db, user.ID, "Gone")
	require.NoError(t, repo.SoftDelete(ctx, gone.ID, user.ID, "user", RetentionWindows{SoftDeleteDays: 3, HardDeleteDays: 30}))

	visible, total, err := repo.ListByUser(ctx, user.ID, RecordingFilters{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, visible, 1)
	assert.Equal(t, keep.ID, visible[0].ID)

	withDeleted, total, err := repo.ListByUser(ctx, user.ID, RecordingFilters{IncludeDeleted: true}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, withDeleted, 2)
}

func TestRecordingRepo_CreateOrUpdate(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	start := models.Now()
	rec := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Standup",
		SourceType:  "meeting",
		SourceKey:   "mtg-1",
		StartTime:   &start,
		SourceMetadata: &models.SourceMetadata{
			DownloadURL: "https://example.com/a.mp4",
		},
	}
	outcome, err := repo.CreateOrUpdate(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, outcome)
	require.NotZero(t, rec.ID)
	firstID := rec.ID

	// Same key with unchanged fields is untouched.
	again := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Standup",
		SourceType:  "meeting",
		SourceKey:   "mtg-1",
		StartTime:   &start,
	}
	outcome, err = repo.CreateOrUpdate(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, UpsertUntouched, outcome)
	assert.Equal(t, firstID, again.ID)

	// A changed title updates in place, no second row.
	renamed := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Standup (recovered)",
		SourceType:  "meeting",
		SourceKey:   "mtg-1",
		StartTime:   &start,
	}
	outcome, err = repo.CreateOrUpdate(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, outcome)
	assert.Equal(t, firstID, renamed.ID)

	var count int64
	require.NoError(t, db.Model(&models.Recording{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByID(ctx, firstID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standup (recovered)", got.DisplayName)
	require.NotNil(t, got.SourceMetadata)
}

func TestRecordingRepo_CreateOrUpdate_PendingSourceBecomesActionable(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	start := models.Now()
	rec := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Retro",
		SourceType:  "meeting",
		SourceKey:   "mtg-2",
		StartTime:   &start,
		Status:      models.StatusPendingSource,
		SourceMetadata: &models.SourceMetadata{
			StillProcessing: true,
		},
	}
	_, err := repo.CreateOrUpdate(ctx, rec)
	require.NoError(t, err)

	// Provider finishes preparing the media on the next sync.
	done := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Retro",
		SourceType:  "meeting",
		SourceKey:   "mtg-2",
		StartTime:   &start,
		SourceMetadata: &models.SourceMetadata{
			StillProcessing: false,
			DownloadURL:     "https://example.com/b.mp4",
		},
	}
	outcome, err := repo.CreateOrUpdate(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, outcome)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitialized, got.Status)
}

func TestRecordingRepo_CreateOrUpdate_PendingBlankBecomesSkipped(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	start := models.Now()
	rec := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Empty room",
		SourceType:  "meeting",
		SourceKey:   "mtg-3",
		StartTime:   &start,
		Status:      models.StatusPendingSource,
		SourceMetadata: &models.SourceMetadata{
			StillProcessing: true,
		},
	}
	_, err := repo.CreateOrUpdate(ctx, rec)
	require.NoError(t, err)

	done := &models.Recording{
		UserID:          user.ID,
		DisplayName:     "Empty room",
		SourceType:      "meeting",
		SourceKey:       "mtg-3",
		StartTime:       &start,
		DurationSeconds: 10,
		BlankRecord:     true,
		SourceMetadata: &models.SourceMetadata{
			StillProcessing: false,
		},
	}
	_, err = repo.CreateOrUpdate(ctx, done)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, got.Status)
	assert.True(t, got.BlankRecord)
}

func TestRecordingRepo_CreateOrUpdate_ReadyNeverTouched(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	start := models.Now()
	rec := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Shipped",
		SourceType:  "meeting",
		SourceKey:   "mtg-4",
		StartTime:   &start,
	}
	_, err := repo.CreateOrUpdate(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, db.Model(rec).UpdateColumn("status", models.StatusReady).Error)

	renamed := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Shipped v2",
		SourceType:  "meeting",
		SourceKey:   "mtg-4",
		StartTime:   &start,
	}
	outcome, err := repo.CreateOrUpdate(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, UpsertUntouched, outcome)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shipped", got.DisplayName)
}

func TestRecordingRepo_StageMutationRecomputesStatus(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	rec := createTestRecording(t, db, user.ID, "Rec")
	require.NoError(t, db.Model(rec).UpdateColumn("status", models.StatusDownloaded).Error)

	stage, err := repo.GetOrCreateStage(ctx, rec.ID, models.StageTrim)
	require.NoError(t, err)
	require.Equal(t, models.StagePending, stage.Status)

	// Creating the same stage again returns the existing row.
	same, err := repo.GetOrCreateStage(ctx, rec.ID, models.StageTrim)
	require.NoError(t, err)
	assert.Equal(t, stage.ID, same.ID)

	stage.MarkInProgress()
	require.NoError(t, repo.SaveStage(ctx, stage))

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)

	stage.MarkCompleted(nil)
	require.NoError(t, repo.SaveStage(ctx, stage))

	got, err = repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, got.Status)
}

func TestRecordingRepo_SkipStageCascade(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	rec := createTestRecording(t, db, user.ID, "Rec")
	require.NoError(t, db.Model(rec).UpdateColumn("status", models.StatusProcessing).Error)

	tr, err := repo.GetOrCreateStage(ctx, rec.ID, models.StageTranscribe)
	require.NoError(t, err)
	tr.MarkInProgress()
	require.NoError(t, repo.SaveStage(ctx, tr))

	_, err = repo.GetOrCreateStage(ctx, rec.ID, models.StageExtractTopics)
	require.NoError(t, err)
	subs, err := repo.GetOrCreateStage(ctx, rec.ID, models.StageGenerateSubtitles)
	require.NoError(t, err)
	subs.MarkCompleted(nil)
	require.NoError(t, repo.SaveStage(ctx, subs))

	require.NoError(t, repo.SkipStageCascade(ctx, rec.ID, models.StageTranscribe,
		"model rejected the audio", models.TranscriptionDependents))

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)

	st := got.StageByType(models.StageTranscribe)
	require.NotNil(t, st)
	assert.Equal(t, models.StageSkipped, st.Status)
	assert.Equal(t, models.SkipReasonError, st.SkipReason)
	assert.True(t, st.Failed)
	assert.Contains(t, st.FailedReason, "rejected")

	topics := got.StageByType(models.StageExtractTopics)
	require.NotNil(t, topics)
	assert.Equal(t, models.StageSkipped, topics.Status)
	assert.Equal(t, models.SkipReasonParentFailed, topics.SkipReason)
	assert.False(t, topics.Failed)

	// A dependent that already finished keeps its result.
	done := got.StageByType(models.StageGenerateSubtitles)
	require.NotNil(t, done)
	assert.Equal(t, models.StageCompleted, done.Status)
	assert.Empty(t, done.SkipReason)

	// The aggregate recompute rides the same transaction, so the
	// recording settles the moment every stage is terminal.
	assert.Equal(t, models.StatusProcessed, got.Status)
}

func TestRecordingRepo_OutputTargetLifecycle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	rec := createTestRecording(t, db, user.ID, "Rec")
	stage, err := repo.GetOrCreateStage(ctx, rec.ID, models.StageTrim)
	require.NoError(t, err)
	stage.MarkCompleted(nil)
	require.NoError(t, repo.SaveStage(ctx, stage))

	target, err := repo.MarkOutputUploading(ctx, rec.ID, user.ID, "videohub")
	require.NoError(t, err)
	assert.Equal(t, models.TargetUploading, target.Status)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploading, got.Status)

	require.NoError(t, repo.SaveUploadResult(ctx, rec.ID, user.ID, "videohub",
		"vid-123", "https://videohub.example/v/123", models.JSONMap{"playlist": "added"}))

	got, err = repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)
	tgt := got.TargetByType("videohub")
	require.NotNil(t, tgt)
	assert.Equal(t, models.TargetUploaded, tgt.Status)
	assert.Equal(t, "vid-123", tgt.VideoID)
}

func TestRecordingRepo_MarkOutputFailed(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	rec := createTestRecording(t, db, user.ID, "Rec")
	require.NoError(t, repo.MarkOutputFailed(ctx, rec.ID, user.ID, "videohub", "quota exceeded"))

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	tgt := got.TargetByType("videohub")
	require.NotNil(t, tgt)
	assert.Equal(t, models.TargetFailed, tgt.Status)
	assert.True(t, tgt.Failed)
	assert.Equal(t, "quota exceeded", tgt.FailedReason)
}

func TestRecordingRepo_SoftDeleteAndRestore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	rec := createTestRecording(t, db, user.ID, "Rec")
	windows := RetentionWindows{SoftDeleteDays: 3, HardDeleteDays: 30}

	require.NoError(t, repo.SoftDelete(ctx, rec.ID, user.ID, "user request", windows))

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeleteStateSoft, got.DeleteState)
	assert.True(t, got.Deleted)
	assert.Equal(t, "user request", got.DeletionReason)
	require.NotNil(t, got.SoftDeletedAt)
	require.NotNil(t, got.HardDeleteAt)
	assert.True(t, got.HardDeleteAt.After(*got.SoftDeletedAt))

	// Re-deleting is a no-op, not an error.
	require.NoError(t, repo.SoftDelete(ctx, rec.ID, user.ID, "again", windows))
	got, err = repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "user request", got.DeletionReason)

	require.NoError(t, repo.Restore(ctx, rec.ID, user.ID, nil))
	got, err = repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeleteStateActive, got.DeleteState)
	assert.False(t, got.Deleted)
	assert.Nil(t, got.SoftDeletedAt)
	assert.Nil(t, got.HardDeleteAt)

	// Restoring an active recording is refused.
	err = repo.Restore(ctx, rec.ID, user.ID, nil)
	assert.ErrorIs(t, err, models.ErrNotSoftDeleted)
}

func TestRecordingRepo_AutoExpireSetsExpiredStatus(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)

	rec := createTestRecording(t, db, user.ID, "Old")
	require.NoError(t, repo.AutoExpire(ctx, rec.ID, user.ID, RetentionWindows{SoftDeleteDays: 3, HardDeleteDays: 30}))

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionReasonExpired, got.DeletionReason)
	assert.Equal(t, models.StatusExpired, got.Status)
}

func TestRecordingRepo_CleanupRecordingFiles(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, artifacts.Remover{})
	user := createTestUser(t, db, 1)

	dir := t.TempDir()
	video := filepath.Join(dir, "1.mp4")
	require.NoError(t, os.WriteFile(video, []byte("0123456789"), 0o644))

	rec := createTestRecording(t, db, user.ID, "Rec")
	require.NoError(t, db.Model(rec).UpdateColumn("local_video_path", video).Error)

	// Cleanup on an active recording is refused.
	_, err := repo.CleanupRecordingFiles(ctx, rec.ID, user.ID)
	assert.ErrorIs(t, err, models.ErrDeleteStateChanged)
	assert.FileExists(t, video)

	require.NoError(t, repo.SoftDelete(ctx, rec.ID, user.ID, "user", RetentionWindows{SoftDeleteDays: 0, HardDeleteDays: 30}))

	freed, err := repo.CleanupRecordingFiles(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), freed)
	assert.NoFileExists(t, video)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeleteStateHard, got.DeleteState)
	assert.Empty(t, got.LocalVideoPath)

	// A second pass finds the state already advanced.
	_, err = repo.CleanupRecordingFiles(ctx, rec.ID, user.ID)
	assert.ErrorIs(t, err, models.ErrDeleteStateChanged)
}

func TestRecordingRepo_Delete_RemovesRowAndChildren(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, artifacts.Remover{})
	user := createTestUser(t, db, 1)

	dir := t.TempDir()
	video := filepath.Join(dir, "1.mp4")
	require.NoError(t, os.WriteFile(video, []byte("media"), 0o644))
	transDir := filepath.Join(dir, "transcriptions", "1")
	require.NoError(t, os.MkdirAll(transDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(transDir, "master.json"), []byte("{}"), 0o644))

	rec := createTestRecording(t, db, user.ID, "Rec")
	require.NoError(t, db.Model(rec).UpdateColumns(map[string]interface{}{
		"local_video_path":  video,
		"transcription_dir": transDir,
	}).Error)
	require.NoError(t, db.Create(&models.ProcessingStage{
		RecordingID: rec.ID,
		StageType:   models.StageTrim,
	}).Error)

	require.NoError(t, repo.Delete(ctx, rec.ID, user.ID))
	assert.NoFileExists(t, video)
	assert.NoDirExists(t, transDir)

	got, err := repo.GetByID(ctx, rec.ID, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	var stages int64
	require.NoError(t, db.Model(&models.ProcessingStage{}).
		Where("recording_id = ?", rec.ID).Count(&stages).Error)
	assert.Zero(t, stages)

	// Deleting again is a no-op.
	require.NoError(t, repo.Delete(ctx, rec.ID, user.ID))
}

func TestRecordingRepo_RetentionListings(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)
	now := models.Now()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := createTestRecording(t, db, user.ID, "Expired")
	require.NoError(t, db.Model(expired).UpdateColumn("expire_at", past).Error)
	fresh := createTestRecording(t, db, user.ID, "Fresh")
	require.NoError(t, db.Model(fresh).UpdateColumn("expire_at", future).Error)

	soft := createTestRecording(t, db, user.ID, "Soft")
	require.NoError(t, repo.SoftDelete(ctx, soft.ID, user.ID, "user", RetentionWindows{SoftDeleteDays: 0, HardDeleteDays: 0}))

	expirable, err := repo.ListExpirable(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, expirable, 1)
	assert.Equal(t, expired.ID, expirable[0].ID)

	cleanup, err := repo.ListCleanupDue(ctx, now.Add(time.Second), 100)
	require.NoError(t, err)
	require.Len(t, cleanup, 1)
	assert.Equal(t, soft.ID, cleanup[0].ID)

	hard, err := repo.ListHardDeleteDue(ctx, now.Add(time.Second), 100)
	require.NoError(t, err)
	require.Len(t, hard, 1)
	assert.Equal(t, soft.ID, hard[0].ID)
}

func TestRecordingRepo_CountByUserAndPeriod(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db, nopRemover{})
	user := createTestUser(t, db, 1)
	other := createTestUser(t, db, 2)

	createTestRecording(t, db, user.ID, "A")
	createTestRecording(t, db, user.ID, "B")
	createTestRecording(t, db, other.ID, "C")

	now := models.Now()
	count, err := repo.CountByUserAndPeriod(ctx, user.ID, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = repo.CountByUserAndPeriod(ctx, user.ID, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}
