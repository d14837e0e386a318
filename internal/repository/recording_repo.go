package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/status"
)

// FileRemover removes artifact files and trees; satisfied by
// artifacts.Remover. Injected so repository tests can run without
// touching the filesystem layout.
type FileRemover interface {
	RemoveFile(path string) (int64, error)
	RemoveTree(path string) (int64, error)
}

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db    *gorm.DB
	files FileRemover
}

// NewRecordingRepository creates a recording repository. A nil files
// remover defaults to the artifact store's remover.
func NewRecordingRepository(db *gorm.DB, files FileRemover) *recordingRepo {
	if files == nil {
		files = artifacts.Remover{}
	}
	return &recordingRepo{db: db, files: files}
}

var _ RecordingRepository = (*recordingRepo)(nil)

// preload attaches the standard child set to a recording query.
func preload(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Stages").
		Preload("Targets").
		Preload("Targets.Preset").
		Preload("SourceMetadata").
		Preload("InputSource")
}

func (r *recordingRepo) GetByID(ctx context.Context, rid int64, userID models.ULID) (*models.Recording, error) {
	var rec models.Recording
	err := preload(r.db.WithContext(ctx)).
		Where("id = ? AND user_id = ?", rid, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting recording: %w", err)
	}
	return &rec, nil
}

func (r *recordingRepo) GetByIDs(ctx context.Context, rids []int64, userID models.ULID) ([]*models.Recording, error) {
	if len(rids) == 0 {
		return nil, nil
	}
	var recs []*models.Recording
	err := preload(r.db.WithContext(ctx)).
		Where("id IN ? AND user_id = ?", rids, userID).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("getting recordings: %w", err)
	}
	return recs, nil
}

func (r *recordingRepo) ListByUser(ctx context.Context, userID models.ULID, filters RecordingFilters, page Page) ([]*models.Recording, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("user_id = ?", userID)

	if len(filters.Statuses) > 0 {
		q = q.Where("status IN ?", filters.Statuses)
	}
	if filters.TemplateID != nil {
		q = q.Where("template_id = ?", *filters.TemplateID)
	}
	if filters.InputSourceID != nil {
		q = q.Where("input_source_id = ?", *filters.InputSourceID)
	}
	if !filters.IncludeDeleted {
		q = q.Where("delete_state = ?", models.DeleteStateActive)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}

	var recs []*models.Recording
	err := preload(q).
		Order("start_time DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, total, nil
}

func (r *recordingRepo) CreateOrUpdate(ctx context.Context, rec *models.Recording) (UpsertOutcome, error) {
	outcome := UpsertUntouched
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Preload("SourceMetadata").
			Where("user_id = ? AND source_type = ? AND source_key = ?",
				rec.UserID, rec.SourceType, rec.SourceKey)
		if rec.StartTime != nil {
			q = q.Where("start_time = ?", *rec.StartTime)
		} else {
			q = q.Where("start_time IS NULL")
		}

		var existing models.Recording
		err := q.First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("creating recording: %w", err)
			}
			outcome = UpsertCreated
			return nil
		case err != nil:
			return fmt.Errorf("finding recording: %w", err)
		}

		// A finished or deleted recording is never touched by source sync.
		if existing.IsDeleted() || existing.Status == models.StatusReady {
			rec.ID = existing.ID
			return nil
		}

		changed := syncFields(&existing, rec)

		// A recording parked on the provider becomes actionable (or
		// skipped, when blank) once the provider finishes preparing it.
		if existing.Status == models.StatusPendingSource && !stillProcessing(rec) {
			if existing.BlankRecord {
				existing.Status = models.StatusSkipped
			} else {
				existing.Status = models.StatusInitialized
			}
			changed = true
		}

		if changed {
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating recording: %w", err)
			}
			outcome = UpsertUpdated
		}
		if rec.SourceMetadata != nil {
			if err := upsertSourceMetadata(tx, existing.ID, rec.SourceMetadata); err != nil {
				return err
			}
		}
		rec.ID = existing.ID
		return nil
	})
	if err != nil {
		return UpsertUntouched, err
	}
	return outcome, nil
}

// syncFields copies the provider-owned fields of incoming onto existing,
// reporting whether anything changed. Pipeline-owned fields are left alone.
func syncFields(existing, incoming *models.Recording) bool {
	changed := false
	if incoming.DisplayName != "" && existing.DisplayName != incoming.DisplayName {
		existing.DisplayName = incoming.DisplayName
		changed = true
	}
	if incoming.DurationSeconds > 0 && existing.DurationSeconds != incoming.DurationSeconds {
		existing.DurationSeconds = incoming.DurationSeconds
		changed = true
	}
	if incoming.SizeBytes > 0 && existing.SizeBytes != incoming.SizeBytes {
		existing.SizeBytes = incoming.SizeBytes
		changed = true
	}
	if incoming.BlankRecord != existing.BlankRecord {
		existing.BlankRecord = incoming.BlankRecord
		changed = true
	}
	return changed
}

// stillProcessing reports whether the incoming sync payload says the
// provider is still preparing the media.
func stillProcessing(rec *models.Recording) bool {
	return rec.SourceMetadata != nil && rec.SourceMetadata.StillProcessing
}

// upsertSourceMetadata creates or refreshes the 1:1 metadata child.
func upsertSourceMetadata(tx *gorm.DB, rid int64, incoming *models.SourceMetadata) error {
	var existing models.SourceMetadata
	err := tx.Where("recording_id = ?", rid).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		incoming.RecordingID = rid
		if err := tx.Create(incoming).Error; err != nil {
			return fmt.Errorf("creating source metadata: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding source metadata: %w", err)
	}

	existing.DownloadURL = incoming.DownloadURL
	existing.Passcode = incoming.Passcode
	existing.FileSizeBytes = incoming.FileSizeBytes
	existing.StillProcessing = incoming.StillProcessing
	existing.AccountName = incoming.AccountName
	if incoming.Payload != nil {
		existing.Payload = incoming.Payload
	}
	// Tokens are only replaced when the sync carried a fresh one.
	if incoming.AccessToken != "" {
		existing.AccessToken = incoming.AccessToken
		existing.TokenIssuedAt = incoming.TokenIssuedAt
	}
	if err := tx.Save(&existing).Error; err != nil {
		return fmt.Errorf("updating source metadata: %w", err)
	}
	return nil
}

func (r *recordingRepo) Update(ctx context.Context, rec *models.Recording) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// on_pause is operator-owned and only written through SetPause; a
		// step saving a copy loaded before the pause landed must not
		// clear it.
		if err := tx.Omit("Stages", "Targets", "Timings", "SourceMetadata", "OnPause").
			Save(rec).Error; err != nil {
			return fmt.Errorf("updating recording: %w", err)
		}
		fresh, err := recomputeStatus(tx, rec.ID)
		if err != nil {
			return err
		}
		rec.Status = fresh.Status
		return nil
	})
	return err
}

func (r *recordingRepo) SetPause(ctx context.Context, rid int64, userID models.ULID, pause bool) error {
	res := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("id = ? AND user_id = ?", rid, userID).
		UpdateColumn("on_pause", pause)
	if res.Error != nil {
		return fmt.Errorf("updating pause flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *recordingRepo) UpdateStatus(ctx context.Context, rid int64, userID models.ULID) (*models.Recording, error) {
	var rec *models.Recording
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Recording{}).
			Where("id = ? AND user_id = ?", rid, userID).
			Count(&exists).Error; err != nil {
			return fmt.Errorf("checking recording: %w", err)
		}
		if exists == 0 {
			return nil
		}
		fresh, err := recomputeStatus(tx, rid)
		if err != nil {
			return err
		}
		rec = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// recomputeStatus reloads a recording with its children, recomputes the
// aggregate status, and persists it when it moved. Returns the fresh row.
func recomputeStatus(tx *gorm.DB, rid int64) (*models.Recording, error) {
	var rec models.Recording
	err := tx.Preload("Stages").Preload("Targets").First(&rec, rid).Error
	if err != nil {
		return nil, fmt.Errorf("reloading recording for status: %w", err)
	}
	next := status.Aggregate(&rec, models.Now())
	if next != rec.Status {
		if err := tx.Model(&models.Recording{}).
			Where("id = ?", rid).
			UpdateColumn("status", next).Error; err != nil {
			return nil, fmt.Errorf("persisting status: %w", err)
		}
		rec.Status = next
	}
	return &rec, nil
}

func (r *recordingRepo) SaveSourceMetadata(ctx context.Context, meta *models.SourceMetadata) error {
	if meta.RecordingID == 0 {
		return models.ErrRecordingIDRequired
	}
	if err := r.db.WithContext(ctx).Save(meta).Error; err != nil {
		return fmt.Errorf("saving source metadata: %w", err)
	}
	return nil
}

func (r *recordingRepo) SaveStage(ctx context.Context, stage *models.ProcessingStage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(stage).Error; err != nil {
			return fmt.Errorf("saving stage: %w", err)
		}
		_, err := recomputeStatus(tx, stage.RecordingID)
		return err
	})
}

func (r *recordingRepo) GetOrCreateStage(ctx context.Context, rid int64, stageType models.StageType) (*models.ProcessingStage, error) {
	return getOrCreateStage(r.db.WithContext(ctx), rid, stageType)
}

// getOrCreateStage is the tx-scoped form, shared with the methods that
// settle several stages in one transaction.
func getOrCreateStage(tx *gorm.DB, rid int64, stageType models.StageType) (*models.ProcessingStage, error) {
	var stage models.ProcessingStage
	err := tx.
		Where("recording_id = ? AND stage_type = ?", rid, stageType).
		First(&stage).Error
	if err == nil {
		return &stage, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("finding stage: %w", err)
	}

	stage = models.ProcessingStage{
		RecordingID: rid,
		StageType:   stageType,
		Status:      models.StagePending,
	}
	if err := tx.Create(&stage).Error; err != nil {
		return nil, fmt.Errorf("creating stage: %w", err)
	}
	return &stage, nil
}

// SkipStageCascade settles a tolerated stage failure atomically. The
// stage is marked skipped-on-error with the failure kept visible, every
// listed dependent not already terminal is skipped as parent_failed,
// and the aggregate is recomputed, all in one transaction. A crash can
// never strand a dependent as pending while its parent is already
// skipped.
func (r *recordingRepo) SkipStageCascade(ctx context.Context, rid int64, stageType models.StageType, reason string, dependents []models.StageType) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stage, err := getOrCreateStage(tx, rid, stageType)
		if err != nil {
			return err
		}
		stage.Failed = true
		stage.FailedReason = models.TruncateReason(reason)
		stage.MarkSkipped(models.SkipReasonError)
		if err := tx.Save(stage).Error; err != nil {
			return fmt.Errorf("saving skipped stage: %w", err)
		}

		for _, dep := range dependents {
			depStage, err := getOrCreateStage(tx, rid, dep)
			if err != nil {
				return err
			}
			if depStage.IsTerminal() {
				continue
			}
			depStage.MarkSkipped(models.SkipReasonParentFailed)
			if err := tx.Save(depStage).Error; err != nil {
				return fmt.Errorf("cascading skip to %s stage: %w", dep, err)
			}
		}

		_, err = recomputeStatus(tx, rid)
		return err
	})
}

func (r *recordingRepo) SoftDelete(ctx context.Context, rid int64, userID models.ULID, reason string, windows RetentionWindows) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Recording
		err := tx.Where("id = ? AND user_id = ?", rid, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("getting recording: %w", err)
		}
		// Deletion is monotone; re-deleting is a no-op.
		if rec.DeleteState != models.DeleteStateActive {
			return nil
		}

		now := models.Now()
		softAt := now.AddDate(0, 0, windows.SoftDeleteDays)
		hardAt := softAt.AddDate(0, 0, windows.HardDeleteDays)
		cols := map[string]interface{}{
			"delete_state":    models.DeleteStateSoft,
			"deleted":         true,
			"deletion_reason": reason,
			"deleted_at":      now,
			"soft_deleted_at": softAt,
			"hard_delete_at":  hardAt,
			"updated_at":      now,
		}
		if err := tx.Model(&models.Recording{}).
			Where("id = ?", rid).
			UpdateColumns(cols).Error; err != nil {
			return fmt.Errorf("soft deleting recording: %w", err)
		}
		_, err = recomputeStatus(tx, rid)
		return err
	})
}

func (r *recordingRepo) AutoExpire(ctx context.Context, rid int64, userID models.ULID, windows RetentionWindows) error {
	return r.SoftDelete(ctx, rid, userID, models.DeletionReasonExpired, windows)
}

func (r *recordingRepo) Restore(ctx context.Context, rid int64, userID models.ULID, expireAt *models.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Recording
		err := tx.Where("id = ? AND user_id = ?", rid, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("getting recording: %w", err)
		}
		if rec.DeleteState != models.DeleteStateSoft {
			return models.ErrNotSoftDeleted
		}

		cols := map[string]interface{}{
			"delete_state":    models.DeleteStateActive,
			"deleted":         false,
			"deletion_reason": "",
			"deleted_at":      nil,
			"soft_deleted_at": nil,
			"hard_delete_at":  nil,
			"expire_at":       expireAt,
			"updated_at":      models.Now(),
		}
		if err := tx.Model(&models.Recording{}).
			Where("id = ?", rid).
			UpdateColumns(cols).Error; err != nil {
			return fmt.Errorf("restoring recording: %w", err)
		}
		_, err = recomputeStatus(tx, rid)
		return err
	})
}

// ResetPipeline clears the pipeline state of an active recording: stage
// rows go, failure fields and the pause flag clear, and failed upload
// targets return to not_uploaded (uploaded targets stay terminal). With
// preserve false the processed artifacts and inline topic results are
// dropped too; the downloaded source file survives either way.
func (r *recordingRepo) ResetPipeline(ctx context.Context, rid int64, userID models.ULID, preserve bool) error {
	var paths []string
	var transcriptionDir string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Recording
		err := tx.Where("id = ? AND user_id = ?", rid, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("getting recording: %w", err)
		}
		if rec.IsDeleted() {
			return models.ErrRecordingDeleted
		}

		if err := tx.Where("recording_id = ?", rid).
			Delete(&models.ProcessingStage{}).Error; err != nil {
			return fmt.Errorf("deleting stage rows: %w", err)
		}
		if err := tx.Model(&models.OutputTarget{}).
			Where("recording_id = ? AND status = ?", rid, models.TargetFailed).
			UpdateColumns(map[string]interface{}{
				"status":        models.TargetNotUploaded,
				"failed":        false,
				"failed_reason": "",
				"updated_at":    models.Now(),
			}).Error; err != nil {
			return fmt.Errorf("resetting failed targets: %w", err)
		}

		baseStatus := models.StatusInitialized
		if rec.LocalVideoPath != "" {
			baseStatus = models.StatusDownloaded
		}
		cols := map[string]interface{}{
			"status":                baseStatus,
			"on_pause":              false,
			"failed":                false,
			"failed_at_stage":       "",
			"failed_reason":         "",
			"failed_at":             nil,
			"pipeline_completed_at": nil,
			"updated_at":            models.Now(),
		}
		if !preserve {
			paths = []string{rec.ProcessedVideoPath, rec.ProcessedAudioPath}
			transcriptionDir = rec.TranscriptionDir
			cols["processed_video_path"] = ""
			cols["processed_audio_path"] = ""
			cols["transcription_dir"] = ""
			cols["main_topics"] = nil
			cols["topics_with_timestamps"] = nil
		}
		if err := tx.Model(&models.Recording{}).
			Where("id = ?", rid).
			UpdateColumns(cols).Error; err != nil {
			return fmt.Errorf("resetting recording: %w", err)
		}
		_, err = recomputeStatus(tx, rid)
		return err
	})
	if err != nil {
		return err
	}

	for _, p := range paths {
		if _, err := r.files.RemoveFile(p); err != nil {
			return fmt.Errorf("removing processed artifact: %w", err)
		}
	}
	if transcriptionDir != "" {
		if _, err := r.files.RemoveTree(transcriptionDir); err != nil {
			return fmt.Errorf("removing transcription dir: %w", err)
		}
	}
	return nil
}

func (r *recordingRepo) CleanupRecordingFiles(ctx context.Context, rid int64, userID models.ULID) (int64, error) {
	var paths []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Recording
		err := tx.Where("id = ? AND user_id = ?", rid, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("getting recording: %w", err)
		}
		// The refetch guards against a concurrent restore or a second
		// cleanup pass racing this one.
		if rec.DeleteState != models.DeleteStateSoft {
			return models.ErrDeleteStateChanged
		}

		paths = []string{rec.LocalVideoPath, rec.ProcessedVideoPath, rec.ProcessedAudioPath}
		cols := map[string]interface{}{
			"delete_state":         models.DeleteStateHard,
			"local_video_path":     "",
			"processed_video_path": "",
			"processed_audio_path": "",
			"updated_at":           models.Now(),
		}
		return tx.Model(&models.Recording{}).
			Where("id = ?", rid).
			UpdateColumns(cols).Error
	})
	if err != nil {
		return 0, err
	}

	// Files go only after the state advance committed; a crash in between
	// leaves orphans that the hard delete pass removes with the user tree.
	var freed int64
	for _, p := range paths {
		n, err := r.files.RemoveFile(p)
		if err != nil {
			return freed, fmt.Errorf("removing media file: %w", err)
		}
		freed += n
	}
	return freed, nil
}

func (r *recordingRepo) Delete(ctx context.Context, rid int64, userID models.ULID) error {
	var rec models.Recording
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", rid, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting recording: %w", err)
	}

	for _, p := range []string{rec.LocalVideoPath, rec.ProcessedVideoPath, rec.ProcessedAudioPath} {
		if _, err := r.files.RemoveFile(p); err != nil {
			return fmt.Errorf("removing media file: %w", err)
		}
	}
	if _, err := r.files.RemoveTree(rec.TranscriptionDir); err != nil {
		return fmt.Errorf("removing transcription dir: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []interface{}{
			&models.StageTiming{},
			&models.OutputTarget{},
			&models.ProcessingStage{},
			&models.SourceMetadata{},
		} {
			if err := tx.Where("recording_id = ?", rid).Delete(child).Error; err != nil {
				return fmt.Errorf("deleting recording children: %w", err)
			}
		}
		if err := tx.Delete(&models.Recording{}, rid).Error; err != nil {
			return fmt.Errorf("deleting recording: %w", err)
		}
		return nil
	})
}

func (r *recordingRepo) GetOrCreateOutputTarget(ctx context.Context, rid int64, userID models.ULID, targetType string) (*models.OutputTarget, error) {
	if err := r.checkOwnership(ctx, rid, userID); err != nil {
		return nil, err
	}
	return getOrCreateTarget(r.db.WithContext(ctx), rid, targetType)
}

func getOrCreateTarget(tx *gorm.DB, rid int64, targetType string) (*models.OutputTarget, error) {
	var target models.OutputTarget
	err := tx.Where("recording_id = ? AND target_type = ?", rid, targetType).
		First(&target).Error
	if err == nil {
		return &target, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("finding output target: %w", err)
	}

	target = models.OutputTarget{
		RecordingID: rid,
		TargetType:  targetType,
		Status:      models.TargetNotUploaded,
	}
	if err := tx.Create(&target).Error; err != nil {
		return nil, fmt.Errorf("creating output target: %w", err)
	}
	return &target, nil
}

func (r *recordingRepo) MarkOutputUploading(ctx context.Context, rid int64, userID models.ULID, targetType string) (*models.OutputTarget, error) {
	if err := r.checkOwnership(ctx, rid, userID); err != nil {
		return nil, err
	}
	var target *models.OutputTarget
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := getOrCreateTarget(tx, rid, targetType)
		if err != nil {
			return err
		}
		t.MarkUploading()
		if err := tx.Save(t).Error; err != nil {
			return fmt.Errorf("saving output target: %w", err)
		}
		target = t
		_, err = recomputeStatus(tx, rid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (r *recordingRepo) MarkOutputFailed(ctx context.Context, rid int64, userID models.ULID, targetType, reason string) error {
	if err := r.checkOwnership(ctx, rid, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := getOrCreateTarget(tx, rid, targetType)
		if err != nil {
			return err
		}
		t.MarkFailed(reason)
		if err := tx.Save(t).Error; err != nil {
			return fmt.Errorf("saving output target: %w", err)
		}
		_, err = recomputeStatus(tx, rid)
		return err
	})
}

func (r *recordingRepo) SaveUploadResult(ctx context.Context, rid int64, userID models.ULID, targetType, videoID, videoURL string, meta models.JSONMap) error {
	if err := r.checkOwnership(ctx, rid, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := getOrCreateTarget(tx, rid, targetType)
		if err != nil {
			return err
		}
		t.MarkUploaded(videoID, videoURL, meta)
		if err := tx.Save(t).Error; err != nil {
			return fmt.Errorf("saving output target: %w", err)
		}
		_, err = recomputeStatus(tx, rid)
		return err
	})
}

// checkOwnership verifies the recording belongs to the tenant.
func (r *recordingRepo) checkOwnership(ctx context.Context, rid int64, userID models.ULID) error {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("id = ? AND user_id = ?", rid, userID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("checking recording: %w", err)
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *recordingRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Recording, error) {
	var recs []*models.Recording
	q := r.db.WithContext(ctx).
		Where("delete_state = ? AND deleted = ?", models.DeleteStateActive, false).
		Where("expire_at IS NOT NULL AND expire_at <= ?", now).
		Order("expire_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing expirable recordings: %w", err)
	}
	return recs, nil
}

func (r *recordingRepo) ListCleanupDue(ctx context.Context, now time.Time, limit int) ([]*models.Recording, error) {
	var recs []*models.Recording
	q := r.db.WithContext(ctx).
		Where("delete_state = ?", models.DeleteStateSoft).
		Where("soft_deleted_at IS NOT NULL AND soft_deleted_at <= ?", now).
		Order("soft_deleted_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing cleanup-due recordings: %w", err)
	}
	return recs, nil
}

func (r *recordingRepo) ListHardDeleteDue(ctx context.Context, now time.Time, limit int) ([]*models.Recording, error) {
	var recs []*models.Recording
	q := r.db.WithContext(ctx).
		Where("delete_state IN ?", []models.DeleteState{models.DeleteStateSoft, models.DeleteStateHard}).
		Where("hard_delete_at IS NOT NULL AND hard_delete_at <= ?", now).
		Order("hard_delete_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing hard-delete-due recordings: %w", err)
	}
	return recs, nil
}

func (r *recordingRepo) CountByUserAndPeriod(ctx context.Context, userID models.ULID, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}
