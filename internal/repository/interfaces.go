// Package repository defines data access for recarr entities. All database
// access goes through these interfaces; every query that surfaces tenant
// data is scoped by user id, and a missing row is indistinguishable from a
// tenant-mismatched one — both return (nil, nil).
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/recarr/internal/models"
)

// RecordingFilters narrow a recording listing.
type RecordingFilters struct {
	// Statuses keeps recordings whose aggregate status is in the set.
	Statuses []models.RecordingStatus

	// TemplateID keeps recordings bound to one template.
	TemplateID *models.ULID

	// InputSourceID keeps recordings from one source.
	InputSourceID *models.ULID

	// IncludeDeleted keeps soft/hard-deleted rows in the listing.
	IncludeDeleted bool
}

// Page is offset pagination.
type Page struct {
	Offset int
	Limit  int
}

// RetentionWindows carries the resolved deletion windows in days.
type RetentionWindows struct {
	SoftDeleteDays int
	HardDeleteDays int
}

// UpsertOutcome reports what CreateOrUpdate did with one incoming item.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUntouched UpsertOutcome = "untouched"
)

// RecordingRepository persists recordings and their children. Every
// mutating method recomputes the aggregate status as its final step.
type RecordingRepository interface {
	// GetByID retrieves one recording with stages, targets (and presets),
	// source metadata, and input source eager-loaded.
	GetByID(ctx context.Context, rid int64, userID models.ULID) (*models.Recording, error)
	// GetByIDs retrieves several recordings with the same eager loading.
	GetByIDs(ctx context.Context, rids []int64, userID models.ULID) ([]*models.Recording, error)
	// ListByUser lists recordings ordered start_time DESC with a total count.
	ListByUser(ctx context.Context, userID models.ULID, filters RecordingFilters, page Page) ([]*models.Recording, int64, error)
	// CreateOrUpdate upserts a synced recording keyed by
	// (user, source_type, source_key, start_time).
	CreateOrUpdate(ctx context.Context, rec *models.Recording) (UpsertOutcome, error)
	// Update persists the recording row (not its children; the pause
	// flag is written only through SetPause).
	Update(ctx context.Context, rec *models.Recording) error
	// SetPause writes the operator pause flag directly, untouched by any
	// concurrent Update carrying a stale copy.
	SetPause(ctx context.Context, rid int64, userID models.ULID, pause bool) error
	// UpdateStatus recomputes and persists the aggregate status.
	UpdateStatus(ctx context.Context, rid int64, userID models.ULID) (*models.Recording, error)

	// SaveSourceMetadata persists the 1:1 source metadata child, preserving
	// its recording binding.
	SaveSourceMetadata(ctx context.Context, meta *models.SourceMetadata) error

	// SaveStage persists one stage row.
	SaveStage(ctx context.Context, stage *models.ProcessingStage) error
	// GetOrCreateStage returns the stage row of the given type, creating a
	// pending one if absent.
	GetOrCreateStage(ctx context.Context, rid int64, stageType models.StageType) (*models.ProcessingStage, error)
	// SkipStageCascade marks the stage skipped on a tolerated failure and
	// skips the listed non-terminal dependents as parent_failed, with the
	// aggregate recompute, in one transaction.
	SkipStageCascade(ctx context.Context, rid int64, stageType models.StageType, reason string, dependents []models.StageType) error

	// SoftDelete moves an active recording into the soft delete state.
	SoftDelete(ctx context.Context, rid int64, userID models.ULID, reason string, windows RetentionWindows) error
	// AutoExpire soft-deletes with reason "expired"; used by retention.
	AutoExpire(ctx context.Context, rid int64, userID models.ULID, windows RetentionWindows) error
	// Restore brings a soft-deleted recording back to active.
	Restore(ctx context.Context, rid int64, userID models.ULID, expireAt *models.Time) error
	// ResetPipeline clears stage rows, failure fields, and the pause flag
	// so a fresh launch re-plans the chain. preserve keeps the processed
	// artifacts; the downloaded source always survives.
	ResetPipeline(ctx context.Context, rid int64, userID models.ULID, preserve bool) error
	// CleanupRecordingFiles removes large media of a soft-deleted recording
	// and advances it to hard. Returns bytes freed.
	CleanupRecordingFiles(ctx context.Context, rid int64, userID models.ULID) (int64, error)
	// Delete removes the row and all artifacts, running cleanup first when
	// needed.
	Delete(ctx context.Context, rid int64, userID models.ULID) error

	// GetOrCreateOutputTarget returns the target for a platform, creating it
	// if absent.
	GetOrCreateOutputTarget(ctx context.Context, rid int64, userID models.ULID, targetType string) (*models.OutputTarget, error)
	// MarkOutputUploading moves a target to uploading.
	MarkOutputUploading(ctx context.Context, rid int64, userID models.ULID, targetType string) (*models.OutputTarget, error)
	// MarkOutputFailed records an upload failure on a target.
	MarkOutputFailed(ctx context.Context, rid int64, userID models.ULID, targetType, reason string) error
	// SaveUploadResult records a successful upload on a target.
	SaveUploadResult(ctx context.Context, rid int64, userID models.ULID, targetType, videoID, videoURL string, meta models.JSONMap) error

	// ListExpirable returns active recordings whose expire_at is due.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Recording, error)
	// ListCleanupDue returns soft recordings whose soft_deleted_at is due.
	ListCleanupDue(ctx context.Context, now time.Time, limit int) ([]*models.Recording, error)
	// ListHardDeleteDue returns soft/hard recordings whose hard_delete_at is
	// due.
	ListHardDeleteDue(ctx context.Context, now time.Time, limit int) ([]*models.Recording, error)
	// CountByUserAndPeriod counts recordings created by a user in a period.
	CountByUserAndPeriod(ctx context.Context, userID models.ULID, from, to time.Time) (int64, error)
}

// TaskRepository persists queue tasks. Claiming uses row locking so
// several worker processes can share one database.
type TaskRepository interface {
	// Create enqueues a task.
	Create(ctx context.Context, task *models.Task) error
	// GetByID retrieves a task.
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	// GetForUser retrieves a task only when owned by the user.
	GetForUser(ctx context.Context, id, userID models.ULID) (*models.Task, error)
	// Update persists a task.
	Update(ctx context.Context, task *models.Task) error
	// Claim atomically claims the next runnable task of a queue for a
	// worker, or returns (nil, nil) when the queue is empty.
	Claim(ctx context.Context, queue models.TaskQueue, workerID string) (*models.Task, error)
	// Release returns a claimed task to pending.
	Release(ctx context.Context, id models.ULID) error
	// FindDuplicatePending finds a live task of the same type and recording.
	// Platform narrows the match for fan-out task types; "" matches tasks
	// whose payload has no platform.
	FindDuplicatePending(ctx context.Context, taskType models.TaskType, recordingID int64, platform string) (*models.Task, error)
	// Cancel cancels a pending or scheduled task owned by the user.
	Cancel(ctx context.Context, id, userID models.ULID) error
	// CancelPendingByRecording cancels every not-yet-claimed task of a
	// recording; used by pipeline reset.
	CancelPendingByRecording(ctx context.Context, recordingID int64, userID models.ULID) (int64, error)
	// CountRunningByUser counts a user's live tasks for quota admission.
	CountRunningByUser(ctx context.Context, userID models.ULID) (int64, error)
	// CountPendingByQueue counts the runnable backlog of one queue.
	CountPendingByQueue(ctx context.Context, queue models.TaskQueue) (int64, error)
	// RecoverStale returns tasks locked longer than staleAfter to pending.
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error)
	// Prune deletes terminal tasks completed before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
	// ListByChain returns the tasks of one pipeline chain.
	ListByChain(ctx context.Context, chainID models.ULID) ([]*models.Task, error)

	// CreateHistory records one finished attempt.
	CreateHistory(ctx context.Context, history *models.TaskHistory) error
	// PruneHistory deletes history rows older than the cutoff.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// TemplateRepository persists recording templates.
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.RecordingTemplate) error
	GetByID(ctx context.Context, id, userID models.ULID) (*models.RecordingTemplate, error)
	GetByIDs(ctx context.Context, ids []models.ULID, userID models.ULID) ([]*models.RecordingTemplate, error)
	// ListMatchable returns active, non-draft templates ordered created_at
	// ASC — the matcher's input order.
	ListMatchable(ctx context.Context, userID models.ULID) ([]*models.RecordingTemplate, error)
	ListByUser(ctx context.Context, userID models.ULID) ([]*models.RecordingTemplate, error)
	Update(ctx context.Context, tmpl *models.RecordingTemplate) error
	Delete(ctx context.Context, id, userID models.ULID) error
	// RecordUse bumps used_count and last_used_at after a matcher hit.
	RecordUse(ctx context.Context, id models.ULID) error
}

// InputSourceRepository persists input sources.
type InputSourceRepository interface {
	Create(ctx context.Context, src *models.InputSource) error
	GetByID(ctx context.Context, id, userID models.ULID) (*models.InputSource, error)
	ListByUser(ctx context.Context, userID models.ULID) ([]*models.InputSource, error)
	ListEnabled(ctx context.Context, userID models.ULID) ([]*models.InputSource, error)
	Update(ctx context.Context, src *models.InputSource) error
	Delete(ctx context.Context, id, userID models.ULID) error
	// TouchSync stamps last_sync_at after a completed sync.
	TouchSync(ctx context.Context, id models.ULID, at time.Time) error
}

// PresetRepository persists output presets.
type PresetRepository interface {
	Create(ctx context.Context, preset *models.OutputPreset) error
	GetByID(ctx context.Context, id, userID models.ULID) (*models.OutputPreset, error)
	GetByIDs(ctx context.Context, ids []models.ULID, userID models.ULID) ([]*models.OutputPreset, error)
	ListByUser(ctx context.Context, userID models.ULID) ([]*models.OutputPreset, error)
	// FindForPlatform returns the first enabled preset of a platform among
	// the given ids, preserving id order.
	FindForPlatform(ctx context.Context, ids []models.ULID, userID models.ULID, platform string) (*models.OutputPreset, error)
	Update(ctx context.Context, preset *models.OutputPreset) error
	Delete(ctx context.Context, id, userID models.ULID) error
}

// UserRepository persists users and their config layer.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id models.ULID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error)
	GetBySlug(ctx context.Context, slug int) (*models.User, error)
	ListEnabled(ctx context.Context) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	// NextSlug returns the next unused filesystem ordinal.
	NextSlug(ctx context.Context) (int, error)

	GetConfig(ctx context.Context, userID models.ULID) (*models.UserConfig, error)
	SaveConfig(ctx context.Context, cfg *models.UserConfig) error
}

// QuotaRepository persists plans, subscriptions, and usage counters.
type QuotaRepository interface {
	GetDefaultPlan(ctx context.Context) (*models.SubscriptionPlan, error)
	GetPlanByName(ctx context.Context, name string) (*models.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error

	GetSubscription(ctx context.Context, userID models.ULID) (*models.UserSubscription, error)
	SaveSubscription(ctx context.Context, sub *models.UserSubscription) error

	// GetOrCreateUsage returns the usage row of a period, creating a zero
	// row if absent.
	GetOrCreateUsage(ctx context.Context, userID models.ULID, period string) (*models.QuotaUsage, error)
	// IncrementRecordings atomically bumps the admissions counter.
	IncrementRecordings(ctx context.Context, userID models.ULID, period string, delta int) error
	// IncrementOverage atomically bumps a rejection counter.
	IncrementOverage(ctx context.Context, userID models.ULID, period string, kind string) error
	// SetStorageBytes records the last storage accounting result.
	SetStorageBytes(ctx context.Context, userID models.ULID, period string, bytes int64) error
}

// AutomationRepository persists automation jobs.
type AutomationRepository interface {
	Create(ctx context.Context, job *models.AutomationJob) error
	GetByID(ctx context.Context, id, userID models.ULID) (*models.AutomationJob, error)
	ListByUser(ctx context.Context, userID models.ULID) ([]*models.AutomationJob, error)
	// ListDue returns active jobs whose next_run_at is due, across tenants.
	ListDue(ctx context.Context, now time.Time) ([]*models.AutomationJob, error)
	ListActive(ctx context.Context) ([]*models.AutomationJob, error)
	Update(ctx context.Context, job *models.AutomationJob) error
	Delete(ctx context.Context, id, userID models.ULID) error
	// MarkRun stamps last_run_at, bumps run_count, and stores the next fire
	// time.
	MarkRun(ctx context.Context, id models.ULID, ranAt time.Time, nextRun *time.Time) error
}

// TimingRepository persists append-only stage timings.
type TimingRepository interface {
	Create(ctx context.Context, timing *models.StageTiming) error
	ListByRecording(ctx context.Context, rid int64) ([]*models.StageTiming, error)
	// NextAttempt returns 1 + the highest recorded attempt for a stage.
	NextAttempt(ctx context.Context, rid int64, stageType string) (int, error)
}

// CredentialRepository persists credentials and refresh-token lifetimes.
type CredentialRepository interface {
	Create(ctx context.Context, cred *models.Credential) error
	GetByID(ctx context.Context, id, userID models.ULID) (*models.Credential, error)
	// GetByIdentity finds a credential by (user, platform, account).
	GetByIdentity(ctx context.Context, userID models.ULID, platform, accountName string) (*models.Credential, error)
	ListByUser(ctx context.Context, userID models.ULID) ([]*models.Credential, error)
	Update(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context, id, userID models.ULID) error

	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// DeleteExpiredTokens prunes refresh-token rows past their expiry.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// JoinRepository persists parallel-group join counters.
type JoinRepository interface {
	Create(ctx context.Context, join *models.PipelineJoin) error
	GetByChain(ctx context.Context, chainID models.ULID) (*models.PipelineJoin, error)
	// CompleteMember atomically increments the completion counter and
	// reports whether this member completed the group; the first caller to
	// complete it also wins the tail-enqueue flag.
	CompleteMember(ctx context.Context, chainID models.ULID) (*models.PipelineJoin, bool, error)
}
