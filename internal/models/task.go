package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskQueue names a work queue with its own worker pool and retry policy.
type TaskQueue string

const (
	// QueueDownloads carries network-bound fetches, isolated from uploads.
	QueueDownloads TaskQueue = "downloads"
	// QueueUploads carries network-bound uploads.
	QueueUploads TaskQueue = "uploads"
	// QueueProcessingCPU carries FFmpeg work, one heavy job per slot.
	QueueProcessingCPU TaskQueue = "processing_cpu"
	// QueueAsyncOperations carries transcription-family calls, chain glue,
	// and source sync.
	QueueAsyncOperations TaskQueue = "async_operations"
	// QueueMaintenance carries cleanup, expiry, and GC passes.
	QueueMaintenance TaskQueue = "maintenance"
)

// AllQueues lists every queue in dispatch order.
var AllQueues = []TaskQueue{
	QueueDownloads,
	QueueUploads,
	QueueProcessingCPU,
	QueueAsyncOperations,
	QueueMaintenance,
}

// TaskType identifies the handler that executes a task.
type TaskType string

const (
	// TaskDownload fetches source media.
	TaskDownload TaskType = "download"
	// TaskTrim removes silence via FFmpeg.
	TaskTrim TaskType = "trim"
	// TaskTranscribe calls the transcription provider.
	TaskTranscribe TaskType = "transcribe"
	// TaskExtractTopics calls the topic-extraction provider.
	TaskExtractTopics TaskType = "extract_topics"
	// TaskGenerateSubtitles renders subtitle files.
	TaskGenerateSubtitles TaskType = "generate_subtitles"
	// TaskUploadLauncher fans out one upload per platform.
	TaskUploadLauncher TaskType = "upload_launcher"
	// TaskUpload pushes media to one platform.
	TaskUpload TaskType = "upload"
	// TaskSourceSync syncs one input source.
	TaskSourceSync TaskType = "source_sync"
	// TaskSourceSyncBatch syncs several input sources.
	TaskSourceSyncBatch TaskType = "source_sync_batch"
	// TaskAutomationRun executes one automation job.
	TaskAutomationRun TaskType = "automation_run"
	// TaskAutomationDryRun counts what an automation run would do.
	TaskAutomationDryRun TaskType = "automation_dry_run"
	// TaskRetentionExpire auto-expires recordings past their expiry.
	TaskRetentionExpire TaskType = "retention_expire"
	// TaskRetentionCleanup removes media files of soft-deleted recordings.
	TaskRetentionCleanup TaskType = "retention_cleanup"
	// TaskRetentionHardDelete removes rows past their hard-delete time.
	TaskRetentionHardDelete TaskType = "retention_hard_delete"
	// TaskTokenGC prunes expired refresh tokens.
	TaskTokenGC TaskType = "token_gc"
	// TaskPrune deletes old terminal task rows.
	TaskPrune TaskType = "task_prune"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusPending means the task awaits a worker.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusScheduled means the task runs at next_run_at.
	TaskStatusScheduled TaskStatus = "scheduled"
	// TaskStatusRunning means a worker owns the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted means the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed means the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled means the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task priorities range 0-9; higher runs first within a queue.
const (
	// PriorityMaintenance is for background hygiene passes.
	PriorityMaintenance = 1
	// PriorityAutomation is for scheduler-launched work.
	PriorityAutomation = 4
	// PriorityDefault is for ordinary pipeline steps.
	PriorityDefault = 5
	// PriorityManual is for operator-initiated actions.
	PriorityManual = 7
)

// Task is one unit of queued work. Rows are claimed by workers with
// row-level locking, so several worker processes can share one database.
type Task struct {
	BaseModel

	// Queue routes the task to a worker pool.
	Queue TaskQueue `gorm:"not null;size:30;index:idx_tasks_claim" json:"queue"`

	// Type selects the handler.
	Type TaskType `gorm:"not null;size:50;index" json:"type"`

	// UserID is the owning tenant, empty for tenant-agnostic maintenance.
	// The task status and cancel APIs verify the caller against it.
	UserID ULID `gorm:"type:varchar(26);index" json:"user_id,omitempty"`

	// RecordingID is the recording this task operates on, if any. Used to
	// deduplicate concurrent submissions for the same target.
	RecordingID *int64 `gorm:"index" json:"recording_id,omitempty"`

	// ChainID groups the tasks of one pipeline launch.
	ChainID ULID `gorm:"type:varchar(26);index" json:"chain_id,omitempty"`

	// Status is the task lifecycle status.
	Status TaskStatus `gorm:"not null;default:'pending';size:20;index:idx_tasks_claim" json:"status"`

	// Priority orders dispatch within a queue (0-9, 9 highest).
	Priority int `gorm:"default:5;index:idx_tasks_claim" json:"priority"`

	// Payload carries handler input as JSON: ids and overrides only, never
	// recording state.
	Payload JSONMap `gorm:"type:text;serializer:json" json:"payload,omitempty"`

	// NextRunAt defers execution; nil means runnable immediately.
	NextRunAt *Time `gorm:"index:idx_tasks_claim" json:"next_run_at,omitempty"`

	// StartedAt is when the current attempt began.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the task reached a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the last attempt duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// AttemptCount counts executions, including the first.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts bounds retries (per-queue policy sets it on enqueue).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the initial retry backoff; each retry doubles it.
	BackoffSeconds int `gorm:"default:60" json:"backoff_seconds"`

	// SoftTimeoutSeconds bounds the attempt via context deadline; expiry
	// triggers a scheduled retry.
	SoftTimeoutSeconds int `gorm:"default:0" json:"soft_timeout_seconds,omitempty"`

	// HardTimeoutSeconds is the watchdog kill limit.
	HardTimeoutSeconds int `gorm:"default:0" json:"hard_timeout_seconds,omitempty"`

	// LastError is the truncated error of the last failed attempt.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// Result carries the handler's result map as JSON.
	Result JSONMap `gorm:"type:text;serializer:json" json:"result,omitempty"`

	// LockedBy is the worker instance that owns the running task.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is when the lock was taken; stale locks are recovered.
	LockedAt *Time `json:"locked_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// IsPending returns true while the task awaits execution.
func (t *Task) IsPending() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusScheduled
}

// IsRunning returns true while a worker owns the task.
func (t *Task) IsRunning() bool {
	return t.Status == TaskStatusRunning
}

// IsFinished returns true in any terminal status.
func (t *Task) IsFinished() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusCancelled
}

// CanRetry returns true if a failed task has attempts left.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed && t.AttemptCount < t.MaxAttempts
}

// MarkRunning records a worker claiming the task.
func (t *Task) MarkRunning(workerID string) {
	t.Status = TaskStatusRunning
	now := Now()
	t.StartedAt = &now
	t.LockedBy = workerID
	t.LockedAt = &now
	t.AttemptCount++
	t.LastError = ""
}

// MarkCompleted records a successful attempt with its result map.
func (t *Task) MarkCompleted(result JSONMap) {
	t.Status = TaskStatusCompleted
	now := Now()
	t.CompletedAt = &now
	t.Result = result
	t.LastError = ""
	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}
	t.LockedBy = ""
	t.LockedAt = nil
}

// MarkFailed records a terminally failed attempt.
func (t *Task) MarkFailed(err error) {
	t.Status = TaskStatusFailed
	now := Now()
	t.CompletedAt = &now
	if err != nil {
		t.LastError = TruncateReason(err.Error())
	}
	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}
	t.LockedBy = ""
	t.LockedAt = nil
}

// MarkCancelled records a cancellation.
func (t *Task) MarkCancelled() {
	t.Status = TaskStatusCancelled
	now := Now()
	t.CompletedAt = &now
	t.LockedBy = ""
	t.LockedAt = nil
}

// CalculateNextBackoff returns the backoff before the next retry:
// base * 2^(attempt-1), capped at one hour.
func (t *Task) CalculateNextBackoff() time.Duration {
	if t.BackoffSeconds <= 0 {
		t.BackoffSeconds = 60
	}
	attempts := t.AttemptCount
	if attempts < 1 {
		attempts = 1
	}
	multiplier := 1 << (attempts - 1)
	if multiplier < 1 {
		multiplier = 1
	}
	backoffSecs := t.BackoffSeconds * multiplier
	const maxBackoff = 3600
	if backoffSecs > maxBackoff {
		backoffSecs = maxBackoff
	}
	return time.Duration(backoffSecs) * time.Second
}

// ScheduleRetry moves a failed task back to scheduled with backoff.
func (t *Task) ScheduleRetry() {
	if !t.CanRetry() {
		return
	}
	backoff := t.CalculateNextBackoff()
	nextRun := Now().Add(backoff)
	t.NextRunAt = &nextRun
	t.Status = TaskStatusScheduled
	t.LockedBy = ""
	t.LockedAt = nil
}

// SoftTimeout returns the soft limit as a duration, zero when unset.
func (t *Task) SoftTimeout() time.Duration {
	return time.Duration(t.SoftTimeoutSeconds) * time.Second
}

// HardTimeout returns the hard limit as a duration, zero when unset.
func (t *Task) HardTimeout() time.Duration {
	return time.Duration(t.HardTimeoutSeconds) * time.Second
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.Type == "" {
		return ErrTaskTypeRequired
	}
	if t.Queue == "" {
		return ErrQueueRequired
	}
	return nil
}

// BeforeCreate validates the task and generates the ULID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return t.Validate()
}

// BeforeUpdate validates the task before update.
func (t *Task) BeforeUpdate(tx *gorm.DB) error {
	return t.Validate()
}

// TaskHistory stores one row per finished attempt, separate from the task
// table to keep dispatch scans lean.
type TaskHistory struct {
	BaseModel

	// TaskID is the original task.
	TaskID ULID `gorm:"type:varchar(26);not null;index" json:"task_id"`

	// Queue and Type mirror the task at execution time.
	Queue TaskQueue `gorm:"not null;size:30" json:"queue"`
	Type  TaskType  `gorm:"not null;size:50;index" json:"type"`

	// UserID mirrors the task's tenant.
	UserID ULID `gorm:"type:varchar(26);index" json:"user_id,omitempty"`

	// RecordingID mirrors the task's recording, if any.
	RecordingID *int64 `gorm:"index" json:"recording_id,omitempty"`

	// Status is the attempt outcome.
	Status TaskStatus `gorm:"not null;size:20" json:"status"`

	// StartedAt and CompletedAt bound the attempt.
	StartedAt   *Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`

	// DurationMs is the attempt duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// AttemptNumber is which attempt this was (1 = first).
	AttemptNumber int `json:"attempt_number"`

	// Error is the failure message, if the attempt failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`
}

// TableName returns the table name for TaskHistory.
func (TaskHistory) TableName() string {
	return "task_history"
}
