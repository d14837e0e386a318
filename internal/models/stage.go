package models

import "gorm.io/gorm"

// StageType identifies one element of the processing pipeline.
type StageType string

const (
	// StageTrim removes leading and trailing silence.
	StageTrim StageType = "trim"
	// StageTranscribe produces the transcription artifacts.
	StageTranscribe StageType = "transcribe"
	// StageExtractTopics derives topics from the transcription.
	StageExtractTopics StageType = "extract_topics"
	// StageGenerateSubtitles renders subtitle files from the transcription.
	StageGenerateSubtitles StageType = "generate_subtitles"
)

// ValidStageType reports whether t names a known stage type.
func ValidStageType(t StageType) bool {
	switch t {
	case StageTrim, StageTranscribe, StageExtractTopics, StageGenerateSubtitles:
		return true
	}
	return false
}

// TranscriptionDependents are the stages that consume the transcription and
// are cascade-skipped when it is skipped on error.
var TranscriptionDependents = []StageType{StageExtractTopics, StageGenerateSubtitles}

// StageStatus is the lifecycle status of one processing stage.
type StageStatus string

const (
	// StagePending means the stage has not started.
	StagePending StageStatus = "pending"
	// StageInProgress means the executor is working.
	StageInProgress StageStatus = "in_progress"
	// StageCompleted means the stage finished successfully.
	StageCompleted StageStatus = "completed"
	// StageFailed means the stage failed; it may be retried.
	StageFailed StageStatus = "failed"
	// StageSkipped means the stage was bypassed.
	StageSkipped StageStatus = "skipped"
)

// Stage skip reasons.
const (
	// SkipReasonError marks a stage skipped because it failed while the
	// config allowed errors.
	SkipReasonError = "error"
	// SkipReasonParentFailed marks a stage skipped because an upstream
	// stage it depends on was skipped on error.
	SkipReasonParentFailed = "parent_failed"
	// SkipReasonDisabled marks a stage the effective config did not enable.
	SkipReasonDisabled = "disabled"
)

// ProcessingStage is one pipeline stage of one recording, with its own
// persisted status. At most one row per (recording, stage type).
type ProcessingStage struct {
	BaseModel

	// RecordingID is the owning recording.
	RecordingID int64 `gorm:"not null;index;uniqueIndex:idx_stages_recording_type" json:"recording_id"`

	// StageType identifies the pipeline element.
	StageType StageType `gorm:"not null;size:30;uniqueIndex:idx_stages_recording_type" json:"stage_type"`

	// Status is the stage lifecycle status.
	Status StageStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Failed is set on failure and kept for visibility even after a skip.
	Failed bool `gorm:"default:false" json:"failed"`

	// FailedReason is the truncated error from the last failure.
	FailedReason string `gorm:"size:1000" json:"failed_reason,omitempty"`

	// SkipReason explains a skipped stage (error, parent_failed, disabled).
	SkipReason string `gorm:"size:50" json:"skip_reason,omitempty"`

	// RetryCount is how many times the stage was retried after failure.
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// MaxRetries bounds prepare-retry transitions.
	MaxRetries int `gorm:"default:3" json:"max_retries"`

	// StartedAt is when the stage last entered in_progress.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the stage reached a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// StageMeta carries executor output (paths, provider stats).
	StageMeta JSONMap `gorm:"type:text;serializer:json" json:"stage_meta,omitempty"`
}

// TableName returns the table name for ProcessingStage.
func (ProcessingStage) TableName() string {
	return "processing_stages"
}

// IsTerminal returns true in completed or skipped.
func (s *ProcessingStage) IsTerminal() bool {
	return s.Status == StageCompleted || s.Status == StageSkipped
}

// MarkInProgress moves the stage to in_progress.
func (s *ProcessingStage) MarkInProgress() {
	s.Status = StageInProgress
	now := Now()
	s.StartedAt = &now
}

// MarkCompleted moves the stage to completed with optional metadata.
func (s *ProcessingStage) MarkCompleted(meta JSONMap) {
	s.Status = StageCompleted
	s.Failed = false
	s.FailedReason = ""
	now := Now()
	s.CompletedAt = &now
	if meta != nil {
		s.StageMeta = meta
	}
}

// MarkFailed moves the stage to failed with a truncated reason.
func (s *ProcessingStage) MarkFailed(reason string) {
	s.Status = StageFailed
	s.Failed = true
	s.FailedReason = TruncateReason(reason)
	now := Now()
	s.CompletedAt = &now
}

// MarkSkipped moves the stage to skipped. The failed flag is preserved so
// an error-skip stays visible.
func (s *ProcessingStage) MarkSkipped(reason string) {
	s.Status = StageSkipped
	s.SkipReason = reason
	now := Now()
	s.CompletedAt = &now
}

// PrepareRetry moves a failed stage back to in_progress. It is the only
// permitted failed → in_progress transition and is refused once retries
// are exhausted.
func (s *ProcessingStage) PrepareRetry() error {
	if s.Status != StageFailed {
		return ErrValidation{Field: "status", Message: "only failed stages can be retried"}
	}
	if s.RetryCount >= s.MaxRetries {
		return ErrRetriesExhausted
	}
	s.RetryCount++
	s.Status = StageInProgress
	s.Failed = false
	s.FailedReason = ""
	now := Now()
	s.StartedAt = &now
	s.CompletedAt = nil
	return nil
}

// Validate performs basic validation on the stage.
func (s *ProcessingStage) Validate() error {
	if s.RecordingID == 0 {
		return ErrRecordingIDRequired
	}
	if !ValidStageType(s.StageType) {
		return ErrInvalidStageType
	}
	return nil
}

// BeforeCreate validates the stage and generates the ULID.
func (s *ProcessingStage) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// StageTiming is an append-only analytics row recording one attempt of one
// stage or substep.
type StageTiming struct {
	BaseModel

	// RecordingID is the owning recording.
	RecordingID int64 `gorm:"not null;index" json:"recording_id"`

	// StageType is the stage this timing belongs to. Upload timings use the
	// pseudo stage type "upload".
	StageType string `gorm:"not null;size:30;index" json:"stage_type"`

	// Substep optionally narrows the timing to part of a stage.
	Substep string `gorm:"size:50" json:"substep,omitempty"`

	// Attempt is 1 for the first execution.
	Attempt int `gorm:"default:1" json:"attempt"`

	// StartedAt and CompletedAt bound the attempt.
	StartedAt   Time  `gorm:"not null" json:"started_at"`
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the attempt duration in milliseconds.
	DurationMs int64 `gorm:"default:0" json:"duration_ms"`

	// Status is the attempt outcome: completed or failed.
	Status string `gorm:"size:20" json:"status,omitempty"`

	// Error is the truncated failure message, if any.
	Error string `gorm:"size:1000" json:"error,omitempty"`

	// Meta carries attempt-specific detail.
	Meta JSONMap `gorm:"type:text;serializer:json" json:"meta,omitempty"`
}

// TableName returns the table name for StageTiming.
func (StageTiming) TableName() string {
	return "stage_timings"
}

// Finish closes the timing with an outcome and computes the duration.
func (t *StageTiming) Finish(status string, err error) {
	now := Now()
	t.CompletedAt = &now
	t.Status = status
	t.DurationMs = now.Sub(t.StartedAt).Milliseconds()
	if err != nil {
		t.Error = TruncateReason(err.Error())
	}
}
