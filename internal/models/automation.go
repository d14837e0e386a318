package models

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/resolve"
)

// AutomationSyncConfig bounds the sync window of an automation run.
type AutomationSyncConfig struct {
	// SyncDays is how far back the source sync reaches.
	SyncDays int `json:"sync_days,omitempty"`
}

// AutomationFilters select which recordings an automation run picks up
// after syncing.
type AutomationFilters struct {
	// Statuses restricts candidates; empty defaults to [initialized].
	Statuses []RecordingStatus `json:"statuses,omitempty"`

	// ExcludeBlank drops blank records from the candidate set.
	ExcludeBlank bool `json:"exclude_blank,omitempty"`
}

// CandidateStatuses returns the configured statuses or the default.
func (f *AutomationFilters) CandidateStatuses() []RecordingStatus {
	if f != nil && len(f.Statuses) > 0 {
		return f.Statuses
	}
	return []RecordingStatus{StatusInitialized}
}

// AutomationJob is a per-user cron-scheduled job that syncs sources,
// matches templates, and launches pipelines.
type AutomationJob struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;index" json:"user_id"`

	// Name is a user-friendly label.
	Name string `gorm:"not null;size:255" json:"name"`

	// TemplateIDs are the templates this job drives.
	TemplateIDs StringList `gorm:"type:text;serializer:json" json:"template_ids"`

	// Schedule is a cron expression evaluated in Timezone.
	Schedule string `gorm:"not null;size:100" json:"schedule"`

	// Timezone is the IANA zone for schedule evaluation. Empty falls back
	// to the user's timezone, then UTC.
	Timezone string `gorm:"size:64" json:"timezone,omitempty"`

	// SyncConfig bounds the source-sync window.
	SyncConfig *AutomationSyncConfig `gorm:"type:text;serializer:json" json:"sync_config,omitempty"`

	// Filters select candidate recordings after sync.
	Filters *AutomationFilters `gorm:"type:text;serializer:json" json:"filters,omitempty"`

	// ProcessingConfig is passed to launched pipelines as manual override.
	ProcessingConfig *resolve.ProcessingConfig `gorm:"type:text;serializer:json" json:"processing_config,omitempty"`

	// IsActive gates scheduling.
	IsActive *bool `gorm:"default:true" json:"is_active"`

	// NextRunAt is when the scheduler fires this job next.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	// LastRunAt and RunCount track execution history.
	LastRunAt *Time `json:"last_run_at,omitempty"`
	RunCount  int   `gorm:"default:0" json:"run_count"`
}

// TableName returns the table name for AutomationJob.
func (AutomationJob) TableName() string {
	return "automation_jobs"
}

// IsEnabled returns true unless the job is explicitly disabled.
func (j *AutomationJob) IsEnabled() bool {
	return BoolVal(j.IsActive)
}

// SyncDays returns the configured sync window, defaulting to 7 days.
func (j *AutomationJob) SyncDays() int {
	if j.SyncConfig != nil && j.SyncConfig.SyncDays > 0 {
		return j.SyncConfig.SyncDays
	}
	return 7
}

// Validate performs basic validation on the job.
func (j *AutomationJob) Validate() error {
	if j.Name == "" {
		return ErrNameRequired
	}
	if j.UserID.IsZero() {
		return ErrUserIDRequired
	}
	if j.Schedule == "" {
		return ErrScheduleRequired
	}
	if len(j.TemplateIDs) == 0 {
		return ErrTemplateIDsRequired
	}
	return nil
}

// BeforeCreate validates the job and generates the ULID.
func (j *AutomationJob) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// BeforeUpdate validates the job before update.
func (j *AutomationJob) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}
