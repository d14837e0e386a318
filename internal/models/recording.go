package models

import (
	"time"

	"github.com/jmylchreest/recarr/internal/resolve"
)

// RecordingStatus is the aggregate lifecycle status of a recording. It is a
// derived field: apart from the base transitions (initialized, downloading,
// downloaded, skipped, pending_source, expired) it must only be written by
// the status aggregator after a mutation to stages or targets.
type RecordingStatus string

const (
	// StatusInitialized means the recording is known and ready to download.
	StatusInitialized RecordingStatus = "initialized"
	// StatusDownloading means the download step is fetching media.
	StatusDownloading RecordingStatus = "downloading"
	// StatusDownloaded means raw media is on disk.
	StatusDownloaded RecordingStatus = "downloaded"
	// StatusProcessing means at least one stage is in progress.
	StatusProcessing RecordingStatus = "processing"
	// StatusProcessed means all active stages completed and no upload ran.
	StatusProcessed RecordingStatus = "processed"
	// StatusUploading means at least one target is uploading.
	StatusUploading RecordingStatus = "uploading"
	// StatusReady means all targets uploaded.
	StatusReady RecordingStatus = "ready"
	// StatusSkipped means the pipeline bypassed this recording.
	StatusSkipped RecordingStatus = "skipped"
	// StatusPendingSource means the provider is still preparing the media.
	StatusPendingSource RecordingStatus = "pending_source"
	// StatusExpired means retention expired the recording.
	StatusExpired RecordingStatus = "expired"
)

// DeleteState tracks the two-level deletion lifecycle. Transitions are
// strictly monotone: active → soft → hard. Only restore leaves soft.
type DeleteState string

const (
	// DeleteStateActive means the recording is live.
	DeleteStateActive DeleteState = "active"
	// DeleteStateSoft means the recording is marked deleted; large media
	// files are removed once soft_deleted_at passes.
	DeleteStateSoft DeleteState = "soft"
	// DeleteStateHard means files are gone and the row awaits removal.
	DeleteStateHard DeleteState = "hard"
)

// DeletionReasonExpired marks rows deleted by the retention controller.
const DeletionReasonExpired = "expired"

// DeletionReasonUser marks rows deleted by an operator request.
const DeletionReasonUser = "user"

// maxFailureReasonLen bounds persisted failure strings.
const maxFailureReasonLen = 1000

// TruncateReason clamps an error string for persistence.
func TruncateReason(s string) string {
	if len(s) > maxFailureReasonLen {
		return s[:maxFailureReasonLen]
	}
	return s
}

// Recording is the central entity: one piece of source media moving through
// the pipeline. Unlike the ULID-keyed entities it uses a numeric id, which
// also appears in artifact filenames.
type Recording struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// UserID is the owning tenant.
	UserID ULID  `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_recordings_source_key" json:"user_id"`
	User   *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	// InputSourceID is the source that produced this recording, if any.
	InputSourceID *ULID        `gorm:"type:varchar(26);index" json:"input_source_id,omitempty"`
	InputSource   *InputSource `gorm:"foreignKey:InputSourceID" json:"input_source,omitempty"`

	// TemplateID is the template bound by the matcher, if any.
	TemplateID *ULID              `gorm:"type:varchar(26);index" json:"template_id,omitempty"`
	Template   *RecordingTemplate `gorm:"foreignKey:TemplateID" json:"template,omitempty"`

	// SourceType and SourceKey identify the provider-native item; together
	// with UserID and StartTime they form the upsert key for source sync.
	SourceType string `gorm:"size:20;uniqueIndex:idx_recordings_source_key" json:"source_type,omitempty"`
	SourceKey  string `gorm:"size:512;uniqueIndex:idx_recordings_source_key" json:"source_key,omitempty"`

	// DisplayName is the provider-reported title, used by the matcher.
	DisplayName string `gorm:"not null;size:512" json:"display_name"`

	// StartTime is when the recording started at the provider.
	StartTime *Time `gorm:"index;uniqueIndex:idx_recordings_source_key" json:"start_time,omitempty"`

	// DurationSeconds is the provider-reported duration.
	DurationSeconds int `gorm:"default:0" json:"duration_seconds"`

	// SizeBytes is the provider-reported media size.
	SizeBytes int64 `gorm:"default:0" json:"size_bytes"`

	// Status is the aggregate status (see RecordingStatus).
	Status RecordingStatus `gorm:"not null;default:'initialized';size:20;index" json:"status"`

	// IsMapped is true when a template matched this recording.
	IsMapped bool `gorm:"default:false" json:"is_mapped"`

	// BlankRecord is true when the recording is too short or small to be
	// worth processing; the pipeline skips it end to end.
	BlankRecord bool `gorm:"default:false" json:"blank_record"`

	// SkipReason records why the recording was skipped, when it was.
	SkipReason string `gorm:"size:255" json:"skip_reason,omitempty"`

	// OnPause stops new pipeline steps from being scheduled.
	OnPause bool `gorm:"default:false" json:"on_pause"`

	// Failure bookkeeping. Failed is the authoritative user-visible flag;
	// the stage and reason fields carry detail.
	Failed        bool   `gorm:"default:false;index" json:"failed"`
	FailedAtStage string `gorm:"size:50" json:"failed_at_stage,omitempty"`
	FailedReason  string `gorm:"size:1000" json:"failed_reason,omitempty"`
	FailedAt      *Time  `json:"failed_at,omitempty"`

	// Artifact paths. Set by the steps that produce them; owned by the
	// artifact store layout.
	LocalVideoPath     string `gorm:"size:1024" json:"local_video_path,omitempty"`
	ProcessedVideoPath string `gorm:"size:1024" json:"processed_video_path,omitempty"`
	ProcessedAudioPath string `gorm:"size:1024" json:"processed_audio_path,omitempty"`
	TranscriptionDir   string `gorm:"size:1024" json:"transcription_dir,omitempty"`

	// Retention state. DeleteState transitions are monotone; SoftDeletedAt
	// and HardDeleteAt are scheduled when entering soft and cleared only by
	// restore.
	DeleteState    DeleteState `gorm:"not null;default:'active';size:10;index" json:"delete_state"`
	Deleted        bool        `gorm:"default:false;index" json:"deleted"`
	DeletionReason string      `gorm:"size:255" json:"deletion_reason,omitempty"`
	DeletedAt      *Time       `json:"deleted_at,omitempty"`
	ExpireAt       *Time       `gorm:"index" json:"expire_at,omitempty"`
	SoftDeletedAt  *Time       `gorm:"index" json:"soft_deleted_at,omitempty"`
	HardDeleteAt   *Time       `gorm:"index" json:"hard_delete_at,omitempty"`

	// Pipeline timing. PipelineStartedAt is set on first launch only and is
	// deliberately not reset by a pipeline reset, so the duration spans the
	// first launch to the final upload.
	PipelineStartedAt       *Time `json:"pipeline_started_at,omitempty"`
	PipelineCompletedAt     *Time `json:"pipeline_completed_at,omitempty"`
	PipelineDurationSeconds int   `gorm:"default:0" json:"pipeline_duration_seconds"`

	// Inline results from the topics stage (active version).
	MainTopics           StringList `gorm:"type:text;serializer:json" json:"main_topics,omitempty"`
	TopicsWithTimestamps TopicList  `gorm:"type:text;serializer:json" json:"topics_with_timestamps,omitempty"`

	// ProcessingPreferences are per-recording operator overrides, merged
	// above the template layer by the config resolver.
	ProcessingPreferences *resolve.ProcessingConfig `gorm:"type:text;serializer:json" json:"processing_preferences,omitempty"`

	// Children. All cascade-delete with the recording row.
	SourceMetadata *SourceMetadata   `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"source_metadata,omitempty"`
	Stages         []ProcessingStage `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"stages,omitempty"`
	Targets        []OutputTarget    `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"targets,omitempty"`
	Timings        []StageTiming     `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// IsDeleted returns true once the recording entered the deletion lifecycle.
func (r *Recording) IsDeleted() bool {
	return r.Deleted || r.DeleteState != DeleteStateActive
}

// IsExpired returns true when retention expired the recording or its
// expiry is due.
func (r *Recording) IsExpired(now Time) bool {
	if r.Deleted && r.DeletionReason == DeletionReasonExpired {
		return true
	}
	return r.ExpireAt != nil && !r.ExpireAt.After(now)
}

// MarkFailure records a failure at the given stage. The reason is
// truncated for persistence.
func (r *Recording) MarkFailure(stage, reason string) {
	r.Failed = true
	r.FailedAtStage = stage
	r.FailedReason = TruncateReason(reason)
	now := Now()
	r.FailedAt = &now
}

// ClearFailureForStage clears the failure flags, but only when the failure
// belongs to the given stage. A later failure at another stage is left
// alone.
func (r *Recording) ClearFailureForStage(stage string) bool {
	if !r.Failed || r.FailedAtStage != stage {
		return false
	}
	r.Failed = false
	r.FailedAtStage = ""
	r.FailedReason = ""
	r.FailedAt = nil
	return true
}

// StageByType returns the stage row of the given type, or nil.
func (r *Recording) StageByType(t StageType) *ProcessingStage {
	for i := range r.Stages {
		if r.Stages[i].StageType == t {
			return &r.Stages[i]
		}
	}
	return nil
}

// TargetByType returns the output target for the given platform, or nil.
func (r *Recording) TargetByType(platform string) *OutputTarget {
	for i := range r.Targets {
		if r.Targets[i].TargetType == platform {
			return &r.Targets[i]
		}
	}
	return nil
}

// BestAudioInput returns the preferred transcription input path:
// processed audio, then processed video, then raw video.
func (r *Recording) BestAudioInput() string {
	if r.ProcessedAudioPath != "" {
		return r.ProcessedAudioPath
	}
	if r.ProcessedVideoPath != "" {
		return r.ProcessedVideoPath
	}
	return r.LocalVideoPath
}

// SourceMetadata carries the provider-native payload needed to fetch one
// recording. 1:1 with Recording.
type SourceMetadata struct {
	BaseModel

	// RecordingID is the owning recording.
	RecordingID int64 `gorm:"not null;uniqueIndex" json:"recording_id"`

	// DownloadURL is the provider URL the download step fetches.
	DownloadURL string `gorm:"size:2048" json:"download_url,omitempty"`

	// AccessToken authorizes the download URL, when the provider needs one.
	AccessToken string `gorm:"size:2048" json:"-"`

	// TokenIssuedAt records when AccessToken was minted, for staleness
	// checks at download start.
	TokenIssuedAt *Time `json:"token_issued_at,omitempty"`

	// Passcode is a provider share passcode, when required.
	Passcode string `gorm:"size:255" json:"-"`

	// FileSizeBytes is the provider-reported media size.
	FileSizeBytes int64 `gorm:"default:0" json:"file_size_bytes"`

	// StillProcessing is true while the provider has not finished preparing
	// the media; blank-record detection is deferred until it clears.
	StillProcessing bool `gorm:"default:false" json:"still_processing"`

	// AccountName selects the provider account for token refresh.
	AccountName string `gorm:"size:255" json:"account_name,omitempty"`

	// Payload keeps any provider fields without a typed column.
	Payload JSONMap `gorm:"type:text;serializer:json" json:"payload,omitempty"`
}

// TableName returns the table name for SourceMetadata.
func (SourceMetadata) TableName() string {
	return "source_metadata"
}

// TokenStale reports whether the stored access token is missing or older
// than maxAge.
func (m *SourceMetadata) TokenStale(now Time, maxAge time.Duration) bool {
	if m.AccessToken == "" {
		return true
	}
	if m.TokenIssuedAt == nil {
		return true
	}
	return now.Sub(*m.TokenIssuedAt) > maxAge
}
