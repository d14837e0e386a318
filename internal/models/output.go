package models

import "gorm.io/gorm"

// TargetStatus is the upload lifecycle status of one output target.
type TargetStatus string

const (
	// TargetNotUploaded means no upload has run for this target.
	TargetNotUploaded TargetStatus = "not_uploaded"
	// TargetUploading means an upload is in flight.
	TargetUploading TargetStatus = "uploading"
	// TargetUploaded means the upload finished; terminal unless reset.
	TargetUploaded TargetStatus = "uploaded"
	// TargetFailed means the last upload attempt failed.
	TargetFailed TargetStatus = "failed"
)

// OutputTarget is one destination platform for a recording's upload. At
// most one row per (recording, target type). Created lazily when an upload
// is first attempted.
type OutputTarget struct {
	BaseModel

	// RecordingID is the owning recording.
	RecordingID int64 `gorm:"not null;index;uniqueIndex:idx_targets_recording_type" json:"recording_id"`

	// TargetType is the destination platform name.
	TargetType string `gorm:"not null;size:50;uniqueIndex:idx_targets_recording_type" json:"target_type"`

	// Status is the upload lifecycle status.
	Status TargetStatus `gorm:"not null;default:'not_uploaded';size:20;index" json:"status"`

	// PresetID references the output preset the upload used.
	PresetID *ULID         `gorm:"type:varchar(26)" json:"preset_id,omitempty"`
	Preset   *OutputPreset `gorm:"foreignKey:PresetID" json:"preset,omitempty"`

	// UploadedAt is when the upload completed.
	UploadedAt *Time `json:"uploaded_at,omitempty"`

	// Failed bookkeeping for the last attempt.
	Failed       bool   `gorm:"default:false" json:"failed"`
	FailedReason string `gorm:"size:1000" json:"failed_reason,omitempty"`

	// VideoID and VideoURL are the platform-assigned identifiers of the
	// uploaded media.
	VideoID  string `gorm:"size:255" json:"video_id,omitempty"`
	VideoURL string `gorm:"size:2048" json:"video_url,omitempty"`

	// ResultMeta carries platform-specific extras (playlist add outcome,
	// album id, processing state).
	ResultMeta JSONMap `gorm:"type:text;serializer:json" json:"result_meta,omitempty"`
}

// TableName returns the table name for OutputTarget.
func (OutputTarget) TableName() string {
	return "output_targets"
}

// IsUploaded returns true once the target reached uploaded.
func (t *OutputTarget) IsUploaded() bool {
	return t.Status == TargetUploaded
}

// MarkUploading moves the target to uploading and clears stale failure.
func (t *OutputTarget) MarkUploading() {
	t.Status = TargetUploading
	t.Failed = false
	t.FailedReason = ""
}

// MarkUploaded records a successful upload result.
func (t *OutputTarget) MarkUploaded(videoID, videoURL string, meta JSONMap) {
	t.Status = TargetUploaded
	t.Failed = false
	t.FailedReason = ""
	t.VideoID = videoID
	t.VideoURL = videoURL
	if meta != nil {
		t.ResultMeta = meta
	}
	now := Now()
	t.UploadedAt = &now
}

// MarkFailed records a failed upload attempt.
func (t *OutputTarget) MarkFailed(reason string) {
	t.Status = TargetFailed
	t.Failed = true
	t.FailedReason = TruncateReason(reason)
}

// Validate performs basic validation on the target.
func (t *OutputTarget) Validate() error {
	if t.RecordingID == 0 {
		return ErrRecordingIDRequired
	}
	if t.TargetType == "" {
		return ErrPlatformRequired
	}
	return nil
}

// BeforeCreate validates the target and generates the ULID.
func (t *OutputTarget) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return t.Validate()
}

// PresetMetadata is the platform-shaped metadata carried by a preset.
type PresetMetadata struct {
	// TitleTemplate and DescriptionTemplate are rendered against the
	// recording context at upload time.
	TitleTemplate       string `json:"title_template,omitempty"`
	DescriptionTemplate string `json:"description_template,omitempty"`

	// Tags are attached to the uploaded media.
	Tags []string `json:"tags,omitempty"`

	// Privacy is the platform privacy setting (public, unlisted, private).
	Privacy string `json:"privacy,omitempty"`

	// PlaylistID or AlbumID is the collection the upload is added to.
	PlaylistID string `json:"playlist_id,omitempty"`
	AlbumID    string `json:"album_id,omitempty"`

	// ThumbnailName selects a file from the user's thumbnails directory.
	ThumbnailName string `json:"thumbnail_name,omitempty"`

	// Extra keeps platform fields without a typed home.
	Extra map[string]any `json:"extra,omitempty"`
}

// OutputPreset is a per-user, per-platform upload configuration bound to
// one credential.
type OutputPreset struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;index" json:"user_id"`

	// Name is a user-friendly label.
	Name string `gorm:"not null;size:255" json:"name"`

	// Platform is the destination this preset uploads to.
	Platform string `gorm:"not null;size:50;index" json:"platform"`

	// CredentialID is the credential the uploader authenticates with.
	CredentialID ULID `gorm:"type:varchar(26);not null" json:"credential_id"`

	// Metadata is the platform-shaped metadata template.
	Metadata *PresetMetadata `gorm:"type:text;serializer:json" json:"metadata,omitempty"`

	// Enabled gates use of this preset.
	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for OutputPreset.
func (OutputPreset) TableName() string {
	return "output_presets"
}

// IsEnabled returns true unless the preset is explicitly disabled.
func (p *OutputPreset) IsEnabled() bool {
	return BoolVal(p.Enabled)
}

// Validate performs basic validation on the preset.
func (p *OutputPreset) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.UserID.IsZero() {
		return ErrUserIDRequired
	}
	if p.Platform == "" {
		return ErrPlatformRequired
	}
	if p.CredentialID.IsZero() {
		return ErrCredentialIDRequired
	}
	return nil
}

// BeforeCreate validates the preset and generates the ULID.
func (p *OutputPreset) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
