package models

import "gorm.io/gorm"

// SourceKind represents the type of input source.
type SourceKind string

const (
	// SourceKindMeeting is a video-meeting provider account.
	SourceKindMeeting SourceKind = "meeting"
	// SourceKindURLList is a list of public hosting URLs.
	SourceKindURLList SourceKind = "urllist"
	// SourceKindCloudFolder is a cloud-drive folder listing.
	SourceKindCloudFolder SourceKind = "cloudfolder"
	// SourceKindLocal is a directory scan under the artifact root.
	SourceKindLocal SourceKind = "local"
)

// ValidSourceKind reports whether k names a known source kind.
func ValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceKindMeeting, SourceKindURLList, SourceKindCloudFolder, SourceKindLocal:
		return true
	}
	return false
}

// SourceConfig is the free-form, kind-specific configuration of a source.
type SourceConfig map[string]any

// InputSource is a per-user configured producer of recordings.
type InputSource struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_input_sources_user_name" json:"user_id"`

	// Name is a user-friendly label, unique per user.
	Name string `gorm:"not null;size:255;uniqueIndex:idx_input_sources_user_name" json:"name"`

	// Kind selects the provider fetcher.
	Kind SourceKind `gorm:"not null;size:20" json:"kind"`

	// CredentialID references the credential to authenticate with.
	// Nil for public sources (url lists, local scans).
	CredentialID *ULID `gorm:"type:varchar(26);index" json:"credential_id,omitempty"`

	// Config carries kind-specific settings (master-account user emails,
	// folder path and glob, recursion flag, list URL, thresholds).
	Config SourceConfig `gorm:"type:text;serializer:json" json:"config,omitempty"`

	// Enabled gates sync for this source.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// LastSyncAt is when the last sync for this source finished.
	LastSyncAt *Time `json:"last_sync_at,omitempty"`
}

// TableName returns the table name for InputSource.
func (InputSource) TableName() string {
	return "input_sources"
}

// IsEnabled returns true unless the source is explicitly disabled.
func (s *InputSource) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// HasCredential returns true if the source references a credential.
func (s *InputSource) HasCredential() bool {
	return s.CredentialID != nil && !s.CredentialID.IsZero()
}

// ConfigString returns a string value from the kind-specific config.
func (s *InputSource) ConfigString(key string) string {
	if s.Config == nil {
		return ""
	}
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigBool returns a bool value from the kind-specific config.
func (s *InputSource) ConfigBool(key string) bool {
	if s.Config == nil {
		return false
	}
	if v, ok := s.Config[key].(bool); ok {
		return v
	}
	return false
}

// Validate performs basic validation on the source.
func (s *InputSource) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.UserID.IsZero() {
		return ErrUserIDRequired
	}
	if !ValidSourceKind(s.Kind) {
		return ErrInvalidSourceKind
	}
	return nil
}

// BeforeCreate validates the source and generates the ULID.
func (s *InputSource) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate validates the source before update.
func (s *InputSource) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
