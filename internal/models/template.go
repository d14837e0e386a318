package models

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/resolve"
)

// MatchingRules decide whether a template claims an incoming recording.
// All name tests run against the recording's display name.
type MatchingRules struct {
	// SourceIDs restricts the template to recordings from these input
	// sources. Empty means any source.
	SourceIDs []string `json:"source_ids,omitempty"`

	// ExactMatches match the whole display name after case normalization.
	ExactMatches []string `json:"exact_matches,omitempty"`

	// IncludeKeywords match as substrings.
	IncludeKeywords []string `json:"include_keywords,omitempty"`

	// IncludePatterns are regular expressions.
	IncludePatterns []string `json:"include_patterns,omitempty"`

	// ExcludeKeywords reject by substring before any include test runs.
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`

	// ExcludePatterns reject by regular expression.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// CaseSensitive switches all keyword and exact tests to exact case.
	CaseSensitive bool `json:"case_sensitive,omitempty"`
}

// AllowsSource reports whether the rules accept a recording from the given
// input source.
func (r *MatchingRules) AllowsSource(sourceID string) bool {
	if r == nil || len(r.SourceIDs) == 0 {
		return true
	}
	for _, id := range r.SourceIDs {
		if id == sourceID {
			return true
		}
	}
	return false
}

// HasSourceFilter reports whether the rules restrict by source.
func (r *MatchingRules) HasSourceFilter() bool {
	return r != nil && len(r.SourceIDs) > 0
}

// RecordingTemplate binds matching rules to the processing, metadata, and
// output configuration applied to matched recordings.
type RecordingTemplate struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;index" json:"user_id"`

	// Name is a user-friendly label.
	Name string `gorm:"not null;size:255" json:"name"`

	// MatchingRules select recordings for this template.
	MatchingRules *MatchingRules `gorm:"type:text;serializer:json" json:"matching_rules,omitempty"`

	// ProcessingConfig is the template layer of the processing merge.
	ProcessingConfig *resolve.ProcessingConfig `gorm:"type:text;serializer:json" json:"processing_config,omitempty"`

	// MetadataConfig is the template layer of the metadata merge.
	MetadataConfig *resolve.MetadataConfig `gorm:"type:text;serializer:json" json:"metadata_config,omitempty"`

	// OutputConfig is the template layer of the output merge; its
	// preset_ids drive upload fan-out.
	OutputConfig *resolve.OutputConfig `gorm:"type:text;serializer:json" json:"output_config,omitempty"`

	// TranscriptionVocabulary is folded into transcription.vocabulary by
	// the resolver.
	TranscriptionVocabulary StringList `gorm:"type:text;serializer:json" json:"transcription_vocabulary,omitempty"`

	// IsDraft excludes the template from matching until published.
	IsDraft bool `gorm:"default:false" json:"is_draft"`

	// IsActive gates matching.
	IsActive *bool `gorm:"default:true" json:"is_active"`

	// UsedCount and LastUsedAt track matcher hits.
	UsedCount  int   `gorm:"default:0" json:"used_count"`
	LastUsedAt *Time `json:"last_used_at,omitempty"`
}

// TableName returns the table name for RecordingTemplate.
func (RecordingTemplate) TableName() string {
	return "recording_templates"
}

// IsMatchable returns true when the template participates in matching.
func (t *RecordingTemplate) IsMatchable() bool {
	return !t.IsDraft && BoolVal(t.IsActive)
}

// Validate performs basic validation on the template.
func (t *RecordingTemplate) Validate() error {
	if t.Name == "" {
		return ErrNameRequired
	}
	if t.UserID.IsZero() {
		return ErrUserIDRequired
	}
	return nil
}

// BeforeCreate validates the template and generates the ULID.
func (t *RecordingTemplate) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return t.Validate()
}
