package resolve

import "strings"

// Fallbacks applied by the getter helpers when no layer set a value.
const (
	DefaultSilenceThresholdDB = -35.0
	DefaultMinSilenceDuration = 2.0
	DefaultPaddingBefore      = 1.0
	DefaultPaddingAfter       = 2.0
	DefaultTopicGranularity   = "short"
	DefaultTopicsFormat       = "numbered"
	DefaultTokenMaxAgeMinutes = 55
	DefaultAutoExpireDays     = 90
	DefaultSoftDeleteDays     = 3
	DefaultHardDeleteDays     = 30
)

// DefaultSubtitleFormats are emitted when no layer requests specific formats.
var DefaultSubtitleFormats = []string{"srt", "vtt"}

// ProcessingLayers is the ordered layer chain for the processing config,
// lowest precedence first. Any layer may be nil.
type ProcessingLayers struct {
	// User is the tenant's stored config, already seeded with system
	// defaults at write time.
	User *ProcessingConfig

	// Template is the bound template's processing config.
	Template *ProcessingConfig

	// Runtime is the processing config of a runtime template the caller
	// selected for this execution only.
	Runtime *ProcessingConfig

	// Preferences are per-recording operator overrides stored on the row.
	Preferences *ProcessingConfig

	// Override is the manual override passed into the current execution.
	// The runtime-template id hint must already be stripped by the caller.
	Override *ProcessingConfig

	// TemplateVocabulary and RuntimeVocabulary are template-level vocabulary
	// lists folded into transcription.vocabulary after the merge.
	TemplateVocabulary []string
	RuntimeVocabulary  []string
}

// Processing merges the layer chain into one effective processing config.
// Inputs are never mutated.
func Processing(l ProcessingLayers) *ProcessingConfig {
	out := MergeProcessing(nil, l.User)
	out = MergeProcessing(out, l.Template)
	out = MergeProcessing(out, l.Runtime)
	out = MergeProcessing(out, l.Preferences)
	out = MergeProcessing(out, l.Override)
	if out == nil {
		out = &ProcessingConfig{}
	}
	out = foldVocabulary(out, l.TemplateVocabulary, l.RuntimeVocabulary)
	return out
}

// OutputLayers is the ordered layer chain for the output config, lowest
// precedence first.
type OutputLayers struct {
	User     *OutputConfig
	Template *OutputConfig
	Runtime  *OutputConfig
	Override *OutputConfig
}

// Output merges the output layer chain. Inputs are never mutated.
func Output(l OutputLayers) *OutputConfig {
	out := MergeOutput(nil, l.User)
	out = MergeOutput(out, l.Template)
	out = MergeOutput(out, l.Runtime)
	out = MergeOutput(out, l.Override)
	if out == nil {
		out = &OutputConfig{}
	}
	return out
}

// MetadataLayers is the ordered layer chain for upload metadata, lowest
// precedence first: user defaults, template metadata config, preset
// metadata, caller override.
type MetadataLayers struct {
	User     *MetadataConfig
	Template *MetadataConfig
	Preset   *MetadataConfig
	Override *MetadataConfig
}

// Metadata merges the metadata layer chain. Inputs are never mutated.
func Metadata(l MetadataLayers) *MetadataConfig {
	out := MergeMetadata(nil, l.User)
	out = MergeMetadata(out, l.Template)
	out = MergeMetadata(out, l.Preset)
	out = MergeMetadata(out, l.Override)
	if out == nil {
		out = &MetadataConfig{}
	}
	return out
}

// foldVocabulary unions the template-level vocabulary lists into
// transcription.vocabulary, trimming whitespace and dropping duplicates
// while preserving first-seen order.
func foldVocabulary(c *ProcessingConfig, lists ...[]string) *ProcessingConfig {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if total == 0 {
		return c
	}
	out := c.Clone()
	if out.Transcription == nil {
		out.Transcription = &TranscriptionConfig{}
	}
	seen := make(map[string]struct{}, len(out.Transcription.Vocabulary)+total)
	merged := make([]string, 0, len(out.Transcription.Vocabulary)+total)
	add := func(terms []string) {
		for _, t := range terms {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	add(out.Transcription.Vocabulary)
	for _, l := range lists {
		add(l)
	}
	out.Transcription.Vocabulary = merged
	return out
}

// Getter helpers. All are nil-safe so executors can call them on any part
// of the effective tree without guarding.

// TrimmingEnabled reports whether the trim stage should run.
func (c *ProcessingConfig) TrimmingEnabled() bool {
	return c != nil && c.Trimming != nil && c.Trimming.EnableTrimming != nil && *c.Trimming.EnableTrimming
}

// TranscriptionEnabled reports whether the transcribe stage should run.
func (c *ProcessingConfig) TranscriptionEnabled() bool {
	return c != nil && c.Transcription != nil && c.Transcription.EnableTranscription != nil && *c.Transcription.EnableTranscription
}

// TopicsEnabled reports whether the topic-extraction stage should run.
func (c *ProcessingConfig) TopicsEnabled() bool {
	return c != nil && c.Transcription != nil && c.Transcription.EnableTopics != nil && *c.Transcription.EnableTopics
}

// SubtitlesEnabled reports whether the subtitle stage should run.
func (c *ProcessingConfig) SubtitlesEnabled() bool {
	return c != nil && c.Transcription != nil && c.Transcription.EnableSubtitles != nil && *c.Transcription.EnableSubtitles
}

// TranscriptionAllowsErrors reports whether transcription-family failures
// cascade-skip instead of failing the pipeline.
func (c *ProcessingConfig) TranscriptionAllowsErrors() bool {
	return c != nil && c.Transcription != nil && c.Transcription.AllowErrors != nil && *c.Transcription.AllowErrors
}

// ForceDownload reports whether the download step must refetch.
func (c *ProcessingConfig) ForceDownload() bool {
	return c != nil && c.Download != nil && c.Download.Force != nil && *c.Download.Force
}

// TokenMaxAgeMinutes returns the stored-token staleness threshold.
func (c *ProcessingConfig) TokenMaxAgeMinutes() int {
	if c != nil && c.Download != nil && c.Download.TokenMaxAgeMinutes != nil {
		return *c.Download.TokenMaxAgeMinutes
	}
	return DefaultTokenMaxAgeMinutes
}

// SilenceThresholdValue returns the silence floor in dBFS.
func (c *TrimmingConfig) SilenceThresholdValue() float64 {
	if c != nil && c.SilenceThresholdDB != nil {
		return *c.SilenceThresholdDB
	}
	return DefaultSilenceThresholdDB
}

// MinSilenceValue returns the minimum silence run in seconds.
func (c *TrimmingConfig) MinSilenceValue() float64 {
	if c != nil && c.MinSilenceDuration != nil {
		return *c.MinSilenceDuration
	}
	return DefaultMinSilenceDuration
}

// PaddingBeforeValue returns the leading padding in seconds.
func (c *TrimmingConfig) PaddingBeforeValue() float64 {
	if c != nil && c.PaddingBefore != nil {
		return *c.PaddingBefore
	}
	return DefaultPaddingBefore
}

// PaddingAfterValue returns the trailing padding in seconds.
func (c *TrimmingConfig) PaddingAfterValue() float64 {
	if c != nil && c.PaddingAfter != nil {
		return *c.PaddingAfter
	}
	return DefaultPaddingAfter
}

// LanguageValue returns the transcription language ("" = auto-detect).
func (c *TranscriptionConfig) LanguageValue() string {
	if c != nil && c.Language != nil {
		return *c.Language
	}
	return ""
}

// BasePromptValue returns the configured transcription base prompt.
func (c *TranscriptionConfig) BasePromptValue() string {
	if c != nil && c.BasePrompt != nil {
		return *c.BasePrompt
	}
	return ""
}

// TemperatureValue returns the transcription sampling temperature.
func (c *TranscriptionConfig) TemperatureValue() float64 {
	if c != nil && c.Temperature != nil {
		return *c.Temperature
	}
	return 0
}

// GranularityValue returns the topic granularity (short or long).
func (c *TranscriptionConfig) GranularityValue() string {
	if c != nil && c.TopicGranularity != nil && *c.TopicGranularity != "" {
		return *c.TopicGranularity
	}
	return DefaultTopicGranularity
}

// SubtitleFormatsValue returns the subtitle formats to emit.
func (c *TranscriptionConfig) SubtitleFormatsValue() []string {
	if c != nil && len(c.SubtitleFormats) > 0 {
		return cloneSlice(c.SubtitleFormats)
	}
	return cloneSlice(DefaultSubtitleFormats)
}

// AutoUploadEnabled reports whether uploads are scheduled automatically.
func (c *OutputConfig) AutoUploadEnabled() bool {
	return c != nil && c.AutoUpload != nil && *c.AutoUpload
}

// AutoExpireDaysValue returns the auto-expire window in days.
func (c *RetentionConfig) AutoExpireDaysValue() int {
	if c != nil && c.AutoExpireDays != nil {
		return *c.AutoExpireDays
	}
	return DefaultAutoExpireDays
}

// SoftDeleteDaysValue returns the soft-delete window in days.
func (c *RetentionConfig) SoftDeleteDaysValue() int {
	if c != nil && c.SoftDeleteDays != nil {
		return *c.SoftDeleteDays
	}
	return DefaultSoftDeleteDays
}

// HardDeleteDaysValue returns the hard-delete window in days.
func (c *RetentionConfig) HardDeleteDaysValue() int {
	if c != nil && c.HardDeleteDays != nil {
		return *c.HardDeleteDays
	}
	return DefaultHardDeleteDays
}

// TopicsFormatValue returns the topics list rendering style.
func (c *MetadataConfig) TopicsFormatValue() string {
	if c != nil && c.TopicsFormat != nil && *c.TopicsFormat != "" {
		return *c.TopicsFormat
	}
	return DefaultTopicsFormat
}

// IncludeTimestampsValue reports whether rendered topics carry timestamps.
func (c *MetadataConfig) IncludeTimestampsValue() bool {
	return c != nil && c.IncludeTimestamps != nil && *c.IncludeTimestamps
}
