// Package resolve builds the effective configuration for pipeline steps by
// deep-merging an ordered chain of configuration layers.
//
// The config tree is typed: every section is a struct of pointer fields so
// "unset" and "zero" stay distinct across layers. Merging is defined per
// node: structs merge field-wise and recurse, maps merge key-wise and
// recurse, lists and scalars are replaced by the higher layer. Merge never
// mutates its inputs and always returns a deep copy, so merging the same
// layers twice yields the same result.
package resolve

import "encoding/json"

// ProcessingConfig is the root of the processing section of the effective
// config. It covers download, trim, and transcription behaviour plus the
// retention windows applied to the recording.
type ProcessingConfig struct {
	Download      *DownloadConfig      `json:"download,omitempty"`
	Trimming      *TrimmingConfig      `json:"trimming,omitempty"`
	Transcription *TranscriptionConfig `json:"transcription,omitempty"`
	Retention     *RetentionConfig     `json:"retention,omitempty"`

	// Extra carries provider-specific keys that have no typed home.
	Extra map[string]any `json:"extra,omitempty"`
}

// DownloadConfig controls the download step.
type DownloadConfig struct {
	// Force re-downloads even when the file already exists.
	Force *bool `json:"force,omitempty"`

	// TokenMaxAgeMinutes is how old a stored access token may be before the
	// download step refreshes it.
	TokenMaxAgeMinutes *int `json:"token_max_age_minutes,omitempty"`
}

// TrimmingConfig controls silence removal.
type TrimmingConfig struct {
	EnableTrimming *bool `json:"enable_trimming,omitempty"`

	// SilenceThresholdDB is the silence floor in dBFS (e.g. -35).
	SilenceThresholdDB *float64 `json:"silence_threshold,omitempty"`

	// MinSilenceDuration is the minimum silence run in seconds.
	MinSilenceDuration *float64 `json:"min_silence_duration,omitempty"`

	// PaddingBefore/PaddingAfter extend the kept range in seconds.
	PaddingBefore *float64 `json:"padding_before,omitempty"`
	PaddingAfter  *float64 `json:"padding_after,omitempty"`
}

// TranscriptionConfig controls transcription and its dependent stages.
type TranscriptionConfig struct {
	EnableTranscription *bool `json:"enable_transcription,omitempty"`
	EnableTopics        *bool `json:"enable_topics,omitempty"`
	EnableSubtitles     *bool `json:"enable_subtitles,omitempty"`

	// AllowErrors turns terminal transcription-family failures into
	// skipped stages instead of failing the pipeline.
	AllowErrors *bool `json:"allow_errors,omitempty"`

	Language    *string  `json:"language,omitempty"`
	BasePrompt  *string  `json:"base_prompt,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Vocabulary is fed into the transcription prompt as hint terms.
	Vocabulary []string `json:"vocabulary,omitempty"`

	// TopicGranularity is "short" or "long".
	TopicGranularity *string `json:"topic_granularity,omitempty"`

	// SubtitleFormats lists the formats to emit ("srt", "vtt").
	SubtitleFormats []string `json:"subtitle_formats,omitempty"`
}

// RetentionConfig carries the user's two-level retention windows in days.
type RetentionConfig struct {
	AutoExpireDays *int `json:"auto_expire_days,omitempty"`
	SoftDeleteDays *int `json:"soft_delete_days,omitempty"`
	HardDeleteDays *int `json:"hard_delete_days,omitempty"`
}

// MetadataConfig shapes the rendered upload metadata.
type MetadataConfig struct {
	TitleTemplate       *string  `json:"title_template,omitempty"`
	DescriptionTemplate *string  `json:"description_template,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Privacy             *string  `json:"privacy,omitempty"`

	// TopicsFormat selects how the topics list renders into templates:
	// numbered, bullet, dash, comma, or inline.
	TopicsFormat *string `json:"topics_format,omitempty"`

	// IncludeTimestamps appends each topic's timestamp when rendering.
	IncludeTimestamps *bool `json:"include_timestamps,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// OutputConfig controls the upload tail of the pipeline.
type OutputConfig struct {
	AutoUpload       *bool    `json:"auto_upload,omitempty"`
	DefaultPlatforms []string `json:"default_platforms,omitempty"`
	PresetIDs        []string `json:"preset_ids,omitempty"`

	// Metadata overrides the metadata layer for uploads launched by this
	// output config.
	Metadata *MetadataConfig `json:"metadata,omitempty"`
}

// UnmarshalJSON lifts a nested "processing_config" subtree into the root.
// Templates created from older exports store their processing section
// nested one level deep; the nested values win over root-level siblings.
func (c *ProcessingConfig) UnmarshalJSON(data []byte) error {
	type plain ProcessingConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var envelope struct {
		Nested *ProcessingConfig `json:"processing_config"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Nested != nil {
		merged := MergeProcessing((*ProcessingConfig)(&p), envelope.Nested)
		*c = *merged
		return nil
	}
	*c = ProcessingConfig(p)
	return nil
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (c *ProcessingConfig) Clone() *ProcessingConfig {
	if c == nil {
		return nil
	}
	return &ProcessingConfig{
		Download:      c.Download.Clone(),
		Trimming:      c.Trimming.Clone(),
		Transcription: c.Transcription.Clone(),
		Retention:     c.Retention.Clone(),
		Extra:         cloneMap(c.Extra),
	}
}

// Clone returns a deep copy.
func (c *DownloadConfig) Clone() *DownloadConfig {
	if c == nil {
		return nil
	}
	return &DownloadConfig{
		Force:              cloneBool(c.Force),
		TokenMaxAgeMinutes: cloneInt(c.TokenMaxAgeMinutes),
	}
}

// Clone returns a deep copy.
func (c *TrimmingConfig) Clone() *TrimmingConfig {
	if c == nil {
		return nil
	}
	return &TrimmingConfig{
		EnableTrimming:     cloneBool(c.EnableTrimming),
		SilenceThresholdDB: cloneFloat(c.SilenceThresholdDB),
		MinSilenceDuration: cloneFloat(c.MinSilenceDuration),
		PaddingBefore:      cloneFloat(c.PaddingBefore),
		PaddingAfter:       cloneFloat(c.PaddingAfter),
	}
}

// Clone returns a deep copy.
func (c *TranscriptionConfig) Clone() *TranscriptionConfig {
	if c == nil {
		return nil
	}
	return &TranscriptionConfig{
		EnableTranscription: cloneBool(c.EnableTranscription),
		EnableTopics:        cloneBool(c.EnableTopics),
		EnableSubtitles:     cloneBool(c.EnableSubtitles),
		AllowErrors:         cloneBool(c.AllowErrors),
		Language:            cloneString(c.Language),
		BasePrompt:          cloneString(c.BasePrompt),
		Temperature:         cloneFloat(c.Temperature),
		Vocabulary:          cloneSlice(c.Vocabulary),
		TopicGranularity:    cloneString(c.TopicGranularity),
		SubtitleFormats:     cloneSlice(c.SubtitleFormats),
	}
}

// Clone returns a deep copy.
func (c *RetentionConfig) Clone() *RetentionConfig {
	if c == nil {
		return nil
	}
	return &RetentionConfig{
		AutoExpireDays: cloneInt(c.AutoExpireDays),
		SoftDeleteDays: cloneInt(c.SoftDeleteDays),
		HardDeleteDays: cloneInt(c.HardDeleteDays),
	}
}

// Clone returns a deep copy.
func (c *MetadataConfig) Clone() *MetadataConfig {
	if c == nil {
		return nil
	}
	return &MetadataConfig{
		TitleTemplate:       cloneString(c.TitleTemplate),
		DescriptionTemplate: cloneString(c.DescriptionTemplate),
		Tags:                cloneSlice(c.Tags),
		Privacy:             cloneString(c.Privacy),
		TopicsFormat:        cloneString(c.TopicsFormat),
		IncludeTimestamps:   cloneBool(c.IncludeTimestamps),
		Extra:               cloneMap(c.Extra),
	}
}

// Clone returns a deep copy.
func (c *OutputConfig) Clone() *OutputConfig {
	if c == nil {
		return nil
	}
	return &OutputConfig{
		AutoUpload:       cloneBool(c.AutoUpload),
		DefaultPlatforms: cloneSlice(c.DefaultPlatforms),
		PresetIDs:        cloneSlice(c.PresetIDs),
		Metadata:         c.Metadata.Clone(),
	}
}

// MergeProcessing merges overlay onto base. Neither input is mutated.
func MergeProcessing(base, overlay *ProcessingConfig) *ProcessingConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &ProcessingConfig{
		Download:      mergeDownload(base.Download, overlay.Download),
		Trimming:      mergeTrimming(base.Trimming, overlay.Trimming),
		Transcription: mergeTranscription(base.Transcription, overlay.Transcription),
		Retention:     mergeRetention(base.Retention, overlay.Retention),
		Extra:         mergeMap(base.Extra, overlay.Extra),
	}
}

func mergeDownload(base, overlay *DownloadConfig) *DownloadConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &DownloadConfig{
		Force:              mergeBool(base.Force, overlay.Force),
		TokenMaxAgeMinutes: mergeInt(base.TokenMaxAgeMinutes, overlay.TokenMaxAgeMinutes),
	}
}

func mergeTrimming(base, overlay *TrimmingConfig) *TrimmingConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &TrimmingConfig{
		EnableTrimming:     mergeBool(base.EnableTrimming, overlay.EnableTrimming),
		SilenceThresholdDB: mergeFloat(base.SilenceThresholdDB, overlay.SilenceThresholdDB),
		MinSilenceDuration: mergeFloat(base.MinSilenceDuration, overlay.MinSilenceDuration),
		PaddingBefore:      mergeFloat(base.PaddingBefore, overlay.PaddingBefore),
		PaddingAfter:       mergeFloat(base.PaddingAfter, overlay.PaddingAfter),
	}
}

func mergeTranscription(base, overlay *TranscriptionConfig) *TranscriptionConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &TranscriptionConfig{
		EnableTranscription: mergeBool(base.EnableTranscription, overlay.EnableTranscription),
		EnableTopics:        mergeBool(base.EnableTopics, overlay.EnableTopics),
		EnableSubtitles:     mergeBool(base.EnableSubtitles, overlay.EnableSubtitles),
		AllowErrors:         mergeBool(base.AllowErrors, overlay.AllowErrors),
		Language:            mergeString(base.Language, overlay.Language),
		BasePrompt:          mergeString(base.BasePrompt, overlay.BasePrompt),
		Temperature:         mergeFloat(base.Temperature, overlay.Temperature),
		Vocabulary:          mergeSlice(base.Vocabulary, overlay.Vocabulary),
		TopicGranularity:    mergeString(base.TopicGranularity, overlay.TopicGranularity),
		SubtitleFormats:     mergeSlice(base.SubtitleFormats, overlay.SubtitleFormats),
	}
}

func mergeRetention(base, overlay *RetentionConfig) *RetentionConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &RetentionConfig{
		AutoExpireDays: mergeInt(base.AutoExpireDays, overlay.AutoExpireDays),
		SoftDeleteDays: mergeInt(base.SoftDeleteDays, overlay.SoftDeleteDays),
		HardDeleteDays: mergeInt(base.HardDeleteDays, overlay.HardDeleteDays),
	}
}

// MergeMetadata merges overlay onto base. Neither input is mutated.
func MergeMetadata(base, overlay *MetadataConfig) *MetadataConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &MetadataConfig{
		TitleTemplate:       mergeString(base.TitleTemplate, overlay.TitleTemplate),
		DescriptionTemplate: mergeString(base.DescriptionTemplate, overlay.DescriptionTemplate),
		Tags:                mergeSlice(base.Tags, overlay.Tags),
		Privacy:             mergeString(base.Privacy, overlay.Privacy),
		TopicsFormat:        mergeString(base.TopicsFormat, overlay.TopicsFormat),
		IncludeTimestamps:   mergeBool(base.IncludeTimestamps, overlay.IncludeTimestamps),
		Extra:               mergeMap(base.Extra, overlay.Extra),
	}
}

// MergeOutput merges overlay onto base. Neither input is mutated.
func MergeOutput(base, overlay *OutputConfig) *OutputConfig {
	if base == nil {
		return overlay.Clone()
	}
	if overlay == nil {
		return base.Clone()
	}
	return &OutputConfig{
		AutoUpload:       mergeBool(base.AutoUpload, overlay.AutoUpload),
		DefaultPlatforms: mergeSlice(base.DefaultPlatforms, overlay.DefaultPlatforms),
		PresetIDs:        mergeSlice(base.PresetIDs, overlay.PresetIDs),
		Metadata:         MergeMetadata(base.Metadata, overlay.Metadata),
	}
}

// Scalar merge helpers: the overlay wins when set, and the result is always
// a fresh pointer so callers can never alias a layer.

func mergeBool(base, overlay *bool) *bool {
	if overlay != nil {
		return cloneBool(overlay)
	}
	return cloneBool(base)
}

func mergeInt(base, overlay *int) *int {
	if overlay != nil {
		return cloneInt(overlay)
	}
	return cloneInt(base)
}

func mergeFloat(base, overlay *float64) *float64 {
	if overlay != nil {
		return cloneFloat(overlay)
	}
	return cloneFloat(base)
}

func mergeString(base, overlay *string) *string {
	if overlay != nil {
		return cloneString(overlay)
	}
	return cloneString(base)
}

// mergeSlice replaces, never concatenates. A nil overlay keeps the base.
func mergeSlice(base, overlay []string) []string {
	if overlay != nil {
		return cloneSlice(overlay)
	}
	return cloneSlice(base)
}

// mergeMap deep-merges nested maps; lists and scalars are replaced.
func mergeMap(base, overlay map[string]any) map[string]any {
	if base == nil && overlay == nil {
		return nil
	}
	out := cloneMap(base)
	if out == nil {
		out = make(map[string]any, len(overlay))
	}
	for k, v := range overlay {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = mergeMap(existing, sub)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneSlice(v []string) []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

func cloneMap(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Ptr helpers for building config literals.

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// String returns a pointer to s.
func String(s string) *string { return &s }
