// Package pipeline builds and drives task chains over the queue layer.
// A launch computes which steps the effective config enables, encodes
// the remaining chain into each task's payload, and advances the chain
// as steps complete. Parallel step groups synchronise through a
// database join counter, so chains survive process restarts and shared
// worker fleets.
package pipeline

import (
	"encoding/json"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/pipeline/steps"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/resolve"
)

// StepRef is one element of a chain: either a single task type or a
// parallel group of task types that must all finish before the chain
// moves on.
type StepRef struct {
	Type    models.TaskType   `json:"type,omitempty"`
	Members []models.TaskType `json:"members,omitempty"`
}

// IsGroup reports whether the ref is a parallel group.
func (r StepRef) IsGroup() bool {
	return len(r.Members) > 0
}

// Step builds a single-step ref.
func Step(t models.TaskType) StepRef {
	return StepRef{Type: t}
}

// Group builds a parallel-group ref.
func Group(members ...models.TaskType) StepRef {
	return StepRef{Members: members}
}

// Payload is the chain state carried inside each pipeline task. It holds
// ids and the remaining chain only; recording state stays in the
// database.
type Payload struct {
	RecordingID int64       `json:"recording_id"`
	UserID      models.ULID `json:"user_id"`
	ChainID     models.ULID `json:"chain_id"`

	// Remaining is the chain after this step. Empty means the chain ends
	// here.
	Remaining []StepRef `json:"remaining,omitempty"`

	// Override is the manual processing override of this launch.
	Override *resolve.ProcessingConfig `json:"override,omitempty"`

	// Member marks a task that belongs to a parallel group; its
	// completion goes through the join counter instead of Remaining.
	Member bool `json:"member,omitempty"`

	// Upload fan-out fields.
	Platform         string                  `json:"platform,omitempty"`
	PresetID         string                  `json:"preset_id,omitempty"`
	MetadataOverride *resolve.MetadataConfig `json:"metadata_override,omitempty"`

	// Priority is inherited by every task of the chain.
	Priority int `json:"priority,omitempty"`
}

// Map encodes the payload for task storage.
func (p Payload) Map() models.JSONMap {
	raw, err := json.Marshal(p)
	if err != nil {
		return models.JSONMap{"recording_id": p.RecordingID}
	}
	var m models.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.JSONMap{"recording_id": p.RecordingID}
	}
	return m
}

// DecodePayload decodes a task payload. A payload that does not decode
// is terminal: retrying cannot fix it.
func DecodePayload(m models.JSONMap) (Payload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Payload{}, recerr.Wrap(recerr.KindTerminal, err, "encoding task payload")
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, recerr.Wrap(recerr.KindTerminal, err, "decoding task payload")
	}
	if p.RecordingID == 0 {
		return Payload{}, recerr.New(recerr.KindTerminal, "task payload has no recording id")
	}
	return p, nil
}

// request converts the payload into the step executor input.
func (p Payload) request() steps.Request {
	return steps.Request{
		RecordingID:      p.RecordingID,
		UserID:           p.UserID,
		Override:         p.Override,
		Platform:         p.Platform,
		PresetID:         p.PresetID,
		MetadataOverride: p.MetadataOverride,
	}
}

// QueueFor routes a pipeline task type to its queue: downloads and
// uploads to their network queues, FFmpeg work to the CPU queue, and
// everything else to async operations.
func QueueFor(t models.TaskType) models.TaskQueue {
	switch t {
	case models.TaskDownload:
		return models.QueueDownloads
	case models.TaskTrim:
		return models.QueueProcessingCPU
	case models.TaskUpload:
		return models.QueueUploads
	default:
		return models.QueueAsyncOperations
	}
}

// stageTypeFor maps a task type to its stage row, or "" when the task
// has no stage (download, upload, launcher).
func stageTypeFor(t models.TaskType) models.StageType {
	switch t {
	case models.TaskTrim:
		return models.StageTrim
	case models.TaskTranscribe:
		return models.StageTranscribe
	case models.TaskExtractTopics:
		return models.StageExtractTopics
	case models.TaskGenerateSubtitles:
		return models.StageGenerateSubtitles
	default:
		return ""
	}
}

// failureStageName maps a task type to the stage name recorded on the
// recording's failure fields.
func failureStageName(t models.TaskType) string {
	switch t {
	case models.TaskDownload:
		return "download"
	case models.TaskTrim:
		return "trim"
	case models.TaskTranscribe:
		return "transcribe"
	case models.TaskExtractTopics:
		return "extract_topics"
	case models.TaskGenerateSubtitles:
		return "generate_subtitles"
	case models.TaskUpload, models.TaskUploadLauncher:
		return "upload"
	default:
		return string(t)
	}
}

// isTranscriptionFamily reports whether the task belongs to the
// transcription family, whose failures may cascade-skip.
func isTranscriptionFamily(t models.TaskType) bool {
	switch t {
	case models.TaskTranscribe, models.TaskExtractTopics, models.TaskGenerateSubtitles:
		return true
	}
	return false
}

// dependsOnTranscription reports whether a task type consumes the
// transcription artifacts.
func dependsOnTranscription(t models.TaskType) bool {
	return t == models.TaskExtractTopics || t == models.TaskGenerateSubtitles
}

// dropTranscriptionDependents filters transcription-consuming steps out
// of a chain, used after the transcribe step skips on error. Groups are
// filtered member-wise; a group left with one member degrades to a
// plain step, and an emptied ref disappears.
func dropTranscriptionDependents(refs []StepRef) []StepRef {
	out := make([]StepRef, 0, len(refs))
	for _, ref := range refs {
		if ref.IsGroup() {
			kept := make([]models.TaskType, 0, len(ref.Members))
			for _, m := range ref.Members {
				if !dependsOnTranscription(m) {
					kept = append(kept, m)
				}
			}
			switch len(kept) {
			case 0:
			case 1:
				out = append(out, Step(kept[0]))
			default:
				out = append(out, Group(kept...))
			}
			continue
		}
		if dependsOnTranscription(ref.Type) {
			continue
		}
		out = append(out, ref)
	}
	return out
}
