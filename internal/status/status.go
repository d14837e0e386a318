// Package status computes the aggregate lifecycle status of a recording
// from its stages and output targets, and derives the admission predicates
// the executors and HTTP layer consult before acting. Everything here is a
// pure function over an in-memory recording; callers persist the result.
package status

import (
	"github.com/jmylchreest/recarr/internal/models"
)

// Aggregate computes the recording's aggregate status. Evaluation order
// matters: expiry beats everything, an in-progress stage beats the base
// statuses, and the base statuses (initialized, downloading, downloaded,
// skipped, pending_source) are only ever set explicitly, never derived.
func Aggregate(r *models.Recording, now models.Time) models.RecordingStatus {
	if r.Deleted && r.DeletionReason == models.DeletionReasonExpired {
		return models.StatusExpired
	}
	if r.ExpireAt != nil && !r.ExpireAt.After(now) {
		return models.StatusExpired
	}

	if r.Status == models.StatusSkipped || r.Status == models.StatusPendingSource {
		return r.Status
	}

	for i := range r.Stages {
		if r.Stages[i].Status == models.StageInProgress {
			return models.StatusProcessing
		}
	}

	switch r.Status {
	case models.StatusInitialized, models.StatusDownloading, models.StatusDownloaded:
		return r.Status
	}

	if len(r.Stages) > 0 {
		// Stages that were skipped are not owed; everything else must be
		// completed before the destinations decide the status.
		activeCount := 0
		activeCompleted := 0
		for i := range r.Stages {
			switch r.Stages[i].Status {
			case models.StageSkipped:
			case models.StageCompleted:
				activeCount++
				activeCompleted++
			default:
				activeCount++
			}
		}
		if activeCount > 0 && activeCompleted == activeCount {
			return destinationStatus(r)
		}
		return models.StatusProcessed
	}

	return destinationStatus(r)
}

// destinationStatus evaluates the upload targets: any uploading wins, all
// uploaded means ready, anything else is processed.
func destinationStatus(r *models.Recording) models.RecordingStatus {
	if len(r.Targets) == 0 {
		return models.StatusProcessed
	}
	uploaded := 0
	for i := range r.Targets {
		switch r.Targets[i].Status {
		case models.TargetUploading:
			return models.StatusUploading
		case models.TargetUploaded:
			uploaded++
		}
	}
	if uploaded == len(r.Targets) {
		return models.StatusReady
	}
	return models.StatusProcessed
}

// actionable reports whether any operator or pipeline action may touch the
// recording at all.
func actionable(r *models.Recording, now models.Time) bool {
	if r.IsDeleted() {
		return false
	}
	switch Aggregate(r, now) {
	case models.StatusSkipped, models.StatusPendingSource, models.StatusExpired:
		return false
	}
	return true
}

// AllowDownload reports whether the download step may run. Only an
// initialized recording downloads, unless force re-fetches.
func AllowDownload(r *models.Recording, now models.Time, force bool) bool {
	if !actionable(r, now) {
		return false
	}
	if force {
		return true
	}
	return r.Status == models.StatusInitialized
}

// AllowRun reports whether a pipeline run may start. Media must be on
// disk and nothing may currently be in progress.
func AllowRun(r *models.Recording, now models.Time) bool {
	if !actionable(r, now) {
		return false
	}
	if r.OnPause {
		return false
	}
	switch Aggregate(r, now) {
	case models.StatusInitialized, models.StatusDownloading, models.StatusProcessing, models.StatusUploading:
		return false
	}
	return r.LocalVideoPath != ""
}

// AllowTranscription reports whether the transcription step may run: media
// present and no stage currently in progress besides its own.
func AllowTranscription(r *models.Recording, now models.Time) bool {
	if !actionable(r, now) {
		return false
	}
	return r.BestAudioInput() != ""
}

// AllowUpload reports whether an upload to targetType may start. Uploads
// wait for every non-skipped stage to complete and never re-run an
// uploaded or in-flight target.
func AllowUpload(r *models.Recording, now models.Time, targetType string) bool {
	if !actionable(r, now) {
		return false
	}

	for i := range r.Stages {
		s := r.Stages[i].Status
		if s != models.StageCompleted && s != models.StageSkipped {
			return false
		}
	}

	if t := r.TargetByType(targetType); t != nil {
		if t.Status == models.TargetUploaded || t.Status == models.TargetUploading {
			return false
		}
	}
	return true
}
