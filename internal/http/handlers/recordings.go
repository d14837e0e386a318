package handlers

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/pipeline"
	"github.com/jmylchreest/recarr/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RecordingHandler serves the recording lifecycle: listing, pipeline
// control, deletion, and upload scheduling.
type RecordingHandler struct {
	recordings repository.RecordingRepository
	users      repository.UserRepository
	orch       *pipeline.Orchestrator
}

// NewRecordingHandler creates a recording handler.
func NewRecordingHandler(recordings repository.RecordingRepository, users repository.UserRepository, orch *pipeline.Orchestrator) *RecordingHandler {
	return &RecordingHandler{recordings: recordings, users: users, orch: orch}
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-recordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "List recordings",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "get-recording",
		Method:      "GET",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Get recording",
		Tags:        []string{"Recordings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "run-recording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/run",
		Summary:     "Run pipeline",
		Description: "Plans and submits the processing chain for the recording",
		Tags:        []string{"Recordings"},
	}, h.Run)

	huma.Register(api, huma.Operation{
		OperationID: "pause-recording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/pause",
		Summary:     "Pause pipeline",
		Tags:        []string{"Recordings"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resume-recording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/resume",
		Summary:     "Resume pipeline",
		Tags:        []string{"Recordings"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "reset-recording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/reset",
		Summary:     "Reset pipeline state",
		Description: "Cancels queued work and clears pipeline state so a fresh run re-plans the chain",
		Tags:        []string{"Recordings"},
	}, h.Reset)

	huma.Register(api, huma.Operation{
		OperationID: "retry-recording-stage",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/retry/{stage}",
		Summary:     "Retry from a stage",
		Description: "Re-runs the named stage and everything after it in the effective chain",
		Tags:        []string{"Recordings"},
	}, h.RetryStage)

	huma.Register(api, huma.Operation{
		OperationID: "delete-recording",
		Method:      "DELETE",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Soft-delete recording",
		Tags:        []string{"Recordings"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "restore-recording",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/restore",
		Summary:     "Restore soft-deleted recording",
		Tags:        []string{"Recordings"},
	}, h.Restore)

	huma.Register(api, huma.Operation{
		OperationID: "schedule-upload",
		Method:      "POST",
		Path:        "/api/v1/recordings/{id}/uploads",
		Summary:     "Schedule upload",
		Description: "Admits and enqueues one upload for the platform",
		Tags:        []string{"Recordings"},
	}, h.ScheduleUpload)
}

// ListRecordingsInput is the input for listing recordings.
type ListRecordingsInput struct {
	Status         string `query:"status" doc:"Comma-separated aggregate statuses to keep"`
	TemplateID     string `query:"template_id" doc:"Keep recordings bound to one template"`
	SourceID       string `query:"source_id" doc:"Keep recordings from one input source"`
	IncludeDeleted bool   `query:"include_deleted" doc:"Include soft/hard-deleted rows"`
	Offset         int    `query:"offset" minimum:"0"`
	Limit          int    `query:"limit" minimum:"0" maximum:"200"`
}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Recordings []*models.Recording `json:"recordings"`
		Total      int64               `json:"total"`
		Offset     int                 `json:"offset"`
		Limit      int                 `json:"limit"`
	}
}

// List returns the user's recordings, newest first.
func (h *RecordingHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	filters := repository.RecordingFilters{IncludeDeleted: input.IncludeDeleted}
	for _, raw := range strings.Split(input.Status, ",") {
		if s := strings.TrimSpace(raw); s != "" {
			filters.Statuses = append(filters.Statuses, models.RecordingStatus(s))
		}
	}
	if input.TemplateID != "" {
		id, err := parseULID(input.TemplateID)
		if err != nil {
			return nil, err
		}
		filters.TemplateID = &id
	}
	if input.SourceID != "" {
		id, err := parseULID(input.SourceID)
		if err != nil {
			return nil, err
		}
		filters.InputSourceID = &id
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	recs, total, err := h.recordings.ListByUser(ctx, user.ID, filters, repository.Page{Offset: input.Offset, Limit: limit})
	if err != nil {
		return nil, apiError(err, "failed to list recordings")
	}

	resp := &ListRecordingsOutput{}
	resp.Body.Recordings = recs
	resp.Body.Total = total
	resp.Body.Offset = input.Offset
	resp.Body.Limit = limit
	return resp, nil
}

// RecordingIDInput addresses one recording.
type RecordingIDInput struct {
	ID int64 `path:"id" doc:"Recording ID"`
}

// GetRecordingOutput is the output for getting a recording.
type GetRecordingOutput struct {
	Body *models.Recording
}

// Get returns one recording with stages, targets, and source metadata.
func (h *RecordingHandler) Get(ctx context.Context, input *RecordingIDInput) (*GetRecordingOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := h.recordings.GetByID(ctx, input.ID, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load recording")
	}
	if rec == nil {
		return nil, huma.Error404NotFound("recording not found")
	}
	return &GetRecordingOutput{Body: rec}, nil
}

// RunRecordingInput is the input for launching the pipeline.
type RunRecordingInput struct {
	ID   int64 `path:"id" doc:"Recording ID"`
	Body struct {
		Priority int `json:"priority,omitempty" doc:"Task priority 0-9; zero means queue default"`
	}
}

// ChainOutput reports the submitted chain.
type ChainOutput struct {
	Body struct {
		ChainID string `json:"chain_id,omitempty"`
		Skipped bool   `json:"skipped,omitempty"`
	}
}

// Run plans and submits the processing chain.
func (h *RecordingHandler) Run(ctx context.Context, input *RunRecordingInput) (*ChainOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	chainID, err := h.orch.Launch(ctx, pipeline.LaunchRequest{
		RecordingID: input.ID,
		UserID:      user.ID,
		Priority:    input.Body.Priority,
	})
	if err != nil {
		return nil, apiError(err, "failed to launch pipeline")
	}

	resp := &ChainOutput{}
	if chainID.IsZero() {
		// Blank recordings are parked as skipped without a chain.
		resp.Body.Skipped = true
	} else {
		resp.Body.ChainID = chainID.String()
	}
	return resp, nil
}

// AckOutput is a bare success acknowledgement.
type AckOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

func ack() *AckOutput {
	out := &AckOutput{}
	out.Body.OK = true
	return out
}

// Pause stops new pipeline steps for the recording.
func (h *RecordingHandler) Pause(ctx context.Context, input *RecordingIDInput) (*AckOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.orch.Pause(ctx, input.ID, user.ID); err != nil {
		return nil, apiError(err, "failed to pause recording")
	}
	return ack(), nil
}

// Resume clears the pause flag.
func (h *RecordingHandler) Resume(ctx context.Context, input *RecordingIDInput) (*AckOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.orch.Resume(ctx, input.ID, user.ID); err != nil {
		return nil, apiError(err, "failed to resume recording")
	}
	return ack(), nil
}

// ResetRecordingInput is the input for resetting pipeline state.
type ResetRecordingInput struct {
	ID   int64 `path:"id" doc:"Recording ID"`
	Body struct {
		Preserve bool `json:"preserve,omitempty" doc:"Keep processed artifacts; the downloaded source always survives"`
	}
}

// Reset cancels queued work and clears pipeline state.
func (h *RecordingHandler) Reset(ctx context.Context, input *ResetRecordingInput) (*AckOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.orch.Reset(ctx, input.ID, user.ID, input.Body.Preserve); err != nil {
		return nil, apiError(err, "failed to reset recording")
	}
	return ack(), nil
}

// RetryStageInput is the input for retrying from a stage.
type RetryStageInput struct {
	ID    int64  `path:"id" doc:"Recording ID"`
	Stage string `path:"stage" doc:"Stage name" enum:"download,trim,transcribe,extract_topics,generate_subtitles,upload"`
}

// RetryStage re-runs the named stage and its downstream chain.
func (h *RecordingHandler) RetryStage(ctx context.Context, input *RetryStageInput) (*ChainOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	chainID, err := h.orch.RetryStage(ctx, input.ID, user.ID, input.Stage)
	if err != nil {
		return nil, apiError(err, "failed to retry stage")
	}

	resp := &ChainOutput{}
	resp.Body.ChainID = chainID.String()
	return resp, nil
}

// Delete soft-deletes the recording using the user's retention windows.
func (h *RecordingHandler) Delete(ctx context.Context, input *RecordingIDInput) (*AckOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	windows, err := h.retentionWindows(ctx, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to resolve retention windows")
	}
	if err := h.recordings.SoftDelete(ctx, input.ID, user.ID, models.DeletionReasonUser, windows); err != nil {
		return nil, apiError(err, "failed to delete recording")
	}
	return ack(), nil
}

// Restore brings a soft-deleted recording back to active with a fresh
// expiry window.
func (h *RecordingHandler) Restore(ctx context.Context, input *RecordingIDInput) (*AckOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := h.users.GetConfig(ctx, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load user config")
	}
	expireAt := models.Now().Add(daysToDuration(cfg.RetentionOrDefault().AutoExpireDaysValue()))

	if err := h.recordings.Restore(ctx, input.ID, user.ID, &expireAt); err != nil {
		return nil, apiError(err, "failed to restore recording")
	}
	return ack(), nil
}

// ScheduleUploadInput is the input for scheduling an upload.
type ScheduleUploadInput struct {
	ID   int64 `path:"id" doc:"Recording ID"`
	Body struct {
		Platform string `json:"platform" minLength:"1" doc:"Target platform"`
		PresetID string `json:"preset_id,omitempty" doc:"Output preset to apply"`
	}
}

// ScheduleUpload admits and enqueues one upload.
func (h *RecordingHandler) ScheduleUpload(ctx context.Context, input *ScheduleUploadInput) (*ChainOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	chainID, err := h.orch.ScheduleUpload(ctx, input.ID, user.ID, input.Body.Platform, input.Body.PresetID)
	if err != nil {
		return nil, apiError(err, "failed to schedule upload")
	}

	resp := &ChainOutput{}
	resp.Body.ChainID = chainID.String()
	return resp, nil
}

func (h *RecordingHandler) retentionWindows(ctx context.Context, userID models.ULID) (repository.RetentionWindows, error) {
	cfg, err := h.users.GetConfig(ctx, userID)
	if err != nil {
		return repository.RetentionWindows{}, err
	}
	ret := cfg.RetentionOrDefault()
	return repository.RetentionWindows{
		SoftDeleteDays: ret.SoftDeleteDaysValue(),
		HardDeleteDays: ret.HardDeleteDaysValue(),
	}, nil
}
