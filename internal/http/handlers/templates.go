package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

// TemplateHandler serves recording-template operations.
type TemplateHandler struct {
	recordings repository.RecordingRepository
	templates  repository.TemplateRepository
}

// NewTemplateHandler creates a template handler.
func NewTemplateHandler(recordings repository.RecordingRepository, templates repository.TemplateRepository) *TemplateHandler {
	return &TemplateHandler{recordings: recordings, templates: templates}
}

// Register registers the template routes with the API.
func (h *TemplateHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "create-template-from-recording",
		Method:      "POST",
		Path:        "/api/v1/templates/from-recording",
		Summary:     "Create template from recording",
		Description: "Derives a matchable template from an existing recording's configuration",
		Tags:        []string{"Templates"},
	}, h.FromRecording)
}

// FromRecordingInput is the input for deriving a template.
type FromRecordingInput struct {
	Body struct {
		RecordingID   int64  `json:"recording_id" doc:"Recording to derive from"`
		Name          string `json:"name" minLength:"1" doc:"Template name"`
		MatchPattern  string `json:"match_pattern,omitempty" doc:"Regex matched against future display names; defaults to an exact match on this recording's name"`
		MatchSourceID string `json:"match_source_id,omitempty" doc:"Restrict matching to one input source"`
	}
}

// FromRecordingOutput is the created template.
type FromRecordingOutput struct {
	Status int
	Body   *models.RecordingTemplate
}

// FromRecording creates a template seeded from a recording: its
// processing preferences become the template's processing config, and
// the matching rules target future recordings that look like it.
func (h *TemplateHandler) FromRecording(ctx context.Context, input *FromRecordingInput) (*FromRecordingOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := h.recordings.GetByID(ctx, input.Body.RecordingID, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load recording")
	}
	if rec == nil {
		return nil, huma.Error404NotFound("recording not found")
	}

	rules := &models.MatchingRules{}
	if input.Body.MatchPattern != "" {
		rules.IncludePatterns = []string{input.Body.MatchPattern}
	} else {
		rules.ExactMatches = []string{rec.DisplayName}
	}
	if input.Body.MatchSourceID != "" {
		if _, err := parseULID(input.Body.MatchSourceID); err != nil {
			return nil, err
		}
		rules.SourceIDs = []string{input.Body.MatchSourceID}
	} else if rec.InputSourceID != nil {
		rules.SourceIDs = []string{rec.InputSourceID.String()}
	}

	tmpl := &models.RecordingTemplate{
		UserID:        user.ID,
		Name:          input.Body.Name,
		MatchingRules: rules,
	}
	if rec.ProcessingPreferences != nil {
		tmpl.ProcessingConfig = rec.ProcessingPreferences.Clone()
	} else if rec.Template != nil && rec.Template.ProcessingConfig != nil {
		// Fall back to the configuration the recording actually ran with.
		tmpl.ProcessingConfig = rec.Template.ProcessingConfig.Clone()
	}

	if err := h.templates.Create(ctx, tmpl); err != nil {
		return nil, apiError(err, "failed to create template")
	}
	return &FromRecordingOutput{Status: 201, Body: tmpl}, nil
}
