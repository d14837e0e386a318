package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recarr/internal/quota"
)

// QuotaHandler serves the quota snapshot of the authenticated user.
type QuotaHandler struct {
	quota *quota.Service
}

// NewQuotaHandler creates a quota handler.
func NewQuotaHandler(svc *quota.Service) *QuotaHandler {
	return &QuotaHandler{quota: svc}
}

// Register registers the quota routes with the API.
func (h *QuotaHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-quota",
		Method:      "GET",
		Path:        "/api/v1/quota",
		Summary:     "Get quota status",
		Description: "Returns the user's effective limits and current usage",
		Tags:        []string{"Quota"},
	}, h.Get)
}

// QuotaInput is the input for the quota endpoint.
type QuotaInput struct{}

// QuotaOutput is the quota snapshot.
type QuotaOutput struct {
	Body *quota.Status
}

// Get returns the current quota status.
func (h *QuotaHandler) Get(ctx context.Context, input *QuotaInput) (*QuotaOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	status, err := h.quota.Status(ctx, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load quota status")
	}
	return &QuotaOutput{Body: status}, nil
}
