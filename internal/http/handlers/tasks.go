package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

// TaskHandler serves task status and cancellation. Every lookup is
// scoped to the authenticated user; another tenant's task is
// indistinguishable from a missing one.
type TaskHandler struct {
	tasks repository.TaskRepository
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(tasks repository.TaskRepository) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get task status",
		Tags:        []string{"Tasks"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/cancel",
		Summary:     "Cancel task",
		Description: "Cancels a task that has not been claimed by a worker yet",
		Tags:        []string{"Tasks"},
	}, h.Cancel)
}

// TaskIDInput addresses one task.
type TaskIDInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// GetTaskOutput is the output for a task lookup.
type GetTaskOutput struct {
	Body *models.Task
}

// Get returns one task of the authenticated user.
func (h *TaskHandler) Get(ctx context.Context, input *TaskIDInput) (*GetTaskOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	task, err := h.tasks.GetForUser(ctx, id, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load task")
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}
	return &GetTaskOutput{Body: task}, nil
}

// Cancel cancels a pending or scheduled task.
func (h *TaskHandler) Cancel(ctx context.Context, input *TaskIDInput) (*AckOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	switch err := h.tasks.Cancel(ctx, id, user.ID); {
	case err == nil:
		return ack(), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, huma.Error404NotFound("task not found")
	case errors.Is(err, repository.ErrTaskNotCancellable):
		return nil, huma.Error409Conflict("task already running or finished")
	default:
		return nil, apiError(err, "failed to cancel task")
	}
}
