package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recarr/internal/automation"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/repository"
)

// AutomationHandler serves automation-job operations. Runs are queued;
// dry runs execute inline and report what a run would do.
type AutomationHandler struct {
	jobs       repository.AutomationRepository
	runner     *automation.Runner
	dispatcher *queue.Dispatcher
}

// NewAutomationHandler creates an automation handler.
func NewAutomationHandler(jobs repository.AutomationRepository, runner *automation.Runner, dispatcher *queue.Dispatcher) *AutomationHandler {
	return &AutomationHandler{jobs: jobs, runner: runner, dispatcher: dispatcher}
}

// Register registers the automation routes with the API.
func (h *AutomationHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "run-automation-job",
		Method:      "POST",
		Path:        "/api/v1/automation/{id}/run",
		Summary:     "Run automation job",
		Description: "Enqueues an immediate run of the job",
		Tags:        []string{"Automation"},
	}, h.Run)

	huma.Register(api, huma.Operation{
		OperationID: "dry-run-automation-job",
		Method:      "POST",
		Path:        "/api/v1/automation/{id}/dry-run",
		Summary:     "Dry-run automation job",
		Description: "Counts what a run would sync, match, and launch without doing it",
		Tags:        []string{"Automation"},
	}, h.DryRun)
}

// AutomationJobInput addresses one automation job.
type AutomationJobInput struct {
	ID string `path:"id" doc:"Automation job ID (ULID)"`
}

// Run enqueues an immediate run of the job.
func (h *AutomationHandler) Run(ctx context.Context, input *AutomationJobInput) (*TaskRefOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.jobs.GetByID(ctx, jobID, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load automation job")
	}
	if job == nil {
		return nil, huma.Error404NotFound("automation job not found")
	}

	task, err := h.dispatcher.Enqueue(ctx, &models.Task{
		Queue:    models.QueueAsyncOperations,
		Type:     models.TaskAutomationRun,
		UserID:   user.ID,
		Priority: models.PriorityManual,
		Payload:  automation.TaskPayload(jobID),
	})
	if err != nil {
		return nil, apiError(err, "failed to enqueue automation run")
	}

	resp := &TaskRefOutput{}
	resp.Body.TaskID = task.ID.String()
	return resp, nil
}

// DryRunOutput is the counted outcome of a would-be run.
type DryRunOutput struct {
	Body automation.RunResult
}

// DryRun executes the job inline without launching anything.
func (h *AutomationHandler) DryRun(ctx context.Context, input *AutomationJobInput) (*DryRunOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	res, err := h.runner.DryRun(ctx, jobID, user.ID)
	if err != nil {
		return nil, apiError(err, "dry run failed")
	}
	return &DryRunOutput{Body: res}, nil
}
