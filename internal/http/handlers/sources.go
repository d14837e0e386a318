package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recarr/internal/ingest"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/repository"
)

// SourceHandler serves input-source sync operations. Syncs run as
// queued tasks; the response carries the task id for polling.
type SourceHandler struct {
	sources    repository.InputSourceRepository
	dispatcher *queue.Dispatcher
}

// NewSourceHandler creates a source handler.
func NewSourceHandler(sources repository.InputSourceRepository, dispatcher *queue.Dispatcher) *SourceHandler {
	return &SourceHandler{sources: sources, dispatcher: dispatcher}
}

// Register registers the source routes with the API.
func (h *SourceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-source",
		Method:      "POST",
		Path:        "/api/v1/sources/{id}/sync",
		Summary:     "Sync one source",
		Description: "Enqueues a sync of the source over the given window",
		Tags:        []string{"Sources"},
	}, h.Sync)

	huma.Register(api, huma.Operation{
		OperationID: "sync-sources",
		Method:      "POST",
		Path:        "/api/v1/sources/sync",
		Summary:     "Sync several sources",
		Description: "Enqueues a batch sync; an empty id list means every enabled source",
		Tags:        []string{"Sources"},
	}, h.SyncBatch)
}

// SyncWindow is the sync window of a request. From is required; an
// empty To means now.
type SyncWindow struct {
	From string `json:"from" format:"date-time" doc:"Window start (RFC 3339)"`
	To   string `json:"to,omitempty" format:"date-time" doc:"Window end; defaults to now"`
}

func (w SyncWindow) resolve() (string, string, error) {
	if w.From == "" {
		return "", "", huma.Error400BadRequest("from is required")
	}
	if _, err := time.Parse(time.RFC3339, w.From); err != nil {
		return "", "", huma.Error400BadRequest("invalid from timestamp", err)
	}
	to := w.To
	if to == "" {
		to = time.Now().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, to); err != nil {
		return "", "", huma.Error400BadRequest("invalid to timestamp", err)
	}
	return w.From, to, nil
}

// SyncSourceInput is the input for syncing one source.
type SyncSourceInput struct {
	ID   string `path:"id" doc:"Input source ID (ULID)"`
	Body SyncWindow
}

// TaskRefOutput reports the enqueued task.
type TaskRefOutput struct {
	Body struct {
		TaskID string `json:"task_id"`
	}
}

// Sync enqueues a sync of one source.
func (h *SourceHandler) Sync(ctx context.Context, input *SyncSourceInput) (*TaskRefOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	sourceID, err := parseULID(input.ID)
	if err != nil {
		return nil, err
	}

	src, err := h.sources.GetByID(ctx, sourceID, user.ID)
	if err != nil {
		return nil, apiError(err, "failed to load source")
	}
	if src == nil {
		return nil, huma.Error404NotFound("source not found")
	}

	from, to, err := input.Body.resolve()
	if err != nil {
		return nil, err
	}

	task, err := h.dispatcher.Enqueue(ctx, &models.Task{
		Queue:    models.QueueAsyncOperations,
		Type:     models.TaskSourceSync,
		UserID:   user.ID,
		Priority: models.PriorityManual,
		Payload:  ingest.SyncPayload{SourceID: sourceID, From: from, To: to}.Map(),
	})
	if err != nil {
		return nil, apiError(err, "failed to enqueue sync")
	}

	resp := &TaskRefOutput{}
	resp.Body.TaskID = task.ID.String()
	return resp, nil
}

// SyncBatchInput is the input for syncing several sources.
type SyncBatchInput struct {
	Body struct {
		SourceIDs []string `json:"source_ids,omitempty" doc:"Sources to sync; empty means every enabled source"`
		SyncWindow
	}
}

// SyncBatch enqueues a batch sync.
func (h *SourceHandler) SyncBatch(ctx context.Context, input *SyncBatchInput) (*TaskRefOutput, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]models.ULID, 0, len(input.Body.SourceIDs))
	for _, raw := range input.Body.SourceIDs {
		id, err := parseULID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	from, to, err := input.Body.resolve()
	if err != nil {
		return nil, err
	}

	task, err := h.dispatcher.Enqueue(ctx, &models.Task{
		Queue:    models.QueueAsyncOperations,
		Type:     models.TaskSourceSyncBatch,
		UserID:   user.ID,
		Priority: models.PriorityManual,
		Payload:  ingest.SyncPayload{SourceIDs: ids, From: from, To: to}.Map(),
	})
	if err != nil {
		return nil, apiError(err, "failed to enqueue batch sync")
	}

	resp := &TaskRefOutput{}
	resp.Body.TaskID = task.ID.String()
	return resp, nil
}
