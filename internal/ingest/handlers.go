package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// DefaultSyncDays is the lookback window when a sync task names no
// explicit range.
const DefaultSyncDays = 7

// SyncPayload is the task payload of source_sync and source_sync_batch.
// From/To bound the window; when absent the window is the last SyncDays
// days.
type SyncPayload struct {
	SourceID  models.ULID   `json:"source_id,omitempty"`
	SourceIDs []models.ULID `json:"source_ids,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	SyncDays  int           `json:"sync_days,omitempty"`
}

// Map encodes the payload for task storage.
func (p SyncPayload) Map() models.JSONMap {
	raw, err := json.Marshal(p)
	if err != nil {
		return models.JSONMap{}
	}
	var m models.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.JSONMap{}
	}
	return m
}

// DecodeSyncPayload decodes a sync task payload.
func DecodeSyncPayload(m models.JSONMap) (SyncPayload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return SyncPayload{}, recerr.Wrap(recerr.KindTerminal, err, "encoding sync payload")
	}
	var p SyncPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return SyncPayload{}, recerr.Wrap(recerr.KindTerminal, err, "decoding sync payload")
	}
	return p, nil
}

// Window resolves the sync window at now.
func (p SyncPayload) Window(now time.Time) (time.Time, time.Time, error) {
	if p.From != "" || p.To != "" {
		from, err := time.Parse(time.RFC3339, p.From)
		if err != nil {
			return time.Time{}, time.Time{}, recerr.Wrap(recerr.KindTerminal, err, "parsing sync window start")
		}
		to, err := time.Parse(time.RFC3339, p.To)
		if err != nil {
			return time.Time{}, time.Time{}, recerr.Wrap(recerr.KindTerminal, err, "parsing sync window end")
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, recerr.New(recerr.KindTerminal, "sync window end precedes start")
		}
		return from, to, nil
	}
	days := p.SyncDays
	if days <= 0 {
		days = DefaultSyncDays
	}
	to := now.UTC()
	return to.AddDate(0, 0, -days), to, nil
}

// Register installs the sync task handlers on the dispatcher.
func (s *Syncer) Register(d *queue.Dispatcher) {
	d.RegisterFunc(models.TaskSourceSync, s.handleSync)
	d.RegisterFunc(models.TaskSourceSyncBatch, s.handleSyncBatch)
}

func (s *Syncer) handleSync(ctx context.Context, task *models.Task) (models.JSONMap, error) {
	p, err := DecodeSyncPayload(task.Payload)
	if err != nil {
		return nil, err
	}
	if p.SourceID.IsZero() {
		return nil, recerr.New(recerr.KindTerminal, "sync task has no source id")
	}
	from, to, err := p.Window(time.Now())
	if err != nil {
		return nil, err
	}

	res, err := s.SyncSource(ctx, task.UserID, p.SourceID, from, to)
	if err != nil {
		return nil, err
	}
	return res.Map(), nil
}

func (s *Syncer) handleSyncBatch(ctx context.Context, task *models.Task) (models.JSONMap, error) {
	p, err := DecodeSyncPayload(task.Payload)
	if err != nil {
		return nil, err
	}
	ids := p.SourceIDs
	if len(ids) == 0 {
		// No explicit list means every enabled source of the user.
		sources, err := s.sources.ListEnabled(ctx, task.UserID)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTransient, err, "listing enabled sources")
		}
		for _, src := range sources {
			ids = append(ids, src.ID)
		}
	}
	if len(ids) == 0 {
		return models.JSONMap{"sources": 0}, nil
	}
	from, to, err := p.Window(time.Now())
	if err != nil {
		return nil, err
	}

	total, failures := s.SyncBatch(ctx, task.UserID, ids, from, to)
	if len(failures) == len(ids) {
		// Nothing synced at all; let the queue retry the batch.
		for _, ferr := range failures {
			return nil, ferr
		}
	}

	result := total.Map()
	delete(result, "source_id")
	result["sources"] = len(ids)
	result["failed_sources"] = len(failures)
	if len(failures) > 0 {
		msgs := make(map[string]string, len(failures))
		for id, ferr := range failures {
			msgs[id.String()] = ferr.Error()
		}
		result["failures"] = msgs
	}
	return result, nil
}
