// Package ingest syncs input sources into recording rows: it enumerates
// the provider-native items of a source, computes blank-record state,
// matches templates, and upserts recordings. One fetcher per source kind
// does the enumeration; everything after the fetch is kind-agnostic.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/recarr/internal/match"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
)

// Blank-record defaults, overridable per source via the config keys
// blank_min_duration_seconds and blank_min_size_bytes.
const (
	DefaultBlankMinDurationSeconds = 90
	DefaultBlankMinSizeBytes       = int64(10 * 1024 * 1024)
)

// batchConcurrency bounds parallel source syncs inside one batch task.
const batchConcurrency = 4

// Incoming is one provider-native item normalised for upsert.
type Incoming struct {
	// SourceKey identifies the item at the provider; part of the upsert key.
	SourceKey string

	// DisplayName is the provider-reported title.
	DisplayName string

	// StartTime is when the item was recorded, when the provider knows.
	StartTime *models.Time

	// DurationSeconds and SizeBytes feed blank-record detection.
	DurationSeconds int
	SizeBytes       int64

	// Meta is the source metadata the download step will need.
	Meta *models.SourceMetadata

	// LocalPath is set by file-backed sources whose media is already on
	// disk; such recordings enter the pipeline past the download step.
	LocalPath string
}

// stillProcessing reports whether the provider has not finished preparing
// the item.
func (in *Incoming) stillProcessing() bool {
	return in.Meta != nil && in.Meta.StillProcessing
}

// Fetcher enumerates the items of one source kind.
type Fetcher interface {
	Kind() models.SourceKind
	Fetch(ctx context.Context, src *models.InputSource, from, to time.Time) ([]Incoming, error)
}

// Result aggregates what one sync did.
type Result struct {
	SourceID  models.ULID `json:"source_id"`
	Entries   int         `json:"entries"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Untouched int         `json:"untouched"`
	Matched   int         `json:"matched"`
	Blank     int         `json:"blank"`
	Pending   int         `json:"pending"`
}

// add folds another result into the aggregate.
func (r *Result) add(o Result) {
	r.Entries += o.Entries
	r.Created += o.Created
	r.Updated += o.Updated
	r.Untouched += o.Untouched
	r.Matched += o.Matched
	r.Blank += o.Blank
	r.Pending += o.Pending
}

// Map renders the result as a task result map.
func (r Result) Map() models.JSONMap {
	return models.JSONMap{
		"source_id": r.SourceID.String(),
		"entries":   r.Entries,
		"created":   r.Created,
		"updated":   r.Updated,
		"untouched": r.Untouched,
		"matched":   r.Matched,
		"blank":     r.Blank,
		"pending":   r.Pending,
	}
}

// Syncer runs source syncs.
type Syncer struct {
	sources    repository.InputSourceRepository
	recordings repository.RecordingRepository
	templates  repository.TemplateRepository
	matcher    *match.Matcher
	logger     *slog.Logger

	mu       sync.RWMutex
	fetchers map[models.SourceKind]Fetcher
}

// NewSyncer creates a Syncer. Fetchers are registered separately so tests
// can install stubs.
func NewSyncer(
	sources repository.InputSourceRepository,
	recordings repository.RecordingRepository,
	templates repository.TemplateRepository,
	matcher *match.Matcher,
	logger *slog.Logger,
) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		sources:    sources,
		recordings: recordings,
		templates:  templates,
		matcher:    matcher,
		logger:     logger,
		fetchers:   make(map[models.SourceKind]Fetcher),
	}
}

// RegisterFetcher installs the fetcher for its kind, replacing any
// previous one.
func (s *Syncer) RegisterFetcher(f Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchers[f.Kind()] = f
}

func (s *Syncer) fetcher(kind models.SourceKind) (Fetcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fetchers[kind]
	if !ok {
		return nil, recerr.New(recerr.KindTerminal, "no fetcher registered for source kind %q", kind)
	}
	return f, nil
}

// SyncSource syncs one source in [from, to] and stamps last_sync_at.
func (s *Syncer) SyncSource(ctx context.Context, userID, sourceID models.ULID, from, to time.Time) (Result, error) {
	src, err := s.sources.GetByID(ctx, sourceID, userID)
	if err != nil {
		return Result{}, recerr.Wrap(recerr.KindTransient, err, "loading input source")
	}
	if src == nil {
		return Result{}, recerr.NotFound("input source")
	}
	if !src.IsEnabled() {
		return Result{}, recerr.New(recerr.KindAdmission, "source %s is disabled", src.Name)
	}

	f, err := s.fetcher(src.Kind)
	if err != nil {
		return Result{}, err
	}

	entries, err := f.Fetch(ctx, src, from, to)
	if err != nil {
		return Result{}, err
	}

	templates, err := s.templates.ListMatchable(ctx, userID)
	if err != nil {
		return Result{}, recerr.Wrap(recerr.KindTransient, err, "loading templates")
	}

	res := Result{SourceID: src.ID, Entries: len(entries)}
	for i := range entries {
		if err := s.upsertEntry(ctx, src, &entries[i], templates, &res); err != nil {
			return res, err
		}
	}

	if err := s.sources.TouchSync(ctx, src.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("sync time not stamped",
			slog.String("source_id", src.ID.String()),
			slog.Any("error", err),
		)
	}

	s.logger.Info("source synced",
		slog.String("source_id", src.ID.String()),
		slog.String("kind", string(src.Kind)),
		slog.Int("entries", res.Entries),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("matched", res.Matched),
	)
	return res, nil
}

// upsertEntry turns one fetched item into a recording upsert.
func (s *Syncer) upsertEntry(ctx context.Context, src *models.InputSource, in *Incoming, templates []*models.RecordingTemplate, res *Result) error {
	blank := s.isBlank(src, in)

	rec := &models.Recording{
		UserID:          src.UserID,
		InputSourceID:   &src.ID,
		SourceType:      string(src.Kind),
		SourceKey:       in.SourceKey,
		DisplayName:     in.DisplayName,
		StartTime:       in.StartTime,
		DurationSeconds: in.DurationSeconds,
		SizeBytes:       in.SizeBytes,
		BlankRecord:     blank,
		SourceMetadata:  in.Meta,
	}

	switch {
	case in.stillProcessing():
		// Blank detection is deferred until the provider is done; the
		// status transition out of pending_source happens in the upsert.
		rec.BlankRecord = false
		rec.Status = models.StatusPendingSource
		res.Pending++
	case blank:
		rec.Status = models.StatusSkipped
		rec.SkipReason = "Blank recording"
		res.Blank++
	case in.LocalPath != "":
		rec.LocalVideoPath = in.LocalPath
		rec.Status = models.StatusDownloaded
	default:
		rec.Status = models.StatusInitialized
	}

	if result := s.matcher.Match(match.Candidate{
		DisplayName: in.DisplayName,
		SourceID:    src.ID.String(),
	}, templates); result != nil {
		rec.TemplateID = &result.Template.ID
		rec.IsMapped = true
		res.Matched++
		if err := s.templates.RecordUse(ctx, result.Template.ID); err != nil {
			s.logger.Warn("template use not recorded",
				slog.String("template_id", result.Template.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	outcome, err := s.recordings.CreateOrUpdate(ctx, rec)
	if err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "upserting recording %q", in.SourceKey)
	}
	switch outcome {
	case repository.UpsertCreated:
		res.Created++
	case repository.UpsertUpdated:
		res.Updated++
	default:
		res.Untouched++
	}
	return nil
}

// isBlank applies the blank-record thresholds. An item the provider is
// still preparing is never blank yet.
func (s *Syncer) isBlank(src *models.InputSource, in *Incoming) bool {
	if in.stillProcessing() {
		return false
	}
	minDuration := configInt(src, "blank_min_duration_seconds", DefaultBlankMinDurationSeconds)
	minSize := configInt64(src, "blank_min_size_bytes", DefaultBlankMinSizeBytes)
	if in.DurationSeconds > 0 && in.DurationSeconds < minDuration {
		return true
	}
	if in.SizeBytes > 0 && in.SizeBytes < minSize {
		return true
	}
	return false
}

// SyncBatch syncs several sources of one user, tolerating per-source
// failures. The aggregate counts plus per-source errors are returned;
// the error is non-nil only when every source failed.
func (s *Syncer) SyncBatch(ctx context.Context, userID models.ULID, sourceIDs []models.ULID, from, to time.Time) (Result, map[models.ULID]error) {
	var (
		mu       sync.Mutex
		total    Result
		failures = make(map[models.ULID]error)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, id := range sourceIDs {
		g.Go(func() error {
			res, err := s.SyncSource(ctx, userID, id, from, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[id] = err
				s.logger.Error("source sync failed in batch",
					slog.String("source_id", id.String()),
					slog.Any("error", err),
				)
				return nil
			}
			total.add(res)
			return nil
		})
	}
	_ = g.Wait()

	return total, failures
}

// configInt reads an integer source-config value with a default. JSON
// round-trips numbers as float64.
func configInt(src *models.InputSource, key string, def int) int {
	if src.Config == nil {
		return def
	}
	switch v := src.Config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func configInt64(src *models.InputSource, key string, def int64) int64 {
	if src.Config == nil {
		return def
	}
	switch v := src.Config[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return def
}
