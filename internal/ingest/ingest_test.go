package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/database/migrations"
	"github.com/jmylchreest/recarr/internal/match"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
)

func providersRecording(start time.Time) providers.MeetingRecording {
	return providers.MeetingRecording{
		MeetingID:       "uuid-1",
		Topic:           "All Hands",
		HostEmail:       "host@example.com",
		StartTime:       start,
		DurationSeconds: 1800,
		FileSizeBytes:   42,
		DownloadURL:     "https://dl.example.com/1",
		AccessToken:     "tok",
		Passcode:        "pass",
		StillProcessing: true,
	}
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	migrator := migrations.NewMigrator(db, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))
	return db
}

type harness struct {
	db        *gorm.DB
	sources   repository.InputSourceRepository
	templates repository.TemplateRepository
	syncer    *Syncer
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	db := setupDB(t)
	sources := repository.NewInputSourceRepository(db)
	templates := repository.NewTemplateRepository(db)
	syncer := NewSyncer(
		sources,
		repository.NewRecordingRepository(db, nil),
		templates,
		match.NewMatcher(nil),
		nil,
	)
	return &harness{db: db, sources: sources, templates: templates, syncer: syncer}
}

func (h *harness) createUser(t *testing.T, slug int) *models.User {
	t.Helper()
	user := &models.User{
		Email: models.NewULID().String() + "@example.com",
		Slug:  slug,
	}
	require.NoError(t, h.db.Create(user).Error)
	return user
}

func (h *harness) createSource(t *testing.T, user *models.User, kind models.SourceKind, cfg models.SourceConfig) *models.InputSource {
	t.Helper()
	src := &models.InputSource{
		UserID: user.ID,
		Name:   "src-" + models.NewULID().String(),
		Kind:   kind,
		Config: cfg,
	}
	require.NoError(t, h.sources.Create(context.Background(), src))
	return src
}

func (h *harness) recordingByKey(t *testing.T, key string) *models.Recording {
	t.Helper()
	var rec models.Recording
	require.NoError(t, h.db.Preload("SourceMetadata").Where("source_key = ?", key).First(&rec).Error)
	return &rec
}

type stubFetcher struct {
	kind models.SourceKind
	fn   func(src *models.InputSource) ([]Incoming, error)
}

func (s *stubFetcher) Kind() models.SourceKind { return s.kind }

func (s *stubFetcher) Fetch(_ context.Context, src *models.InputSource, _, _ time.Time) ([]Incoming, error) {
	return s.fn(src)
}

func timePtr(tm time.Time) *models.Time {
	mt := models.Time(tm)
	return &mt
}

func TestSyncSource_CreateMatchBlankPending(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	user := h.createUser(t, 1)
	src := h.createSource(t, user, models.SourceKindMeeting, nil)

	require.NoError(t, h.templates.Create(ctx, &models.RecordingTemplate{
		UserID: user.ID,
		Name:   "All Hands",
		MatchingRules: &models.MatchingRules{
			IncludeKeywords: []string{"all hands"},
		},
	}))

	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	h.syncer.RegisterFetcher(&stubFetcher{kind: models.SourceKindMeeting, fn: func(_ *models.InputSource) ([]Incoming, error) {
		return []Incoming{
			{
				SourceKey:       "meet-1",
				DisplayName:     "All Hands March",
				StartTime:       timePtr(start),
				DurationSeconds: 600,
				SizeBytes:       100 * 1024 * 1024,
				Meta:            &models.SourceMetadata{DownloadURL: "https://example.com/1.mp4"},
			},
			{
				SourceKey:       "meet-2",
				DisplayName:     "Short Huddle",
				StartTime:       timePtr(start.Add(time.Hour)),
				DurationSeconds: 60,
				SizeBytes:       5 * 1024 * 1024,
				Meta:            &models.SourceMetadata{DownloadURL: "https://example.com/2.mp4"},
			},
			{
				SourceKey:   "meet-3",
				DisplayName: "Still Cooking",
				StartTime:   timePtr(start.Add(2 * time.Hour)),
				Meta:        &models.SourceMetadata{StillProcessing: true},
			},
		}, nil
	}})

	res, err := h.syncer.SyncSource(ctx, user.ID, src.ID, start.AddDate(0, 0, -7), start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entries)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Blank)
	assert.Equal(t, 1, res.Pending)

	matched := h.recordingByKey(t, "meet-1")
	assert.Equal(t, models.StatusInitialized, matched.Status)
	assert.True(t, matched.IsMapped)
	require.NotNil(t, matched.TemplateID)
	require.NotNil(t, matched.SourceMetadata)
	assert.Equal(t, "https://example.com/1.mp4", matched.SourceMetadata.DownloadURL)

	blank := h.recordingByKey(t, "meet-2")
	assert.Equal(t, models.StatusSkipped, blank.Status)
	assert.True(t, blank.BlankRecord)
	assert.False(t, blank.IsMapped)

	pending := h.recordingByKey(t, "meet-3")
	assert.Equal(t, models.StatusPendingSource, pending.Status)
	assert.False(t, pending.BlankRecord)

	tmpl, err := h.templates.GetByID(ctx, *matched.TemplateID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.UsedCount)

	reloaded, err := h.sources.GetByID(ctx, src.ID, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastSyncAt)
}

func TestSyncSource_ResyncOutcomes(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	user := h.createUser(t, 1)
	src := h.createSource(t, user, models.SourceKindMeeting, nil)

	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	entries := []Incoming{
		{
			SourceKey:       "meet-1",
			DisplayName:     "Weekly Sync",
			StartTime:       timePtr(start),
			DurationSeconds: 600,
			SizeBytes:       50 * 1024 * 1024,
			Meta:            &models.SourceMetadata{DownloadURL: "https://example.com/1.mp4"},
		},
		{
			SourceKey:   "meet-2",
			DisplayName: "Still Cooking",
			StartTime:   timePtr(start.Add(time.Hour)),
			Meta:        &models.SourceMetadata{StillProcessing: true},
		},
	}
	h.syncer.RegisterFetcher(&stubFetcher{kind: models.SourceKindMeeting, fn: func(_ *models.InputSource) ([]Incoming, error) {
		return entries, nil
	}})

	from, to := start.AddDate(0, 0, -7), start.AddDate(0, 0, 1)

	res, err := h.syncer.SyncSource(ctx, user.ID, src.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	// Nothing changed at the provider: both rows stay untouched.
	res, err = h.syncer.SyncSource(ctx, user.ID, src.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Untouched)

	// The provider finished preparing the second meeting and it turned
	// out to be a one-minute blank. The parked row resolves to skipped.
	entries[1].DurationSeconds = 60
	entries[1].SizeBytes = 4 * 1024 * 1024
	entries[1].Meta = &models.SourceMetadata{DownloadURL: "https://example.com/2.mp4"}

	res, err = h.syncer.SyncSource(ctx, user.ID, src.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Untouched)

	resolved := h.recordingByKey(t, "meet-2")
	assert.Equal(t, models.StatusSkipped, resolved.Status)
	assert.True(t, resolved.BlankRecord)
}

func TestSyncSource_BlankThresholdOverride(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	user := h.createUser(t, 1)
	src := h.createSource(t, user, models.SourceKindMeeting, models.SourceConfig{
		"blank_min_duration_seconds": float64(30),
		"blank_min_size_bytes":       float64(1024),
	})

	h.syncer.RegisterFetcher(&stubFetcher{kind: models.SourceKindMeeting, fn: func(_ *models.InputSource) ([]Incoming, error) {
		return []Incoming{{
			SourceKey:       "meet-1",
			DisplayName:     "Short But Fine",
			StartTime:       timePtr(time.Now().UTC()),
			DurationSeconds: 60,
			SizeBytes:       5 * 1024 * 1024,
		}}, nil
	}})

	res, err := h.syncer.SyncSource(ctx, user.ID, src.ID, time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Blank)
	assert.Equal(t, models.StatusInitialized, h.recordingByKey(t, "meet-1").Status)
}

func TestSyncSource_DisabledAndMissing(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	user := h.createUser(t, 1)
	src := h.createSource(t, user, models.SourceKindMeeting, nil)

	src.Enabled = models.BoolPtr(false)
	require.NoError(t, h.sources.Update(ctx, src))

	_, err := h.syncer.SyncSource(ctx, user.ID, src.ID, time.Now().AddDate(0, 0, -1), time.Now())
	assert.True(t, recerr.Is(err, recerr.KindAdmission))

	_, err = h.syncer.SyncSource(ctx, user.ID, models.NewULID(), time.Now().AddDate(0, 0, -1), time.Now())
	assert.True(t, recerr.Is(err, recerr.KindNotFound))
}

func TestSyncSource_NoFetcher(t *testing.T) {
	h := setupHarness(t)
	user := h.createUser(t, 1)
	src := h.createSource(t, user, models.SourceKindCloudFolder, models.SourceConfig{"path": "/tmp"})

	_, err := h.syncer.SyncSource(context.Background(), user.ID, src.ID, time.Now().AddDate(0, 0, -1), time.Now())
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestSyncBatch_ToleratesPartialFailure(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	user := h.createUser(t, 1)
	good := h.createSource(t, user, models.SourceKindMeeting, nil)
	bad := h.createSource(t, user, models.SourceKindMeeting, models.SourceConfig{"fail": true})

	h.syncer.RegisterFetcher(&stubFetcher{kind: models.SourceKindMeeting, fn: func(src *models.InputSource) ([]Incoming, error) {
		if src.ConfigBool("fail") {
			return nil, errors.New("provider down")
		}
		return []Incoming{{
			SourceKey:       "meet-1",
			DisplayName:     "Weekly Sync",
			StartTime:       timePtr(time.Now().UTC()),
			DurationSeconds: 600,
			SizeBytes:       50 * 1024 * 1024,
		}}, nil
	}})

	total, failures := h.syncer.SyncBatch(ctx, user.ID, []models.ULID{good.ID, bad.ID}, time.Now().AddDate(0, 0, -1), time.Now())
	assert.Equal(t, 1, total.Created)
	require.Len(t, failures, 1)
	assert.Contains(t, failures, bad.ID)
}

func TestHandleSyncBatch_AllEnabledSources(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	user := h.createUser(t, 1)
	h.createSource(t, user, models.SourceKindMeeting, nil)
	disabled := h.createSource(t, user, models.SourceKindMeeting, nil)
	disabled.Enabled = models.BoolPtr(false)
	require.NoError(t, h.sources.Update(ctx, disabled))

	calls := 0
	h.syncer.RegisterFetcher(&stubFetcher{kind: models.SourceKindMeeting, fn: func(_ *models.InputSource) ([]Incoming, error) {
		calls++
		return nil, nil
	}})

	result, err := h.syncer.handleSyncBatch(ctx, &models.Task{
		UserID:  user.ID,
		Type:    models.TaskSourceSyncBatch,
		Queue:   models.QueueAsyncOperations,
		Payload: SyncPayload{}.Map(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result["sources"])
	assert.Equal(t, 0, result["failed_sources"])
}

func TestHandleSync_MissingSourceID(t *testing.T) {
	h := setupHarness(t)
	_, err := h.syncer.handleSync(context.Background(), &models.Task{
		Type:    models.TaskSourceSync,
		Queue:   models.QueueAsyncOperations,
		Payload: SyncPayload{}.Map(),
	})
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestSyncPayload_Window(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	from, to, err := SyncPayload{}.Window(now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.AddDate(0, 0, -DefaultSyncDays), from)

	from, to, err = SyncPayload{SyncDays: 30}.Window(now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -30), from)
	assert.Equal(t, now, to)

	from, to, err = SyncPayload{
		From: "2026-08-01T00:00:00Z",
		To:   "2026-08-15T00:00:00Z",
	}.Window(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), to)

	_, _, err = SyncPayload{From: "not a time", To: "2026-08-15T00:00:00Z"}.Window(now)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))

	_, _, err = SyncPayload{From: "2026-08-15T00:00:00Z", To: "2026-08-01T00:00:00Z"}.Window(now)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestCloudFolderFetcher_Scan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "standup.mp4"), []byte("v"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("t"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive", "old.mp4"), []byte("v"), 0o644))

	src := &models.InputSource{
		UserID: models.NewULID(),
		Name:   "drive",
		Kind:   models.SourceKindCloudFolder,
		Config: models.SourceConfig{"path": dir},
	}

	f := NewCloudFolderFetcher()
	from, to := time.Now().Add(-time.Hour), time.Now().Add(time.Hour)

	entries, err := f.Fetch(context.Background(), src, from, to)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "standup", entries[0].DisplayName)
	require.NotNil(t, entries[0].Meta)
	assert.Equal(t, "file://"+filepath.Join(dir, "standup.mp4"), entries[0].Meta.DownloadURL)
	require.NotNil(t, entries[0].StartTime)

	src.Config["recursive"] = true
	entries, err = f.Fetch(context.Background(), src, from, to)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	src.Config["glob"] = "stand*"
	entries, err = f.Fetch(context.Background(), src, from, to)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "standup", entries[0].DisplayName)
}

func TestCloudFolderFetcher_ModTimeWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ancient.mp4")
	require.NoError(t, os.WriteFile(path, []byte("v"), 0o644))
	old := time.Now().AddDate(0, -2, 0)
	require.NoError(t, os.Chtimes(path, old, old))

	src := &models.InputSource{
		UserID: models.NewULID(),
		Name:   "drive",
		Kind:   models.SourceKindCloudFolder,
		Config: models.SourceConfig{"path": dir},
	}

	entries, err := NewCloudFolderFetcher().Fetch(context.Background(), src, time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCloudFolderFetcher_BadConfig(t *testing.T) {
	f := NewCloudFolderFetcher()
	from, to := time.Now().Add(-time.Hour), time.Now()

	src := &models.InputSource{Kind: models.SourceKindCloudFolder}
	_, err := f.Fetch(context.Background(), src, from, to)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))

	src.Config = models.SourceConfig{"path": filepath.Join(t.TempDir(), "missing")}
	_, err = f.Fetch(context.Background(), src, from, to)
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestURLListFetcher_InlineURLs(t *testing.T) {
	src := &models.InputSource{
		UserID: models.NewULID(),
		Name:   "list",
		Kind:   models.SourceKindURLList,
		Config: models.SourceConfig{"urls": []any{
			"All Hands|https://example.com/recordings/all-hands.mp4",
			"https://example.com/recordings/standup.mp4",
		}},
	}

	entries, err := NewURLListFetcher(nil).Fetch(context.Background(), src, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "All Hands", entries[0].DisplayName)
	assert.Equal(t, "https://example.com/recordings/all-hands.mp4", entries[0].SourceKey)
	require.NotNil(t, entries[0].Meta)
	assert.Equal(t, "https://example.com/recordings/all-hands.mp4", entries[0].Meta.DownloadURL)

	// A bare URL falls back to the file name as the display name.
	assert.Equal(t, "standup.mp4", entries[1].DisplayName)
}

func TestURLListFetcher_NoConfig(t *testing.T) {
	src := &models.InputSource{Kind: models.SourceKindURLList}
	_, err := NewURLListFetcher(nil).Fetch(context.Background(), src, time.Time{}, time.Time{})
	assert.True(t, recerr.Is(err, recerr.KindTerminal))
}

func TestMeetingIncoming_Mapping(t *testing.T) {
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	in := meetingIncoming(providersRecording(start), "acme")

	assert.Equal(t, "uuid-1", in.SourceKey)
	assert.Equal(t, "All Hands", in.DisplayName)
	require.NotNil(t, in.StartTime)
	assert.Equal(t, start, time.Time(*in.StartTime))
	assert.Equal(t, 1800, in.DurationSeconds)
	assert.Equal(t, int64(42), in.SizeBytes)
	require.NotNil(t, in.Meta)
	assert.Equal(t, "https://dl.example.com/1", in.Meta.DownloadURL)
	assert.Equal(t, "tok", in.Meta.AccessToken)
	assert.NotNil(t, in.Meta.TokenIssuedAt)
	assert.Equal(t, "acme", in.Meta.AccountName)
	assert.True(t, in.Meta.StillProcessing)
	assert.Equal(t, "host@example.com", in.Meta.Payload["host_email"])
}
