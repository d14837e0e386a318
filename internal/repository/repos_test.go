package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recarr/internal/models"
)

func TestTemplateRepo_ListMatchableOrderAndFilter(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTemplateRepository(db)
	user := createTestUser(t, db, 1)

	first := &models.RecordingTemplate{UserID: user.ID, Name: "First"}
	require.NoError(t, repo.Create(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := &models.RecordingTemplate{UserID: user.ID, Name: "Second"}
	require.NoError(t, repo.Create(ctx, second))

	draft := &models.RecordingTemplate{UserID: user.ID, Name: "Draft", IsDraft: true}
	require.NoError(t, repo.Create(ctx, draft))
	inactive := &models.RecordingTemplate{UserID: user.ID, Name: "Inactive", IsActive: models.BoolPtr(false)}
	require.NoError(t, repo.Create(ctx, inactive))

	matchable, err := repo.ListMatchable(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, matchable, 2)
	assert.Equal(t, "First", matchable[0].Name)
	assert.Equal(t, "Second", matchable[1].Name)
}

func TestTemplateRepo_RecordUse(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTemplateRepository(db)
	user := createTestUser(t, db, 1)

	tmpl := &models.RecordingTemplate{UserID: user.ID, Name: "T"}
	require.NoError(t, repo.Create(ctx, tmpl))

	require.NoError(t, repo.RecordUse(ctx, tmpl.ID))
	require.NoError(t, repo.RecordUse(ctx, tmpl.ID))

	got, err := repo.GetByID(ctx, tmpl.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsedCount)
	assert.NotNil(t, got.LastUsedAt)
}

func TestSourceRepo_ListEnabled(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewInputSourceRepository(db)
	user := createTestUser(t, db, 1)

	on := &models.InputSource{UserID: user.ID, Name: "On", Kind: models.SourceKindMeeting}
	require.NoError(t, repo.Create(ctx, on))
	off := &models.InputSource{UserID: user.ID, Name: "Off", Kind: models.SourceKindURLList, Enabled: models.BoolPtr(false)}
	require.NoError(t, repo.Create(ctx, off))

	enabled, err := repo.ListEnabled(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "On", enabled[0].Name)

	all, err := repo.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSourceRepo_TouchSync(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewInputSourceRepository(db)
	user := createTestUser(t, db, 1)

	src := &models.InputSource{UserID: user.ID, Name: "S", Kind: models.SourceKindMeeting}
	require.NoError(t, repo.Create(ctx, src))
	require.Nil(t, src.LastSyncAt)

	at := models.Now()
	require.NoError(t, repo.TouchSync(ctx, src.ID, at))

	got, err := repo.GetByID(ctx, src.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
}

func TestPresetRepo_FindForPlatform(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewPresetRepository(db)
	user := createTestUser(t, db, 1)
	cred := models.NewULID()

	disabled := &models.OutputPreset{
		UserID: user.ID, Name: "Old", Platform: "videohub",
		CredentialID: cred, Enabled: models.BoolPtr(false),
	}
	require.NoError(t, repo.Create(ctx, disabled))
	active := &models.OutputPreset{
		UserID: user.ID, Name: "Current", Platform: "videohub", CredentialID: cred,
	}
	require.NoError(t, repo.Create(ctx, active))
	otherPlatform := &models.OutputPreset{
		UserID: user.ID, Name: "Photos", Platform: "photohub", CredentialID: cred,
	}
	require.NoError(t, repo.Create(ctx, otherPlatform))

	ids := []models.ULID{disabled.ID, active.ID, otherPlatform.ID}

	got, err := repo.FindForPlatform(ctx, ids, user.ID, "videohub")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Current", got.Name)

	got, err = repo.FindForPlatform(ctx, ids, user.ID, "streamhub")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUserRepo_NextSlug(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db)

	slug, err := repo.NextSlug(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, slug)

	createTestUser(t, db, 1)
	createTestUser(t, db, 7)

	slug, err = repo.NextSlug(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, slug)
}

func TestUserRepo_Lookups(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db)

	user := &models.User{Email: "alice@example.com", Slug: 1, APIKeyHash: "abc123"}
	require.NoError(t, repo.Create(ctx, user))

	got, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	got, err = repo.GetByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)

	// An empty hash never matches, even if a row has an empty hash.
	got, err = repo.GetByAPIKeyHash(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetBySlug(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	got, err = repo.GetBySlug(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUserRepo_SaveConfigUpsert(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db)
	user := createTestUser(t, db, 1)

	cfg := &models.UserConfig{UserID: user.ID}
	require.NoError(t, repo.SaveConfig(ctx, cfg))

	// A second save for the same user updates the existing row.
	again := &models.UserConfig{UserID: user.ID}
	require.NoError(t, repo.SaveConfig(ctx, again))
	assert.Equal(t, cfg.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&models.UserConfig{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestQuotaRepo_DefaultPlanSeeded(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewQuotaRepository(db)

	plan, err := repo.GetDefaultPlan(ctx)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "free", plan.Name)
	assert.True(t, plan.IsDefault)
}

func TestQuotaRepo_UsageCounters(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewQuotaRepository(db)
	user := createTestUser(t, db, 1)
	period := models.QuotaPeriod(models.Now())

	usage, err := repo.GetOrCreateUsage(ctx, user.ID, period)
	require.NoError(t, err)
	assert.Zero(t, usage.RecordingsCount)

	require.NoError(t, repo.IncrementRecordings(ctx, user.ID, period, 1))
	require.NoError(t, repo.IncrementRecordings(ctx, user.ID, period, 1))
	require.NoError(t, repo.IncrementOverage(ctx, user.ID, period, "recordings"))
	require.NoError(t, repo.IncrementOverage(ctx, user.ID, period, "tasks"))
	require.NoError(t, repo.SetStorageBytes(ctx, user.ID, period, 1024))

	usage, err = repo.GetOrCreateUsage(ctx, user.ID, period)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.RecordingsCount)
	assert.Equal(t, 1, usage.RecordingsOverageCount)
	assert.Equal(t, 1, usage.TasksOverageCount)
	assert.Equal(t, int64(1024), usage.StorageBytes)

	// Each period gets its own row.
	other, err := repo.GetOrCreateUsage(ctx, user.ID, "202001")
	require.NoError(t, err)
	assert.Zero(t, other.RecordingsCount)

	err = repo.IncrementOverage(ctx, user.ID, period, "bogus")
	require.Error(t, err)
}

func TestQuotaRepo_SubscriptionEffectiveLimits(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewQuotaRepository(db)
	user := createTestUser(t, db, 1)

	plan, err := repo.GetDefaultPlan(ctx)
	require.NoError(t, err)

	custom := 5
	sub := &models.UserSubscription{
		UserID:                user.ID,
		PlanID:                plan.ID,
		CustomConcurrentTasks: &custom,
	}
	require.NoError(t, repo.SaveSubscription(ctx, sub))

	got, err := repo.GetSubscription(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Plan)
	assert.Equal(t, plan.RecordingsPerMonth, got.EffectiveRecordingsPerMonth())
	assert.Equal(t, 5, got.EffectiveConcurrentTasks())
}

func TestAutomationRepo_ListDueAndMarkRun(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewAutomationRepository(db)
	user := createTestUser(t, db, 1)
	now := models.Now()

	past := now.Add(-time.Minute)
	due := &models.AutomationJob{
		UserID: user.ID, Name: "Due", Schedule: "0 9 * * 1",
		TemplateIDs: models.StringList{models.NewULID().String()},
		NextRunAt:   &past,
	}
	require.NoError(t, repo.Create(ctx, due))

	future := now.Add(time.Hour)
	later := &models.AutomationJob{
		UserID: user.ID, Name: "Later", Schedule: "0 9 * * 1",
		TemplateIDs: models.StringList{models.NewULID().String()},
		NextRunAt:   &future,
	}
	require.NoError(t, repo.Create(ctx, later))

	paused := &models.AutomationJob{
		UserID: user.ID, Name: "Paused", Schedule: "0 9 * * 1",
		TemplateIDs: models.StringList{models.NewULID().String()},
		NextRunAt:   &past,
		IsActive:    models.BoolPtr(false),
	}
	require.NoError(t, repo.Create(ctx, paused))

	dueJobs, err := repo.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueJobs, 1)
	assert.Equal(t, "Due", dueJobs[0].Name)

	next := now.Add(24 * time.Hour)
	require.NoError(t, repo.MarkRun(ctx, due.ID, now, &next))

	got, err := repo.GetByID(ctx, due.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))
}

func TestTimingRepo_NextAttempt(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTimingRepository(db)
	user := createTestUser(t, db, 1)
	rec := createTestRecording(t, db, user.ID, "Rec")

	attempt, err := repo.NextAttempt(ctx, rec.ID, "trim")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	timing := &models.StageTiming{
		RecordingID: rec.ID,
		StageType:   "trim",
		Attempt:     attempt,
		StartedAt:   models.Now(),
	}
	timing.Finish("completed", nil)
	require.NoError(t, repo.Create(ctx, timing))

	attempt, err = repo.NextAttempt(ctx, rec.ID, "trim")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)

	// Other stages count independently.
	attempt, err = repo.NextAttempt(ctx, rec.ID, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
}

func TestCredentialRepo_IdentityLookupAndTokenGC(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewCredentialRepository(db)
	user := createTestUser(t, db, 1)

	cred := &models.Credential{
		UserID: user.ID, Platform: "meethub", AccountName: "ops@example.com",
		Blob: []byte("sealed"),
	}
	require.NoError(t, repo.Create(ctx, cred))

	got, err := repo.GetByIdentity(ctx, user.ID, "meethub", "ops@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cred.ID, got.ID)

	got, err = repo.GetByIdentity(ctx, user.ID, "meethub", "other@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	expired := &models.RefreshToken{
		UserID: user.ID, CredentialID: cred.ID,
		ExpiresAt: models.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.SaveRefreshToken(ctx, expired))
	live := &models.RefreshToken{
		UserID: user.ID, CredentialID: cred.ID,
		ExpiresAt: models.Now().Add(time.Hour),
	}
	require.NoError(t, repo.SaveRefreshToken(ctx, live))

	n, err := repo.DeleteExpiredTokens(ctx, models.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int64
	require.NoError(t, db.Model(&models.RefreshToken{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCredentialRepo_DeleteRemovesTokens(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewCredentialRepository(db)
	user := createTestUser(t, db, 1)

	cred := &models.Credential{
		UserID: user.ID, Platform: "meethub", AccountName: "ops@example.com",
	}
	require.NoError(t, repo.Create(ctx, cred))
	require.NoError(t, repo.SaveRefreshToken(ctx, &models.RefreshToken{
		UserID: user.ID, CredentialID: cred.ID,
		ExpiresAt: models.Now().Add(time.Hour),
	}))

	require.NoError(t, repo.Delete(ctx, cred.ID, user.ID))

	var tokens int64
	require.NoError(t, db.Model(&models.RefreshToken{}).
		Where("credential_id = ?", cred.ID).Count(&tokens).Error)
	assert.Zero(t, tokens)
}

func TestJoinRepo_CompleteMemberSingleWinner(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewJoinRepository(db)
	user := createTestUser(t, db, 1)
	rec := createTestRecording(t, db, user.ID, "Rec")

	chain := models.NewULID()
	join := &models.PipelineJoin{
		ChainID:       chain,
		RecordingID:   rec.ID,
		UserID:        user.ID,
		ExpectedCount: 2,
		TailPayload:   models.JSONMap{"recording_id": rec.ID},
	}
	require.NoError(t, repo.Create(ctx, join))

	got, enqueue, err := repo.CompleteMember(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedCount)
	assert.False(t, enqueue)

	got, enqueue, err = repo.CompleteMember(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedCount)
	assert.True(t, enqueue, "the completing member wins the tail enqueue")

	// A late or duplicate completion never re-enqueues the tail.
	_, enqueue, err = repo.CompleteMember(ctx, chain)
	require.NoError(t, err)
	assert.False(t, enqueue)

	stored, err := repo.GetByChain(ctx, chain)
	require.NoError(t, err)
	assert.True(t, stored.TailEnqueued)
}
