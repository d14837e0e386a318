package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	versions := make(map[string]bool)
	for _, m := range AllMigrations() {
		assert.False(t, versions[m.Version], "duplicate version: %s", m.Version)
		versions[m.Version] = true
	}
}

func TestAllMigrations_VersionsAreOrdered(t *testing.T) {
	migrations := AllMigrations()
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))

	for _, table := range []string{
		"users", "user_configs",
		"subscription_plans", "user_subscriptions", "quota_usage",
		"input_sources", "credentials", "refresh_tokens",
		"recording_templates", "output_presets",
		"recordings", "source_metadata", "processing_stages",
		"output_targets", "stage_timings",
		"automation_jobs", "tasks", "task_history", "pipeline_joins",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Up(ctx))

	// The default plan is seeded exactly once.
	var count int64
	require.NoError(t, db.Model(&models.SubscriptionPlan{}).
		Where("is_default = ?", true).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(AllMigrations()))
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	require.NoError(t, migrator.Up(ctx))

	statuses, err = migrator.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down_RollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))

	// Roll back 002: the seeded plan goes, the schema stays.
	require.NoError(t, migrator.Down(ctx))
	var count int64
	require.NoError(t, db.Model(&models.SubscriptionPlan{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.True(t, db.Migrator().HasTable("recordings"))

	// Roll back 001: the schema goes.
	require.NoError(t, migrator.Down(ctx))
	assert.False(t, db.Migrator().HasTable("recordings"))
	assert.False(t, db.Migrator().HasTable("tasks"))
}

func TestMigrator_Pending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(AllMigrations()))

	require.NoError(t, migrator.Up(ctx))

	pending, err = migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestMigrations_CanInsertData(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))

	user := &models.User{Email: "alice@example.com", Slug: 1}
	require.NoError(t, db.Create(user).Error)
	require.False(t, user.ID.IsZero())

	tmpl := &models.RecordingTemplate{
		UserID: user.ID,
		Name:   "Standups",
		MatchingRules: &models.MatchingRules{
			IncludeKeywords: []string{"standup"},
		},
	}
	require.NoError(t, db.Create(tmpl).Error)

	rec := &models.Recording{
		UserID:      user.ID,
		DisplayName: "Team Standup",
		TemplateID:  &tmpl.ID,
		IsMapped:    true,
	}
	require.NoError(t, db.Create(rec).Error)
	require.NotZero(t, rec.ID)

	stage := &models.ProcessingStage{
		RecordingID: rec.ID,
		StageType:   models.StageTrim,
	}
	require.NoError(t, db.Create(stage).Error)

	// Relationships load back with children.
	var loaded models.Recording
	require.NoError(t, db.Preload("Stages").Preload("Template").
		First(&loaded, rec.ID).Error)
	assert.Len(t, loaded.Stages, 1)
	require.NotNil(t, loaded.Template)
	assert.Equal(t, "Standups", loaded.Template.Name)
	assert.Equal(t, []string{"standup"}, loaded.Template.MatchingRules.IncludeKeywords)
}
