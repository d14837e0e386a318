package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/database/migrations"
	"github.com/jmylchreest/recarr/internal/models"
)

// setupDB opens an in-memory database with the full schema applied.
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

// createTestUser inserts a user with the given slug.
func createTestUser(t *testing.T, db *gorm.DB, slug int) *models.User {
	t.Helper()

	user := &models.User{
		Email: models.NewULID().String() + "@example.com",
		Slug:  slug,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// createTestRecording inserts a minimal recording for the user.
func createTestRecording(t *testing.T, db *gorm.DB, userID models.ULID, name string) *models.Recording {
	t.Helper()

	start := models.Now()
	rec := &models.Recording{
		UserID:      userID,
		DisplayName: name,
		SourceType:  "meeting",
		SourceKey:   models.NewULID().String(),
		StartTime:   &start,
	}
	require.NoError(t, db.Create(rec).Error)
	return rec
}

// nopRemover satisfies FileRemover without touching the filesystem.
type nopRemover struct{}

func (nopRemover) RemoveFile(string) (int64, error) { return 0, nil }
func (nopRemover) RemoveTree(string) (int64, error) { return 0, nil }
