package startup

import (
	"context"
	"log/slog"
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
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweepScratchDir(t *testing.T) {
	t.Run("removes old scratch entries", func(t *testing.T) {
		scratch := t.TempDir()

		oldDir := filepath.Join(scratch, "download-01HZ1234")
		require.NoError(t, os.Mkdir(oldDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(oldDir, "partial.mp4"), []byte("x"), 0644))

		oldFile := filepath.Join(scratch, "probe-output.json")
		require.NoError(t, os.WriteFile(oldFile, []byte("{}"), 0644))

		// Age the entries after writing; the writes update mtimes.
		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		count, err := SweepScratchDir(newTestLogger(), scratch, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err), "old directory should be removed")
		_, err = os.Stat(oldFile)
		assert.True(t, os.IsNotExist(err), "old file should be removed")
	})

	t.Run("preserves recent entries", func(t *testing.T) {
		scratch := t.TempDir()

		recent := filepath.Join(scratch, "download-01HZ5678")
		require.NoError(t, os.Mkdir(recent, 0755))
		recentTime := time.Now().Add(-30 * time.Minute)
		require.NoError(t, os.Chtimes(recent, recentTime, recentTime))

		count, err := SweepScratchDir(newTestLogger(), scratch, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = os.Stat(recent)
		assert.NoError(t, err, "recent entry should be preserved")
	})

	t.Run("handles non-existent directory gracefully", func(t *testing.T) {
		count, err := SweepScratchDir(newTestLogger(), "/nonexistent/path/12345", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestSweepAbandonedWrites(t *testing.T) {
	t.Run("removes old dot-tmp files and keeps everything else", func(t *testing.T) {
		root := t.TempDir()
		userDir := filepath.Join(root, "users", "1", "transcriptions", "42")
		require.NoError(t, os.MkdirAll(userDir, 0755))

		abandoned := filepath.Join(userDir, ".master.json.a1b2c3d4.tmp")
		require.NoError(t, os.WriteFile(abandoned, []byte("partial"), 0644))

		finished := filepath.Join(userDir, "master.json")
		require.NoError(t, os.WriteFile(finished, []byte("{}"), 0644))

		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(abandoned, oldTime, oldTime))
		require.NoError(t, os.Chtimes(finished, oldTime, oldTime))

		count, err := SweepAbandonedWrites(newTestLogger(), root, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = os.Stat(abandoned)
		assert.True(t, os.IsNotExist(err), "abandoned temp file should be removed")
		_, err = os.Stat(finished)
		assert.NoError(t, err, "completed artifact should be preserved")
	})

	t.Run("preserves in-flight temp files", func(t *testing.T) {
		root := t.TempDir()
		inFlight := filepath.Join(root, ".audio.m4a.deadbeef.tmp")
		require.NoError(t, os.WriteFile(inFlight, []byte("writing"), 0644))

		count, err := SweepAbandonedWrites(newTestLogger(), root, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = os.Stat(inFlight)
		assert.NoError(t, err)
	})

	t.Run("handles non-existent root gracefully", func(t *testing.T) {
		count, err := SweepAbandonedWrites(newTestLogger(), "/nonexistent/path/12345", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestRecoverInterruptedTasks(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	migrator := migrations.NewMigrator(db, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	ctx := context.Background()
	require.NoError(t, migrator.Up(ctx))

	tasks := repository.NewTaskRepository(db)

	user := &models.User{Email: "boot@example.com", Slug: 1}
	require.NoError(t, db.Create(user).Error)

	stuck := &models.Task{
		Queue:  models.QueueDownloads,
		Type:   models.TaskDownload,
		UserID: user.ID,
	}
	require.NoError(t, tasks.Create(ctx, stuck))
	locked := models.Now().Add(-10 * time.Minute)
	require.NoError(t, db.Model(&models.Task{}).
		Where("id = ?", stuck.ID).
		UpdateColumns(map[string]interface{}{
			"status":    models.TaskStatusRunning,
			"locked_by": "worker-from-previous-boot",
			"locked_at": locked,
		}).Error)

	// Zero staleAfter reclaims everything still marked running,
	// regardless of how recently it was locked.
	recovered, err := RecoverInterruptedTasks(ctx, newTestLogger(), tasks, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := tasks.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Empty(t, got.LockedBy)
}
