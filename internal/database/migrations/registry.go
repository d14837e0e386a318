// Package migrations provides database migration management.
package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/models"
)

// Default plan limits seeded at first boot. Kept in sync with the config
// defaults; zero means unlimited.
const (
	defaultPlanName               = "free"
	defaultPlanRecordingsPerMonth = 100
	defaultPlanConcurrentTasks    = 10
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002DefaultPlan(),
	}
}

// migration001Schema creates all tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			// AutoMigrate in dependency order
			return tx.AutoMigrate(
				// Tenancy and quotas
				&models.User{},
				&models.UserConfig{},
				&models.SubscriptionPlan{},
				&models.UserSubscription{},
				&models.QuotaUsage{},

				// Providers and credentials
				&models.InputSource{},
				&models.Credential{},
				&models.RefreshToken{},

				// Templates and presets
				&models.RecordingTemplate{},
				&models.OutputPreset{},

				// Recordings and their children
				&models.Recording{},
				&models.SourceMetadata{},
				&models.ProcessingStage{},
				&models.OutputTarget{},
				&models.StageTiming{},

				// Automation and the task queue
				&models.AutomationJob{},
				&models.Task{},
				&models.TaskHistory{},
				&models.PipelineJoin{},
			)
		},
		Down: func(tx *gorm.DB) error {
			// Drop in reverse dependency order
			tables := []string{
				"pipeline_joins",
				"task_history",
				"tasks",
				"automation_jobs",
				"stage_timings",
				"output_targets",
				"processing_stages",
				"source_metadata",
				"recordings",
				"output_presets",
				"recording_templates",
				"refresh_tokens",
				"credentials",
				"input_sources",
				"quota_usage",
				"user_subscriptions",
				"subscription_plans",
				"user_configs",
				"users",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002DefaultPlan seeds the default subscription plan assigned to
// users without an explicit subscription.
func migration002DefaultPlan() Migration {
	return Migration{
		Version:     "002",
		Description: "Seed default subscription plan",
		Up: func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&models.SubscriptionPlan{}).
				Where("is_default = ?", true).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			plan := models.SubscriptionPlan{
				Name:               defaultPlanName,
				RecordingsPerMonth: defaultPlanRecordingsPerMonth,
				ConcurrentTasks:    defaultPlanConcurrentTasks,
				StorageBytes:       0,
				IsDefault:          true,
			}
			return tx.Create(&plan).Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Where("name = ? AND is_default = ?", defaultPlanName, true).
				Delete(&models.SubscriptionPlan{}).Error
		},
	}
}
