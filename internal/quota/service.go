// Package quota enforces subscription limits at admission time and keeps
// the per-period usage accounting current.
package quota

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
)

// StorageCalculator measures a user's on-disk artifact footprint.
// Satisfied by the artifact store.
type StorageCalculator interface {
	CalcUserStorageBytes(slug int) (int64, error)
}

// Limits are the effective limits of one user after plan and per-user
// overrides are applied. Zero means unlimited.
type Limits struct {
	RecordingsPerMonth int   `json:"recordings_per_month"`
	ConcurrentTasks    int   `json:"concurrent_tasks"`
	StorageBytes       int64 `json:"storage_bytes"`
}

// Status is the quota snapshot served by the control plane.
type Status struct {
	Period string `json:"period"`
	Limits Limits `json:"limits"`

	RecordingsUsed int   `json:"recordings_used"`
	TasksInFlight  int64 `json:"tasks_in_flight"`
	StorageBytes   int64 `json:"storage_bytes"`

	RecordingsRejected int `json:"recordings_rejected"`
	TasksRejected      int `json:"tasks_rejected"`
}

// Service checks admissions against the user's plan and records usage.
type Service struct {
	quotas repository.QuotaRepository
	tasks  repository.TaskRepository
	logger *slog.Logger
}

// NewService creates a quota service.
func NewService(quotas repository.QuotaRepository, tasks repository.TaskRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{quotas: quotas, tasks: tasks, logger: logger}
}

// Limits resolves the effective limits of a user: the subscription's plan
// with per-user overrides, or the default plan when no subscription exists.
func (s *Service) Limits(ctx context.Context, userID models.ULID) (Limits, error) {
	sub, err := s.quotas.GetSubscription(ctx, userID)
	if err != nil {
		return Limits{}, err
	}
	if sub != nil {
		return Limits{
			RecordingsPerMonth: sub.EffectiveRecordingsPerMonth(),
			ConcurrentTasks:    sub.EffectiveConcurrentTasks(),
			StorageBytes:       sub.EffectiveStorageBytes(),
		}, nil
	}

	plan, err := s.quotas.GetDefaultPlan(ctx)
	if err != nil {
		return Limits{}, err
	}
	if plan == nil {
		// No default plan seeded means no limits enforced.
		return Limits{}, nil
	}
	return Limits{
		RecordingsPerMonth: plan.RecordingsPerMonth,
		ConcurrentTasks:    plan.ConcurrentTasks,
		StorageBytes:       plan.StorageBytes,
	}, nil
}

// CheckAdmission verifies a new pipeline launch fits the user's monthly
// recording limit and concurrent-task limit. A rejection is recorded on
// the overage counters and returned as a quota-exceeded error; nothing is
// enqueued for a rejected admission.
func (s *Service) CheckAdmission(ctx context.Context, userID models.ULID) error {
	limits, err := s.Limits(ctx, userID)
	if err != nil {
		return err
	}
	period := models.QuotaPeriod(models.Now())

	if limits.RecordingsPerMonth > 0 {
		usage, err := s.quotas.GetOrCreateUsage(ctx, userID, period)
		if err != nil {
			return err
		}
		if usage.RecordingsCount >= limits.RecordingsPerMonth {
			if err := s.quotas.IncrementOverage(ctx, userID, period, "recordings"); err != nil {
				s.logger.Warn("recording overage not counted", slog.String("error", err.Error()))
			}
			return recerr.New(recerr.KindQuotaExceeded,
				"monthly recording limit reached (%d/%d)",
				usage.RecordingsCount, limits.RecordingsPerMonth)
		}
	}

	if limits.ConcurrentTasks > 0 {
		inFlight, err := s.tasks.CountRunningByUser(ctx, userID)
		if err != nil {
			return err
		}
		if inFlight >= int64(limits.ConcurrentTasks) {
			if err := s.quotas.IncrementOverage(ctx, userID, period, "tasks"); err != nil {
				s.logger.Warn("task overage not counted", slog.String("error", err.Error()))
			}
			return recerr.New(recerr.KindQuotaExceeded,
				"concurrent task limit reached (%d/%d)",
				inFlight, limits.ConcurrentTasks)
		}
	}

	return nil
}

// RecordAdmission bumps the monthly recordings counter after a pipeline
// was admitted.
func (s *Service) RecordAdmission(ctx context.Context, userID models.ULID) error {
	period := models.QuotaPeriod(models.Now())
	return s.quotas.IncrementRecordings(ctx, userID, period, 1)
}

// CheckStorage verifies that adding incoming bytes keeps the user under
// the storage cap. Called before large artifact writes.
func (s *Service) CheckStorage(ctx context.Context, userID models.ULID, current, incoming int64) error {
	limits, err := s.Limits(ctx, userID)
	if err != nil {
		return err
	}
	if limits.StorageBytes <= 0 {
		return nil
	}
	if current+incoming > limits.StorageBytes {
		return recerr.New(recerr.KindQuotaExceeded,
			"storage limit reached (%d + %d > %d bytes)",
			current, incoming, limits.StorageBytes)
	}
	return nil
}

// AccountStorage recalculates a user's artifact footprint and stores it on
// the current period's usage row. Called after artifact writes and hard
// deletes.
func (s *Service) AccountStorage(ctx context.Context, user *models.User, calc StorageCalculator) (int64, error) {
	bytes, err := calc.CalcUserStorageBytes(user.Slug)
	if err != nil {
		return 0, fmt.Errorf("calculating storage: %w", err)
	}
	period := models.QuotaPeriod(models.Now())
	if err := s.quotas.SetStorageBytes(ctx, user.ID, period, bytes); err != nil {
		return 0, err
	}
	return bytes, nil
}

// Status assembles the quota snapshot of one user for the control plane.
func (s *Service) Status(ctx context.Context, userID models.ULID) (*Status, error) {
	limits, err := s.Limits(ctx, userID)
	if err != nil {
		return nil, err
	}
	period := models.QuotaPeriod(models.Now())
	usage, err := s.quotas.GetOrCreateUsage(ctx, userID, period)
	if err != nil {
		return nil, err
	}
	inFlight, err := s.tasks.CountRunningByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Period:             period,
		Limits:             limits,
		RecordingsUsed:     usage.RecordingsCount,
		TasksInFlight:      inFlight,
		StorageBytes:       usage.StorageBytes,
		RecordingsRejected: usage.RecordingsOverageCount,
		TasksRejected:      usage.TasksOverageCount,
	}, nil
}
