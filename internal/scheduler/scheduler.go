// Package scheduler provides the cron beat for recarr. On every beat it
// fires automation jobs whose next_run_at is due and the configured
// maintenance schedules (retention passes, token GC, task pruning).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/recarr/internal/automation"
	"github.com/jmylchreest/recarr/internal/config"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/repository"
)

// DefaultBeatInterval is used when the config leaves the beat unset.
const DefaultBeatInterval = 30 * time.Second

// maintenanceEntry binds one config cron expression to a maintenance
// task type.
type maintenanceEntry struct {
	name     string
	expr     string
	taskType models.TaskType
}

// Scheduler owns the beat loop. One instance runs per process; the task
// queue serialises the actual work.
type Scheduler struct {
	mu sync.Mutex

	jobs       repository.AutomationRepository
	runner     *automation.Runner
	dispatcher *queue.Dispatcher
	logger     *slog.Logger

	beatInterval time.Duration
	catchup      bool
	maintenance  []maintenanceEntry

	// parser handles the 6-field maintenance expressions.
	parser cron.Parser

	// lastBeat is the left edge of the current maintenance window.
	lastBeat time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// New creates a scheduler over the automation runner and the maintenance
// schedules.
func New(
	jobs repository.AutomationRepository,
	runner *automation.Runner,
	dispatcher *queue.Dispatcher,
	cfg config.SchedulerConfig,
	retention config.RetentionConfig,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	beat := cfg.BeatInterval
	if beat <= 0 {
		beat = DefaultBeatInterval
	}
	return &Scheduler{
		jobs:         jobs,
		runner:       runner,
		dispatcher:   dispatcher,
		logger:       logger,
		beatInterval: beat,
		catchup:      cfg.CatchupMissedRuns,
		maintenance: []maintenanceEntry{
			{name: "auto_expire", expr: retention.AutoExpireCron, taskType: models.TaskRetentionExpire},
			{name: "file_cleanup", expr: retention.FileCleanupCron, taskType: models.TaskRetentionCleanup},
			{name: "hard_delete", expr: retention.HardDeleteCron, taskType: models.TaskRetentionHardDelete},
			{name: "token_gc", expr: retention.TokenGCCron, taskType: models.TaskTokenGC},
			{name: "task_prune", expr: retention.TaskPruneCron, taskType: models.TaskPrune},
		},
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Start begins the beat loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastBeat = s.now().UTC()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started",
		slog.Duration("beat_interval", s.beatInterval),
		slog.Bool("catchup_missed_runs", s.catchup),
	)
	return nil
}

// Stop stops the beat loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.beatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Beat(s.ctx)
		}
	}
}

// Beat runs one scheduling pass: seed unscheduled jobs, fire due ones,
// fire due maintenance schedules. Exported so operators and tests can
// force a pass.
func (s *Scheduler) Beat(ctx context.Context) {
	now := s.now().UTC()
	s.seedJobs(ctx, now)
	s.fireDueJobs(ctx, now)
	s.fireMaintenance(ctx, now)

	s.mu.Lock()
	s.lastBeat = now
	s.mu.Unlock()
}

// seedJobs computes next_run_at for active jobs that have none (new or
// just edited).
func (s *Scheduler) seedJobs(ctx context.Context, now time.Time) {
	jobs, err := s.jobs.ListActive(ctx)
	if err != nil {
		s.logger.Error("listing active automation jobs", slog.Any("error", err))
		return
	}
	for _, job := range jobs {
		if job.NextRunAt != nil {
			continue
		}
		next := s.runner.NextRun(ctx, job, now)
		if next == nil {
			continue
		}
		nt := models.Time(*next)
		job.NextRunAt = &nt
		if err := s.jobs.Update(ctx, job); err != nil {
			s.logger.Error("seeding automation schedule",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err),
			)
		}
	}
}

// fireDueJobs enqueues a run task for every automation job whose
// next_run_at has passed, then advances next_run_at so the job does not
// re-fire while the task sits in the queue. With catchup enabled the
// advance starts from the missed fire time, so a backlog drains one run
// per beat; otherwise missed occurrences collapse into one.
func (s *Scheduler) fireDueJobs(ctx context.Context, now time.Time) {
	due, err := s.jobs.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("listing due automation jobs", slog.Any("error", err))
		return
	}

	for _, job := range due {
		task := &models.Task{
			Type:     models.TaskAutomationRun,
			Queue:    models.QueueAsyncOperations,
			UserID:   job.UserID,
			Priority: models.PriorityAutomation,
			Payload:  automation.TaskPayload(job.ID),
		}
		if _, err := s.dispatcher.Enqueue(ctx, task); err != nil {
			s.logger.Error("enqueueing automation run",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err),
			)
			continue
		}

		after := now
		if s.catchup && job.NextRunAt != nil {
			after = time.Time(*job.NextRunAt)
		}
		next := s.runner.NextRun(ctx, job, after)
		if next == nil {
			job.NextRunAt = nil
		} else {
			nt := models.Time(*next)
			job.NextRunAt = &nt
		}
		if err := s.jobs.Update(ctx, job); err != nil {
			s.logger.Error("advancing automation schedule",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err),
			)
			continue
		}

		s.logger.Info("automation job fired",
			slog.String("job_id", job.ID.String()),
			slog.String("name", job.Name),
		)
	}
}

// fireMaintenance enqueues maintenance tasks whose cron expression fires
// inside (lastBeat, now]. Maintenance passes are idempotent, so the rare
// duplicate across a restart is harmless.
func (s *Scheduler) fireMaintenance(ctx context.Context, now time.Time) {
	s.mu.Lock()
	since := s.lastBeat
	s.mu.Unlock()

	for _, entry := range s.maintenance {
		if entry.expr == "" {
			continue
		}
		sched, err := s.parser.Parse(entry.expr)
		if err != nil {
			s.logger.Warn("maintenance cron does not parse",
				slog.String("schedule", entry.name),
				slog.String("expr", entry.expr),
				slog.Any("error", err),
			)
			continue
		}
		if next := sched.Next(since); next.After(now) {
			continue
		}

		task := &models.Task{
			Type:     entry.taskType,
			Queue:    models.QueueMaintenance,
			Priority: models.PriorityMaintenance,
		}
		if _, err := s.dispatcher.Enqueue(ctx, task); err != nil {
			s.logger.Error("enqueueing maintenance task",
				slog.String("schedule", entry.name),
				slog.Any("error", err),
			)
			continue
		}
		s.logger.Info("maintenance task fired", slog.String("schedule", entry.name))
	}
}

// ValidateCron validates a 6-field maintenance cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
