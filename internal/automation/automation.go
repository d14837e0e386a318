// Package automation runs scheduled jobs that sync sources, match
// templates against fresh recordings, and launch pipelines. A dry run
// walks the same path but counts instead of submitting.
package automation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/recarr/internal/ingest"
	"github.com/jmylchreest/recarr/internal/match"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/pipeline"
	"github.com/jmylchreest/recarr/internal/recerr"
	"github.com/jmylchreest/recarr/internal/repository"
)

// candidatePageSize bounds one listing query; runs loop until the page
// comes back short.
const candidatePageSize = 200

// Runner executes automation jobs.
type Runner struct {
	jobs       repository.AutomationRepository
	templates  repository.TemplateRepository
	sources    repository.InputSourceRepository
	recordings repository.RecordingRepository
	users      repository.UserRepository
	syncer     *ingest.Syncer
	orch       *pipeline.Orchestrator
	matcher    *match.Matcher
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRunner creates an automation runner.
func NewRunner(
	jobs repository.AutomationRepository,
	templates repository.TemplateRepository,
	sources repository.InputSourceRepository,
	recordings repository.RecordingRepository,
	users repository.UserRepository,
	syncer *ingest.Syncer,
	orch *pipeline.Orchestrator,
	matcher *match.Matcher,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:       jobs,
		templates:  templates,
		sources:    sources,
		recordings: recordings,
		users:      users,
		syncer:     syncer,
		orch:       orch,
		matcher:    matcher,
		logger:     logger,
		now:        time.Now,
	}
}

// RunResult aggregates what one automation run did.
type RunResult struct {
	JobID         models.ULID `json:"job_id"`
	DryRun        bool        `json:"dry_run"`
	Templates     int         `json:"templates"`
	SourcesSynced int         `json:"sources_synced"`
	SourcesFailed int         `json:"sources_failed"`
	Candidates    int         `json:"candidates"`
	Matched       int         `json:"matched"`
	Launched      int         `json:"launched"`
	Skipped       int         `json:"skipped"`
	Rejected      int         `json:"rejected"`
}

// Map renders the result as a task result map.
func (r RunResult) Map() models.JSONMap {
	return models.JSONMap{
		"job_id":         r.JobID.String(),
		"dry_run":        r.DryRun,
		"templates":      r.Templates,
		"sources_synced": r.SourcesSynced,
		"sources_failed": r.SourcesFailed,
		"candidates":     r.Candidates,
		"matched":        r.Matched,
		"launched":       r.Launched,
		"skipped":        r.Skipped,
		"rejected":       r.Rejected,
	}
}

// Run executes one automation job end to end and stamps its run
// bookkeeping.
func (r *Runner) Run(ctx context.Context, jobID, userID models.ULID) (RunResult, error) {
	return r.run(ctx, jobID, userID, false)
}

// DryRun walks the sync-and-match path counting what a real run would
// do, without binding, launching, or stamping anything.
func (r *Runner) DryRun(ctx context.Context, jobID, userID models.ULID) (RunResult, error) {
	return r.run(ctx, jobID, userID, true)
}

func (r *Runner) run(ctx context.Context, jobID, userID models.ULID, dry bool) (RunResult, error) {
	job, err := r.jobs.GetByID(ctx, jobID, userID)
	if err != nil {
		return RunResult{}, recerr.Wrap(recerr.KindTransient, err, "loading automation job")
	}
	if job == nil {
		return RunResult{}, recerr.NotFound("automation job")
	}

	res := RunResult{JobID: job.ID, DryRun: dry}
	ranAt := r.now().UTC()

	templates, err := r.jobTemplates(ctx, job)
	if err != nil {
		return res, err
	}
	res.Templates = len(templates)

	sourceIDs, err := r.jobSources(ctx, job, templates)
	if err != nil {
		return res, err
	}

	from := ranAt.AddDate(0, 0, -job.SyncDays())
	if len(sourceIDs) > 0 {
		_, failures := r.syncer.SyncBatch(ctx, job.UserID, sourceIDs, from, ranAt)
		res.SourcesSynced = len(sourceIDs) - len(failures)
		res.SourcesFailed = len(failures)
	}

	if err := r.processCandidates(ctx, job, templates, from, ranAt, dry, &res); err != nil {
		return res, err
	}

	if !dry {
		next := r.NextRun(ctx, job, ranAt)
		if err := r.jobs.MarkRun(ctx, job.ID, ranAt, next); err != nil {
			return res, recerr.Wrap(recerr.KindTransient, err, "stamping automation run")
		}
	}

	r.logger.Info("automation run finished",
		slog.String("job_id", job.ID.String()),
		slog.Bool("dry_run", dry),
		slog.Int("candidates", res.Candidates),
		slog.Int("matched", res.Matched),
		slog.Int("launched", res.Launched),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// jobTemplates loads the job's templates and keeps the matchable ones in
// matcher order. A job whose templates are all gone or inactive cannot
// do anything useful.
func (r *Runner) jobTemplates(ctx context.Context, job *models.AutomationJob) ([]*models.RecordingTemplate, error) {
	ids := make([]models.ULID, 0, len(job.TemplateIDs))
	for _, raw := range job.TemplateIDs {
		id, err := models.ParseULID(raw)
		if err != nil {
			return nil, recerr.Wrap(recerr.KindTerminal, err, "bad template id %q on job %s", raw, job.Name)
		}
		ids = append(ids, id)
	}

	all, err := r.templates.GetByIDs(ctx, ids, job.UserID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "loading job templates")
	}

	matchable := make([]*models.RecordingTemplate, 0, len(all))
	for _, tmpl := range all {
		if tmpl.IsMatchable() {
			matchable = append(matchable, tmpl)
		}
	}
	if len(matchable) == 0 {
		return nil, recerr.New(recerr.KindTerminal, "automation job %s has no active templates", job.Name)
	}
	sort.Slice(matchable, func(i, j int) bool {
		return matchable[i].CreatedAt.Before(matchable[j].CreatedAt)
	})
	return matchable, nil
}

// jobSources resolves which sources to sync: the union of the templates'
// source filters, or every enabled syncable source when any template has
// no filter. A meeting source without a credential cannot sync and is
// left out.
func (r *Runner) jobSources(ctx context.Context, job *models.AutomationJob, templates []*models.RecordingTemplate) ([]models.ULID, error) {
	wantAll := false
	wanted := make(map[string]bool)
	for _, tmpl := range templates {
		if tmpl.MatchingRules == nil || len(tmpl.MatchingRules.SourceIDs) == 0 {
			wantAll = true
			continue
		}
		for _, id := range tmpl.MatchingRules.SourceIDs {
			wanted[id] = true
		}
	}

	enabled, err := r.sources.ListEnabled(ctx, job.UserID)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindTransient, err, "listing sources")
	}

	var ids []models.ULID
	for _, src := range enabled {
		if !wantAll && !wanted[src.ID.String()] {
			continue
		}
		if src.Kind == models.SourceKindMeeting && !src.HasCredential() {
			continue
		}
		ids = append(ids, src.ID)
	}
	return ids, nil
}

// processCandidates walks the post-sync candidate recordings and matches
// each against the job's templates. The first match binds and launches;
// a non-match parks the recording as skipped so the next run does not
// pick it up again.
func (r *Runner) processCandidates(ctx context.Context, job *models.AutomationJob, templates []*models.RecordingTemplate, from, to time.Time, dry bool, res *RunResult) error {
	filters := repository.RecordingFilters{Statuses: job.Filters.CandidateStatuses()}
	excludeBlank := job.Filters != nil && job.Filters.ExcludeBlank

	for offset := 0; ; offset += candidatePageSize {
		page, _, err := r.recordings.ListByUser(ctx, job.UserID, filters, repository.Page{Offset: offset, Limit: candidatePageSize})
		if err != nil {
			return recerr.Wrap(recerr.KindTransient, err, "listing candidate recordings")
		}

		for _, rec := range page {
			if !inWindow(rec, from, to) {
				continue
			}
			if excludeBlank && rec.BlankRecord {
				continue
			}
			res.Candidates++
			if err := r.processOne(ctx, job, templates, rec, dry, res); err != nil {
				return err
			}
		}

		if len(page) < candidatePageSize {
			return nil
		}
	}
}

func (r *Runner) processOne(ctx context.Context, job *models.AutomationJob, templates []*models.RecordingTemplate, rec *models.Recording, dry bool, res *RunResult) error {
	candidate := match.Candidate{DisplayName: rec.DisplayName}
	if rec.InputSourceID != nil {
		candidate.SourceID = rec.InputSourceID.String()
	}

	result := r.matcher.Match(candidate, templates)
	if result == nil {
		res.Skipped++
		if dry {
			return nil
		}
		rec.Status = models.StatusSkipped
		rec.SkipReason = "No matching template"
		if err := r.recordings.Update(ctx, rec); err != nil {
			return recerr.Wrap(recerr.KindTransient, err, "skipping unmatched recording %d", rec.ID)
		}
		return nil
	}

	res.Matched++
	if dry {
		return nil
	}

	rec.TemplateID = &result.Template.ID
	rec.IsMapped = true
	if err := r.recordings.Update(ctx, rec); err != nil {
		return recerr.Wrap(recerr.KindTransient, err, "binding template to recording %d", rec.ID)
	}
	if err := r.templates.RecordUse(ctx, result.Template.ID); err != nil {
		r.logger.Warn("template use not recorded",
			slog.String("template_id", result.Template.ID.String()),
			slog.Any("error", err),
		)
	}

	_, err := r.orch.Launch(ctx, pipeline.LaunchRequest{
		RecordingID: rec.ID,
		UserID:      job.UserID,
		Override:    job.ProcessingConfig,
		Priority:    models.PriorityAutomation,
	})
	switch {
	case err == nil:
		res.Launched++
	case recerr.Is(err, recerr.KindQuotaExceeded) || recerr.Is(err, recerr.KindAdmission):
		// Quota holds back this recording, not the run; later runs pick
		// it up again because it stays initialized and mapped.
		res.Rejected++
		r.logger.Warn("automation launch rejected",
			slog.Int64("recording_id", rec.ID),
			slog.Any("error", err),
		)
	default:
		return err
	}
	return nil
}

// inWindow keeps recordings whose start time falls inside the sync
// window. A recording without a start time is never aged out.
func inWindow(rec *models.Recording, from, to time.Time) bool {
	if rec.StartTime == nil {
		return true
	}
	st := time.Time(*rec.StartTime)
	return !st.Before(from) && !st.After(to)
}

// NextRun computes the job's next fire time after the given instant,
// evaluated in the job's timezone, falling back to the user's, then UTC.
// A schedule that does not parse yields nil, parking the job until it is
// edited.
func (r *Runner) NextRun(ctx context.Context, job *models.AutomationJob, after time.Time) *time.Time {
	loc := r.location(ctx, job)
	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		r.logger.Error("automation schedule does not parse",
			slog.String("job_id", job.ID.String()),
			slog.String("schedule", job.Schedule),
			slog.Any("error", err),
		)
		return nil
	}
	next := sched.Next(after.In(loc)).UTC()
	return &next
}

func (r *Runner) location(ctx context.Context, job *models.AutomationJob) *time.Location {
	name := job.Timezone
	if name == "" {
		if user, err := r.users.GetByID(ctx, job.UserID); err == nil && user != nil {
			name = user.Timezone
		}
	}
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
		r.logger.Warn("unknown timezone, using UTC",
			slog.String("job_id", job.ID.String()),
			slog.String("timezone", name),
		)
	}
	return time.UTC
}
