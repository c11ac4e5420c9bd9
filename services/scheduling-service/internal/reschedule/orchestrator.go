// Package reschedule composes the availability engine into the three
// operations the scheduling API exposes: generating ranked reschedule
// options for a job, finding each worker's next open slot, and committing a
// manual reschedule. All reads are pure; the manual reschedule is the single
// write, delegated to the store's transactional apply.
package reschedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/crewsched/crewsched/libs/clockx"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/availability"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/suggest"
)

// RescheduleCommand is the one write the engine performs. The store applies
// it atomically: row lock, overlap re-check, update, and (when requested)
// the notification outbox event, all in one transaction.
type RescheduleCommand struct {
	BusinessID   string
	JobID        string
	WorkerID     string
	NewStart     time.Time
	Reason       string
	NotifyClient bool
}

// Store is everything the orchestrator needs from persistence. The embedded
// availability interfaces let the checker and searcher run against the same
// repository.
type Store interface {
	availability.ScheduleSource
	availability.BookingSource

	BusinessLocation(ctx context.Context, businessID string) (*time.Location, error)
	GetJob(ctx context.Context, businessID, jobID string) (model.Job, error)
	GetClient(ctx context.Context, businessID, clientID string) (model.Client, error)
	GetWorker(ctx context.Context, businessID, workerID string) (model.Worker, error)
	ActiveWorkers(ctx context.Context, businessID string) ([]model.Worker, error)
	JobsInWeek(ctx context.Context, workerID string, weekStart, weekEnd time.Time) ([]model.Job, error)

	// ApplyReschedule reports whether a client notification was actually
	// enqueued; a job without a (live) client reschedules silently even
	// when notification was requested.
	ApplyReschedule(ctx context.Context, cmd RescheduleCommand) (model.Job, bool, error)
}

type Config struct {
	Suggest     suggest.Config
	TickMinutes int
	FanOutLimit int
}

func DefaultConfig() Config {
	return Config{
		Suggest:     suggest.DefaultConfig(),
		TickMinutes: availability.DefaultTickMinutes,
		FanOutLimit: defaultFanOutLimit,
	}
}

const (
	minSearchDays     = 1
	maxSearchDays     = 30
	defaultSearchDays = availability.DefaultHorizonDays
)

type Orchestrator struct {
	store    Store
	clock    clockx.Clock
	logger   *slog.Logger
	checker  *availability.Checker
	searcher *availability.Searcher
	ranker   *suggest.Ranker
	cfg      Config
}

func New(store Store, clock clockx.Clock, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.TickMinutes <= 0 {
		cfg.TickMinutes = availability.DefaultTickMinutes
	}
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = defaultFanOutLimit
	}
	return &Orchestrator{
		store:    store,
		clock:    clock,
		logger:   logger,
		checker:  availability.NewChecker(store, store),
		searcher: availability.NewSearcher(store, store, cfg.TickMinutes),
		ranker:   suggest.NewRanker(cfg.Suggest),
		cfg:      cfg,
	}
}

// --- generate-options ---

type RescheduleOption struct {
	SuggestedDate   time.Time
	WorkerID        string
	WorkerName      string
	ConfidenceScore float64
	Reason          string
}

type Options struct {
	Job         model.Job
	Client      model.Client
	Options     []RescheduleOption
	GeneratedAt time.Time
}

// GenerateOptions produces the ranked shortlist for moving one job.
func (o *Orchestrator) GenerateOptions(ctx context.Context, businessID, jobID string, daysAhead int) (*Options, error) {
	if daysAhead == 0 {
		daysAhead = defaultSearchDays
	}
	if daysAhead < minSearchDays || daysAhead > maxSearchDays {
		return nil, validationf("days_ahead must be between %d and %d, got %d", minSearchDays, maxSearchDays, daysAhead)
	}

	job, err := o.store.GetJob(ctx, businessID, jobID)
	if err != nil {
		return nil, err
	}

	var client model.Client
	if job.ClientID != "" {
		client, err = o.store.GetClient(ctx, businessID, job.ClientID)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
	}

	sugg, err := o.Suggest(ctx, SuggestParams{
		BusinessID:      businessID,
		JobID:           jobID,
		DurationMinutes: job.DurationMinutes,
		SearchDays:      daysAhead,
		AllWorkers:      true,
	})
	if err != nil {
		return nil, err
	}

	options := make([]RescheduleOption, 0, len(sugg.OptimalCombinations))
	for _, combo := range sugg.OptimalCombinations {
		options = append(options, RescheduleOption{
			SuggestedDate:   combo.Start,
			WorkerID:        combo.WorkerID,
			WorkerName:      combo.WorkerName,
			ConfidenceScore: combo.Score,
			Reason:          combo.Reason,
		})
	}

	return &Options{
		Job:         job,
		Client:      client,
		Options:     options,
		GeneratedAt: o.clock.Now().UTC(),
	}, nil
}

// --- next-available ---

type WorkerSlot struct {
	WorkerID    string
	WorkerName  string
	Start       time.Time
	Utilization int
}

// NextAvailable finds, per active worker, the first open slot of the given
// duration after searchStart, paired with that worker's current-week
// utilization. Workers with no slot inside the horizon are omitted.
func (o *Orchestrator) NextAvailable(ctx context.Context, businessID, jobID string, durationMinutes int, searchStart time.Time, daysLimit int) ([]WorkerSlot, error) {
	if durationMinutes <= 0 {
		return nil, validationf("duration_minutes must be positive")
	}
	if daysLimit == 0 {
		daysLimit = defaultSearchDays
	}
	if daysLimit < minSearchDays || daysLimit > maxSearchDays {
		return nil, validationf("search_days_limit must be between %d and %d, got %d", minSearchDays, maxSearchDays, daysLimit)
	}
	if searchStart.IsZero() {
		searchStart = o.clock.Now()
	}

	excludeJobID := ""
	if jobID != "" {
		job, err := o.store.GetJob(ctx, businessID, jobID)
		if err != nil {
			return nil, err
		}
		excludeJobID = job.ID
	}

	loc, err := o.store.BusinessLocation(ctx, businessID)
	if err != nil {
		return nil, err
	}

	workers, err := o.store.ActiveWorkers(ctx, businessID)
	if err != nil {
		return nil, err
	}

	type hit struct {
		start       time.Time
		found       bool
		utilization int
	}
	branches := fanOut(ctx, workers, o.cfg.FanOutLimit, func(ctx context.Context, w model.Worker) (hit, error) {
		start, found, err := o.searcher.FindNext(ctx, w.ID, durationMinutes, searchStart, daysLimit, loc, excludeJobID)
		if err != nil {
			return hit{}, err
		}
		if !found {
			return hit{}, nil
		}
		utilization, _, err := o.workerUtilization(ctx, w.ID, searchStart, loc)
		if err != nil {
			return hit{}, err
		}
		return hit{start: start, found: true, utilization: utilization}, nil
	})

	var slots []WorkerSlot
	var firstErr error
	failed := 0
	for _, b := range branches {
		if b.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = b.Err
			}
			o.logger.Error("next-available lookup failed", "worker_id", b.Worker.ID, "err", b.Err)
			continue
		}
		if !b.Value.found {
			continue
		}
		slots = append(slots, WorkerSlot{
			WorkerID:    b.Worker.ID,
			WorkerName:  b.Worker.Name,
			Start:       b.Value.start,
			Utilization: b.Value.utilization,
		})
	}
	if failed > 0 && failed == len(workers) {
		return nil, fmt.Errorf("next-available failed for every worker: %w", firstErr)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].Utilization < slots[j].Utilization
	})
	return slots, nil
}

// --- suggestions ---

type SuggestParams struct {
	BusinessID      string
	JobID           string    // optional: defaults duration/time/worker from the job
	WorkerID        string    // optional: targeted mode for one worker
	PreferredStart  time.Time // optional fixed target time
	RangeStart      time.Time // optional explicit scan range
	RangeEnd        time.Time
	DurationMinutes int
	SearchDays      int
	AllWorkers      bool
}

type WorkerAnalysis struct {
	At          time.Time
	Available   []suggest.WorkerOption
	Unavailable []suggest.WorkerOption
}

type DaySummary struct {
	Date             string
	Weekday          string
	AvailableWorkers int
	OpenMinutes      int
	BestScore        float64
}

type Suggestions struct {
	WorkerAnalysis       WorkerAnalysis
	TimeAlternatives     []suggest.TimeSlot
	OptimalCombinations  []suggest.Combination
	DayAnalysis          []DaySummary
	SmartRecommendations []string
}

// workerData is one worker's prefetched schedule for the scan range.
type workerData struct {
	worker      model.Worker
	slots       []model.WeeklySlot
	exceptions  []model.Exception
	jobs        []model.Job // conflict-relevant jobs overlapping the range
	utilization int
	tier        availability.Tier
}

// Suggest runs the full analysis: per-worker availability at the target
// time, scored canonical times across the scan range, optimal combinations,
// per-day summaries, and textual recommendations.
func (o *Orchestrator) Suggest(ctx context.Context, p SuggestParams) (*Suggestions, error) {
	loc, err := o.store.BusinessLocation(ctx, p.BusinessID)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()

	excludeJobID := ""
	preferred := p.PreferredStart
	duration := p.DurationMinutes
	workerID := p.WorkerID
	if p.JobID != "" {
		job, err := o.store.GetJob(ctx, p.BusinessID, p.JobID)
		if err != nil {
			return nil, err
		}
		excludeJobID = job.ID
		if duration == 0 {
			duration = job.DurationMinutes
		}
		if preferred.IsZero() {
			preferred = job.ScheduledAt
		}
		if workerID == "" {
			workerID = job.WorkerID
		}
	}
	if duration <= 0 {
		return nil, validationf("duration_minutes must be positive")
	}

	searchDays := p.SearchDays
	if searchDays == 0 {
		searchDays = defaultSearchDays
	}
	if searchDays < minSearchDays || searchDays > maxSearchDays {
		return nil, validationf("search_days must be between %d and %d, got %d", minSearchDays, maxSearchDays, searchDays)
	}

	rangeStart := p.RangeStart
	if rangeStart.IsZero() {
		rangeStart = now
	}
	if rangeStart.Before(now) {
		rangeStart = now
	}
	if !p.RangeEnd.IsZero() {
		if days := int(p.RangeEnd.Sub(availability.DayOf(rangeStart, loc)).Hours()/24) + 1; days < searchDays {
			if days < minSearchDays {
				return nil, validationf("end_date must be after start_date")
			}
			searchDays = days
		}
	}
	anchor := preferred
	if anchor.IsZero() {
		anchor = rangeStart
	}

	workers, err := o.resolveWorkerSet(ctx, p.BusinessID, workerID, p.AllWorkers)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, validationf("no active workers to analyze")
	}

	data, err := o.prefetchWorkers(ctx, workers, rangeStart, searchDays, anchor, loc, excludeJobID)
	if err != nil {
		return nil, err
	}

	analysis := o.analyzeWorkers(data, anchor, duration, loc, excludeJobID)
	timeSlots, days := o.scanTimes(data, rangeStart, searchDays, duration, now, p.RangeEnd, loc, excludeJobID)
	ranked := o.ranker.SortTimeSlots(timeSlots)

	// Per-slot available sets do the filtering inside Combine, so a worker
	// busy at the anchor time is still eligible for other times.
	var allOptions []suggest.WorkerOption
	allOptions = append(allOptions, analysis.Available...)
	allOptions = append(allOptions, analysis.Unavailable...)
	combos := o.ranker.Combine(ranked, allOptions)

	return &Suggestions{
		WorkerAnalysis:       analysis,
		TimeAlternatives:     ranked,
		OptimalCombinations:  combos,
		DayAnalysis:          days,
		SmartRecommendations: o.recommendations(analysis, ranked, combos, searchDays),
	}, nil
}

func (o *Orchestrator) resolveWorkerSet(ctx context.Context, businessID, workerID string, allWorkers bool) ([]model.Worker, error) {
	if allWorkers || workerID == "" {
		return o.store.ActiveWorkers(ctx, businessID)
	}
	w, err := o.store.GetWorker(ctx, businessID, workerID)
	if err != nil {
		return nil, err
	}
	if w.Status != model.WorkerActive {
		return nil, validationf("worker %s is not active", workerID)
	}
	return []model.Worker{w}, nil
}

func (o *Orchestrator) prefetchWorkers(ctx context.Context, workers []model.Worker, rangeStart time.Time, searchDays int, anchor time.Time, loc *time.Location, excludeJobID string) ([]workerData, error) {
	firstDay := availability.DayOf(rangeStart, loc)
	rangeEnd := firstDay.AddDate(0, 0, searchDays)

	branches := fanOut(ctx, workers, o.cfg.FanOutLimit, func(ctx context.Context, w model.Worker) (workerData, error) {
		slots, err := o.store.WeeklySlots(ctx, w.ID)
		if err != nil {
			return workerData{}, err
		}
		exceptions, err := o.store.Exceptions(ctx, w.ID, firstDay, rangeEnd)
		if err != nil {
			return workerData{}, err
		}
		jobs, err := o.store.OverlappingJobs(ctx, w.ID, firstDay, rangeEnd, excludeJobID)
		if err != nil {
			return workerData{}, err
		}
		utilization, tier, err := o.workerUtilization(ctx, w.ID, anchor, loc)
		if err != nil {
			return workerData{}, err
		}
		return workerData{
			worker:      w,
			slots:       slots,
			exceptions:  exceptions,
			jobs:        jobs,
			utilization: utilization,
			tier:        tier,
		}, nil
	})

	var data []workerData
	var firstErr error
	failed := 0
	for _, b := range branches {
		if b.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = b.Err
			}
			o.logger.Error("worker prefetch failed", "worker_id", b.Worker.ID, "err", b.Err)
			continue
		}
		data = append(data, b.Value)
	}
	if failed > 0 && failed == len(workers) {
		return nil, fmt.Errorf("schedule prefetch failed for every worker: %w", firstErr)
	}
	return data, nil
}

func (o *Orchestrator) workerUtilization(ctx context.Context, workerID string, anchor time.Time, loc *time.Location) (int, availability.Tier, error) {
	weekStart, weekEnd := availability.WeekBounds(anchor, loc)
	weekJobs, err := o.store.JobsInWeek(ctx, workerID, weekStart, weekEnd)
	if err != nil {
		return 0, "", fmt.Errorf("week jobs for worker %s: %w", workerID, err)
	}
	slots, err := o.store.WeeklySlots(ctx, workerID)
	if err != nil {
		return 0, "", fmt.Errorf("weekly slots for worker %s: %w", workerID, err)
	}
	pct := availability.Utilization(availability.BookedMinutes(weekJobs), availability.WeeklyCapacityMinutes(slots))
	return pct, availability.TierFor(pct), nil
}

// analyzeWorkers evaluates every worker at the fixed target time.
func (o *Orchestrator) analyzeWorkers(data []workerData, at time.Time, durationMinutes int, loc *time.Location, excludeJobID string) WorkerAnalysis {
	options := make([]suggest.WorkerOption, 0, len(data))
	day := availability.DayOf(at, loc)
	for _, wd := range data {
		sched := availability.ResolveDay(day, wd.slots, wd.exceptions)
		res := availability.CheckAgainst(sched, wd.jobs, at, durationMinutes, loc, excludeJobID)
		options = append(options, suggest.WorkerOption{
			Worker:      wd.worker,
			Utilization: wd.utilization,
			Tier:        wd.tier,
			Available:   res.Available,
			Reason:      res.Reason,
		})
	}
	available, unavailable := suggest.RankWorkers(options)
	return WorkerAnalysis{At: at, Available: available, Unavailable: unavailable}
}

// scanTimes probes each canonical time on each day of the range and scores
// it, also accumulating the per-day summaries.
func (o *Orchestrator) scanTimes(data []workerData, rangeStart time.Time, searchDays, durationMinutes int, now, rangeEnd time.Time, loc *time.Location, excludeJobID string) ([]suggest.TimeSlot, []DaySummary) {
	firstDay := availability.DayOf(rangeStart, loc)

	var slots []suggest.TimeSlot
	var days []DaySummary

	for dayOffset := 0; dayOffset < searchDays; dayOffset++ {
		date := firstDay.AddDate(0, 0, dayOffset)

		availableToday := map[string]bool{}
		openMinutes := 0
		bestScore := 0.0
		scanned := false

		schedules := make([]availability.DaySchedule, len(data))
		for i, wd := range data {
			schedules[i] = availability.ResolveDay(date, wd.slots, wd.exceptions)
			openMinutes += schedules[i].OpenMinutes()
		}

		for _, ct := range o.ranker.CanonicalTimes() {
			start := availability.InstantAt(date, ct.Minute, loc)
			if !start.After(now) {
				continue
			}
			if !rangeEnd.IsZero() && start.Add(time.Duration(durationMinutes)*time.Minute).After(rangeEnd) {
				continue
			}
			scanned = true

			slot := suggest.TimeSlot{Start: start, Label: ct.Label, TotalWorkers: len(data)}
			for i, wd := range data {
				res := availability.CheckAgainst(schedules[i], wd.jobs, start, durationMinutes, loc, excludeJobID)
				if res.Available {
					slot.AvailableCount++
					slot.AvailableIDs = append(slot.AvailableIDs, wd.worker.ID)
					availableToday[wd.worker.ID] = true
					if wd.tier == availability.TierOptimal {
						slot.OptimalCount++
					}
				} else if len(res.Conflicts) > 0 {
					slot.ConflictCount++
				}
			}
			o.ranker.ScoreTime(&slot, loc)
			if slot.Score > bestScore {
				bestScore = slot.Score
			}
			slots = append(slots, slot)
		}

		if scanned {
			days = append(days, DaySummary{
				Date:             date.Format(time.DateOnly),
				Weekday:          date.Weekday().String(),
				AvailableWorkers: len(availableToday),
				OpenMinutes:      openMinutes,
				BestScore:        bestScore,
			})
		}
	}
	return slots, days
}

func (o *Orchestrator) recommendations(analysis WorkerAnalysis, times []suggest.TimeSlot, combos []suggest.Combination, searchDays int) []string {
	var recs []string

	if len(analysis.Available) > 0 {
		least := analysis.Available[0]
		recs = append(recs, fmt.Sprintf("%s has the most open schedule this week (%d%% utilized)", least.Worker.Name, least.Utilization))
		if len(analysis.Available) > 1 {
			recs = append(recs, fmt.Sprintf("The requested time works for %d workers", len(analysis.Available)))
		}
	} else if len(analysis.Unavailable) > 0 {
		recs = append(recs, "No worker is free at the requested time; see the ranked alternatives")
	}

	if len(times) > 0 && times[0].Score > 0 {
		label := times[0].Label
		if label == "" {
			label = times[0].Start.Format("15:04")
		}
		recs = append(recs, fmt.Sprintf("%s on %s scores highest (%.0f/100)", label, times[0].Start.Format("Mon Jan 2"), times[0].Score))
	}

	if len(combos) == 0 {
		recs = append(recs, fmt.Sprintf("No strong alternatives within %d days; consider widening the search window", searchDays))
	}
	return recs
}

// --- manual reschedule ---

type ManualParams struct {
	JobID        string
	NewStart     time.Time
	NewWorkerID  string
	Reason       string
	NotifyClient bool
}

type Outcome struct {
	Job            model.Job
	Worker         model.Worker
	ClientNotified bool
}

// ManualReschedule validates, conflict-checks, and applies the one write.
// The store re-runs the overlap check inside the transaction, so a slot
// taken between this check and the commit is rejected, not double-booked.
func (o *Orchestrator) ManualReschedule(ctx context.Context, businessID string, p ManualParams) (*Outcome, error) {
	if p.JobID == "" {
		return nil, validationf("job_id is required")
	}
	if p.NewStart.IsZero() {
		return nil, validationf("new_date_time is required")
	}
	if !p.NewStart.After(o.clock.Now()) {
		return nil, validationf("new_date_time must be in the future")
	}

	job, err := o.store.GetJob(ctx, businessID, p.JobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.ConflictRelevant() {
		return nil, validationf("job in status %s cannot be rescheduled", job.Status)
	}

	loc, err := o.store.BusinessLocation(ctx, businessID)
	if err != nil {
		return nil, err
	}

	workerID := job.WorkerID
	if p.NewWorkerID != "" {
		workerID = p.NewWorkerID
	}
	worker, err := o.store.GetWorker(ctx, businessID, workerID)
	if err != nil {
		return nil, err
	}
	if worker.Status != model.WorkerActive {
		return nil, &ConflictError{Reason: fmt.Sprintf("worker %s is not active", worker.Name)}
	}

	res, err := o.checker.Check(ctx, workerID, p.NewStart, job.DurationMinutes, loc, job.ID)
	if err != nil {
		return nil, err
	}
	if !res.Available {
		return nil, conflictFromCheck(res)
	}

	updated, notified, err := o.store.ApplyReschedule(ctx, RescheduleCommand{
		BusinessID:   businessID,
		JobID:        job.ID,
		WorkerID:     workerID,
		NewStart:     p.NewStart,
		Reason:       p.Reason,
		NotifyClient: p.NotifyClient,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("job rescheduled",
		"job_id", job.ID,
		"worker_id", workerID,
		"from", job.ScheduledAt,
		"to", p.NewStart,
		"client_notified", notified,
	)
	return &Outcome{Job: updated, Worker: worker, ClientNotified: notified}, nil
}

func conflictFromCheck(res availability.CheckResult) *ConflictError {
	ce := &ConflictError{Reason: res.Reason}
	for _, c := range res.Conflicts {
		title := c.Title
		if title == "" {
			title = c.ID
		}
		ce.Conflicts = append(ce.Conflicts, title)
	}
	return ce
}
