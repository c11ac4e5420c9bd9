package reschedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/crewsched/crewsched/libs/clockx"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// monday is 2026-01-05, a real Monday.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

const bizID = "biz-1"

// memStore is an in-memory Store mimicking the SQL repository's filtering.
type memStore struct {
	loc        *time.Location
	workers    []model.Worker
	jobs       []model.Job
	slots      []model.WeeklySlot
	exceptions []model.Exception
	clients    []model.Client

	failWorkers map[string]error // per-worker read failures
	applied     []RescheduleCommand
	applyErr    error
}

func (s *memStore) BusinessLocation(_ context.Context, businessID string) (*time.Location, error) {
	if businessID != bizID {
		return nil, &NotFoundError{Resource: "business", ID: businessID}
	}
	if s.loc != nil {
		return s.loc, nil
	}
	return time.UTC, nil
}

func (s *memStore) GetJob(_ context.Context, _, jobID string) (model.Job, error) {
	for _, j := range s.jobs {
		if j.ID == jobID {
			return j, nil
		}
	}
	return model.Job{}, &NotFoundError{Resource: "job", ID: jobID}
}

func (s *memStore) GetClient(_ context.Context, _, clientID string) (model.Client, error) {
	for _, c := range s.clients {
		if c.ID == clientID {
			return c, nil
		}
	}
	return model.Client{}, &NotFoundError{Resource: "client", ID: clientID}
}

func (s *memStore) GetWorker(_ context.Context, _, workerID string) (model.Worker, error) {
	for _, w := range s.workers {
		if w.ID == workerID {
			return w, nil
		}
	}
	return model.Worker{}, &NotFoundError{Resource: "worker", ID: workerID}
}

func (s *memStore) ActiveWorkers(_ context.Context, _ string) ([]model.Worker, error) {
	var out []model.Worker
	for _, w := range s.workers {
		if w.Status == model.WorkerActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *memStore) WeeklySlots(_ context.Context, workerID string) ([]model.WeeklySlot, error) {
	if err := s.failWorkers[workerID]; err != nil {
		return nil, err
	}
	var out []model.WeeklySlot
	for _, sl := range s.slots {
		if sl.WorkerID == workerID {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *memStore) Exceptions(_ context.Context, workerID string, _, _ time.Time) ([]model.Exception, error) {
	var out []model.Exception
	for _, e := range s.exceptions {
		if e.WorkerID == workerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) OverlappingJobs(_ context.Context, workerID string, start, end time.Time, excludeJobID string) ([]model.Job, error) {
	if err := s.failWorkers[workerID]; err != nil {
		return nil, err
	}
	var out []model.Job
	for _, j := range s.jobs {
		if j.WorkerID != workerID || j.ID == excludeJobID || !j.Status.ConflictRelevant() {
			continue
		}
		if j.Overlaps(start, end) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) JobsInWeek(_ context.Context, workerID string, weekStart, weekEnd time.Time) ([]model.Job, error) {
	var out []model.Job
	for _, j := range s.jobs {
		if j.WorkerID == workerID && !j.ScheduledAt.Before(weekStart) && j.ScheduledAt.Before(weekEnd) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) ApplyReschedule(_ context.Context, cmd RescheduleCommand) (model.Job, bool, error) {
	if s.applyErr != nil {
		return model.Job{}, false, s.applyErr
	}
	s.applied = append(s.applied, cmd)
	for i, j := range s.jobs {
		if j.ID == cmd.JobID {
			j.ScheduledAt = cmd.NewStart
			j.WorkerID = cmd.WorkerID
			j.Status = model.JobRescheduled
			s.jobs[i] = j
			return j, cmd.NotifyClient && s.hasClient(j.ClientID), nil
		}
	}
	return model.Job{}, false, &NotFoundError{Resource: "job", ID: cmd.JobID}
}

func (s *memStore) hasClient(clientID string) bool {
	for _, c := range s.clients {
		if c.ID == clientID {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newOrchestrator(store *memStore, now time.Time) *Orchestrator {
	return New(store, clockx.Fixed{T: now}, testLogger(), DefaultConfig())
}

// weekdaySlots gives a worker 09:00-17:00 Monday through Friday.
func weekdaySlots(workerID string) []model.WeeklySlot {
	var out []model.WeeklySlot
	for dow := 1; dow <= 5; dow++ {
		out = append(out, model.WeeklySlot{
			ID:        fmt.Sprintf("%s-dow%d", workerID, dow),
			WorkerID:  workerID,
			DayOfWeek: dow,
			StartTime: "09:00",
			EndTime:   "17:00",
		})
	}
	return out
}

func jobAt(id, workerID string, start time.Time, minutes int, status model.JobStatus) model.Job {
	return model.Job{
		ID:              id,
		BusinessID:      bizID,
		WorkerID:        workerID,
		ClientID:        "client-1",
		Title:           "Job " + id,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Status:          status,
	}
}

func baseStore() *memStore {
	s := &memStore{
		workers: []model.Worker{
			{ID: "w1", BusinessID: bizID, Name: "Alice", Status: model.WorkerActive},
			{ID: "w2", BusinessID: bizID, Name: "Bob", Status: model.WorkerActive},
		},
		clients: []model.Client{
			{ID: "client-1", BusinessID: bizID, Name: "Carol", Email: "carol@example.com"},
		},
	}
	s.slots = append(s.slots, weekdaySlots("w1")...)
	s.slots = append(s.slots, weekdaySlots("w2")...)
	return s
}

func TestNextAvailable_SortedByStartThenUtilization(t *testing.T) {
	store := baseStore()
	// w1 is booked Monday 09:00-10:00; w2 is free.
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
	}
	now := monday.Add(8 * time.Hour)
	o := newOrchestrator(store, now)

	slots, err := o.NextAvailable(context.Background(), bizID, "", 60, now, 14)
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if slots[0].WorkerID != "w2" {
		t.Fatalf("first slot worker = %s, want w2", slots[0].WorkerID)
	}
	if want := monday.Add(9 * time.Hour); !slots[0].Start.Equal(want) {
		t.Fatalf("w2 start = %v, want %v", slots[0].Start, want)
	}
	if want := monday.Add(10 * time.Hour); !slots[1].Start.Equal(want) {
		t.Fatalf("w1 start = %v, want %v", slots[1].Start, want)
	}
}

func TestNextAvailable_ReadOnlyAndIdempotent(t *testing.T) {
	store := baseStore()
	now := monday.Add(8 * time.Hour)
	o := newOrchestrator(store, now)

	first, err := o.NextAvailable(context.Background(), bizID, "", 30, now, 14)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := o.NextAvailable(context.Background(), bizID, "", 30, now, 14)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(store.applied) != 0 {
		t.Fatalf("next-available wrote %d commands, want 0", len(store.applied))
	}
	if len(first) != len(second) {
		t.Fatalf("results differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) || first[i].WorkerID != second[i].WorkerID {
			t.Fatalf("result %d changed between calls: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestNextAvailable_BranchErrorIsolated(t *testing.T) {
	store := baseStore()
	store.failWorkers = map[string]error{"w1": errors.New("connection reset")}
	now := monday.Add(8 * time.Hour)
	o := newOrchestrator(store, now)

	slots, err := o.NextAvailable(context.Background(), bizID, "", 60, now, 14)
	if err != nil {
		t.Fatalf("one failed branch should not fail the call: %v", err)
	}
	if len(slots) != 1 || slots[0].WorkerID != "w2" {
		t.Fatalf("got %+v, want only w2", slots)
	}
}

func TestNextAvailable_AllBranchesFailed(t *testing.T) {
	store := baseStore()
	store.failWorkers = map[string]error{
		"w1": errors.New("connection reset"),
		"w2": errors.New("connection reset"),
	}
	now := monday.Add(8 * time.Hour)
	o := newOrchestrator(store, now)

	if _, err := o.NextAvailable(context.Background(), bizID, "", 60, now, 14); err == nil {
		t.Fatal("want error when every worker lookup fails")
	}
}

func TestNextAvailable_Validation(t *testing.T) {
	o := newOrchestrator(baseStore(), monday)
	if _, err := o.NextAvailable(context.Background(), bizID, "", 0, monday, 14); !IsValidation(err) {
		t.Fatalf("zero duration: got %v, want validation error", err)
	}
	if _, err := o.NextAvailable(context.Background(), bizID, "", 60, monday, 99); !IsValidation(err) {
		t.Fatalf("out-of-range limit: got %v, want validation error", err)
	}
}

func TestSuggest_WorkerAnalysisAndAlternatives(t *testing.T) {
	store := baseStore()
	target := monday.Add(9 * time.Hour)
	// w1 is busy at the target; w2 is free and less utilized.
	store.jobs = []model.Job{
		jobAt("j1", "w1", target, 120, model.JobScheduled),
	}
	now := monday.Add(7 * time.Hour)
	o := newOrchestrator(store, now)

	sugg, err := o.Suggest(context.Background(), SuggestParams{
		BusinessID:      bizID,
		PreferredStart:  target,
		DurationMinutes: 60,
		SearchDays:      7,
		AllWorkers:      true,
	})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	if len(sugg.WorkerAnalysis.Available) != 1 || sugg.WorkerAnalysis.Available[0].Worker.ID != "w2" {
		t.Fatalf("available = %+v, want only w2", sugg.WorkerAnalysis.Available)
	}
	if len(sugg.WorkerAnalysis.Unavailable) != 1 || sugg.WorkerAnalysis.Unavailable[0].Worker.ID != "w1" {
		t.Fatalf("unavailable = %+v, want only w1", sugg.WorkerAnalysis.Unavailable)
	}
	if len(sugg.WorkerAnalysis.Unavailable[0].Reason) == 0 {
		t.Fatal("unavailable worker should carry a reason")
	}

	if len(sugg.TimeAlternatives) == 0 {
		t.Fatal("want scored time alternatives")
	}
	if len(sugg.TimeAlternatives) > DefaultConfig().Suggest.MaxTimeAlternatives {
		t.Fatalf("got %d time alternatives, want at most %d",
			len(sugg.TimeAlternatives), DefaultConfig().Suggest.MaxTimeAlternatives)
	}
	for i := 1; i < len(sugg.TimeAlternatives); i++ {
		if sugg.TimeAlternatives[i].Score > sugg.TimeAlternatives[i-1].Score {
			t.Fatalf("time alternatives not sorted by score at %d", i)
		}
	}

	if len(sugg.OptimalCombinations) == 0 {
		t.Fatal("want combinations")
	}
	if len(sugg.OptimalCombinations) > DefaultConfig().Suggest.MaxCombinations {
		t.Fatalf("got %d combinations, want at most %d",
			len(sugg.OptimalCombinations), DefaultConfig().Suggest.MaxCombinations)
	}

	if len(sugg.DayAnalysis) == 0 {
		t.Fatal("want day analysis rows")
	}
	if sugg.DayAnalysis[0].Date != "2026-01-05" || sugg.DayAnalysis[0].Weekday != "Monday" {
		t.Fatalf("first day = %+v, want Monday 2026-01-05", sugg.DayAnalysis[0])
	}

	if len(sugg.SmartRecommendations) == 0 {
		t.Fatal("want recommendations")
	}
}

func TestSuggest_BusyWorkerStillEligibleAtOtherTimes(t *testing.T) {
	store := baseStore()
	target := monday.Add(9 * time.Hour)
	// w1 busy all of Monday morning, free the rest of the week.
	store.jobs = []model.Job{
		jobAt("j1", "w1", target, 180, model.JobScheduled),
	}
	now := monday.Add(7 * time.Hour)
	o := newOrchestrator(store, now)

	sugg, err := o.Suggest(context.Background(), SuggestParams{
		BusinessID:      bizID,
		PreferredStart:  target,
		DurationMinutes: 60,
		SearchDays:      7,
		AllWorkers:      true,
	})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	found := false
	for _, c := range sugg.OptimalCombinations {
		if c.WorkerID == "w1" {
			found = true
			if c.Start.Equal(target) {
				t.Fatalf("w1 offered at its own conflict time %v", c.Start)
			}
		}
	}
	if !found {
		t.Fatal("w1 should appear in combinations at times it is free")
	}
}

func TestGenerateOptions_MapsCombinations(t *testing.T) {
	store := baseStore()
	jobStart := monday.Add(9 * time.Hour)
	store.jobs = []model.Job{
		jobAt("j1", "w1", jobStart, 60, model.JobScheduled),
	}
	now := monday.Add(7 * time.Hour)
	o := newOrchestrator(store, now)

	opts, err := o.GenerateOptions(context.Background(), bizID, "j1", 7)
	if err != nil {
		t.Fatalf("GenerateOptions: %v", err)
	}
	if opts.Job.ID != "j1" {
		t.Fatalf("job = %s, want j1", opts.Job.ID)
	}
	if opts.Client.ID != "client-1" {
		t.Fatalf("client = %s, want client-1", opts.Client.ID)
	}
	if len(opts.Options) == 0 {
		t.Fatal("want reschedule options")
	}
	for _, op := range opts.Options {
		if op.WorkerID == "" || op.SuggestedDate.IsZero() {
			t.Fatalf("incomplete option %+v", op)
		}
		if op.ConfidenceScore < 0 || op.ConfidenceScore > 110 {
			t.Fatalf("confidence %v out of range", op.ConfidenceScore)
		}
	}
	if !opts.GeneratedAt.Equal(now.UTC()) {
		t.Fatalf("generated_at = %v, want %v", opts.GeneratedAt, now.UTC())
	}
}

func TestGenerateOptions_Validation(t *testing.T) {
	store := baseStore()
	store.jobs = []model.Job{jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled)}
	o := newOrchestrator(store, monday)

	if _, err := o.GenerateOptions(context.Background(), bizID, "j1", 45); !IsValidation(err) {
		t.Fatalf("days_ahead=45: got %v, want validation error", err)
	}
	if _, err := o.GenerateOptions(context.Background(), bizID, "missing", 7); !IsNotFound(err) {
		t.Fatalf("missing job: got %v, want not found", err)
	}
}

func TestManualReschedule_Success(t *testing.T) {
	store := baseStore()
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
	}
	now := monday.Add(7 * time.Hour)
	o := newOrchestrator(store, now)

	newStart := monday.Add(14 * time.Hour)
	out, err := o.ManualReschedule(context.Background(), bizID, ManualParams{
		JobID:        "j1",
		NewStart:     newStart,
		Reason:       "client request",
		NotifyClient: true,
	})
	if err != nil {
		t.Fatalf("ManualReschedule: %v", err)
	}
	if !out.Job.ScheduledAt.Equal(newStart) {
		t.Fatalf("scheduled_at = %v, want %v", out.Job.ScheduledAt, newStart)
	}
	if out.Worker.ID != "w1" {
		t.Fatalf("worker = %s, want w1 (unchanged)", out.Worker.ID)
	}
	if !out.ClientNotified {
		t.Fatal("want client notified")
	}
	if len(store.applied) != 1 {
		t.Fatalf("applied %d commands, want 1", len(store.applied))
	}
	cmd := store.applied[0]
	if !cmd.NotifyClient || cmd.Reason != "client request" || cmd.WorkerID != "w1" {
		t.Fatalf("command %+v not carried through", cmd)
	}
}

func TestManualReschedule_MissingClientNotNotified(t *testing.T) {
	store := baseStore()
	store.clients = nil
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
	}
	o := newOrchestrator(store, monday.Add(7*time.Hour))

	out, err := o.ManualReschedule(context.Background(), bizID, ManualParams{
		JobID:        "j1",
		NewStart:     monday.Add(14 * time.Hour),
		NotifyClient: true,
	})
	if err != nil {
		t.Fatalf("ManualReschedule: %v", err)
	}
	if out.ClientNotified {
		t.Fatal("ClientNotified must report the actual outcome, not the request flag")
	}
	if !out.Job.ScheduledAt.Equal(monday.Add(14 * time.Hour)) {
		t.Fatal("reschedule itself must still apply")
	}
}

func TestManualReschedule_WorkerChange(t *testing.T) {
	store := baseStore()
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
	}
	o := newOrchestrator(store, monday.Add(7*time.Hour))

	out, err := o.ManualReschedule(context.Background(), bizID, ManualParams{
		JobID:       "j1",
		NewStart:    monday.Add(10 * time.Hour),
		NewWorkerID: "w2",
	})
	if err != nil {
		t.Fatalf("ManualReschedule: %v", err)
	}
	if out.Worker.ID != "w2" || out.Job.WorkerID != "w2" {
		t.Fatalf("job not moved to w2: %+v", out)
	}
}

func TestManualReschedule_ConflictLeavesJobUnchanged(t *testing.T) {
	store := baseStore()
	origStart := monday.Add(9 * time.Hour)
	store.jobs = []model.Job{
		jobAt("j1", "w1", origStart, 60, model.JobScheduled),
		jobAt("j2", "w1", monday.Add(14*time.Hour), 60, model.JobScheduled),
	}
	o := newOrchestrator(store, monday.Add(7*time.Hour))

	_, err := o.ManualReschedule(context.Background(), bizID, ManualParams{
		JobID:    "j1",
		NewStart: monday.Add(14*time.Hour + 30*time.Minute),
	})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want conflict error", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0] != "Job j2" {
		t.Fatalf("conflicts = %v, want [Job j2]", ce.Conflicts)
	}
	if len(store.applied) != 0 {
		t.Fatal("conflicting reschedule must not reach the store")
	}
	j, _ := store.GetJob(context.Background(), bizID, "j1")
	if !j.ScheduledAt.Equal(origStart) {
		t.Fatalf("job moved to %v despite conflict", j.ScheduledAt)
	}
}

func TestManualReschedule_OutsideHoursRejected(t *testing.T) {
	store := baseStore()
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
	}
	o := newOrchestrator(store, monday.Add(7*time.Hour))

	_, err := o.ManualReschedule(context.Background(), bizID, ManualParams{
		JobID:    "j1",
		NewStart: monday.Add(20 * time.Hour), // after 17:00 close
	})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want conflict error", err)
	}
	if ce.Reason != "Outside available hours" {
		t.Fatalf("reason = %q", ce.Reason)
	}
}

func TestManualReschedule_Validation(t *testing.T) {
	store := baseStore()
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
		jobAt("j2", "w1", monday.Add(11*time.Hour), 60, model.JobCancelled),
	}
	now := monday.Add(7 * time.Hour)
	o := newOrchestrator(store, now)
	future := monday.Add(10 * time.Hour)

	cases := []struct {
		name string
		p    ManualParams
	}{
		{"missing job id", ManualParams{NewStart: future}},
		{"missing start", ManualParams{JobID: "j1"}},
		{"past start", ManualParams{JobID: "j1", NewStart: now.Add(-time.Hour)}},
		{"cancelled job", ManualParams{JobID: "j2", NewStart: future}},
	}
	for _, tc := range cases {
		if _, err := o.ManualReschedule(context.Background(), bizID, tc.p); !IsValidation(err) {
			t.Fatalf("%s: got %v, want validation error", tc.name, err)
		}
	}

	if _, err := o.ManualReschedule(context.Background(), bizID, ManualParams{JobID: "nope", NewStart: future}); !IsNotFound(err) {
		t.Fatalf("missing job: got %v, want not found", err)
	}
}

func TestManualReschedule_InactiveWorker(t *testing.T) {
	store := baseStore()
	store.workers = append(store.workers, model.Worker{ID: "w3", BusinessID: bizID, Name: "Dora", Status: model.WorkerInactive})
	store.jobs = []model.Job{
		jobAt("j1", "w1", monday.Add(9*time.Hour), 60, model.JobScheduled),
	}
	o := newOrchestrator(store, monday.Add(7*time.Hour))

	_, err := o.ManualReschedule(context.Background(), bizID, ManualParams{
		JobID:       "j1",
		NewStart:    monday.Add(10 * time.Hour),
		NewWorkerID: "w3",
	})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want conflict error for inactive worker", err)
	}
}

func TestFanOut_PreservesOrderAndErrors(t *testing.T) {
	workers := []model.Worker{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	branches := fanOut(context.Background(), workers, 2, func(_ context.Context, w model.Worker) (string, error) {
		if w.ID == "b" {
			return "", errors.New("boom")
		}
		return "ok-" + w.ID, nil
	})
	if len(branches) != 3 {
		t.Fatalf("got %d branches, want 3", len(branches))
	}
	if branches[0].Value != "ok-a" || branches[2].Value != "ok-c" {
		t.Fatalf("order not preserved: %+v", branches)
	}
	if branches[1].Err == nil {
		t.Fatal("branch b should carry its error")
	}
}
