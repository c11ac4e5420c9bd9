// Package suggest ranks reschedule candidates: alternative workers for a
// fixed time, alternative times for a worker set, and optimal (worker, time)
// combinations. It is pure scoring math over inputs the orchestrator has
// already gathered; no I/O happens here.
package suggest

import (
	"fmt"
	"sort"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/availability"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// WorkerOption is one worker's verdict at the target time, enriched with the
// worker's current-week utilization.
type WorkerOption struct {
	Worker      model.Worker
	Utilization int
	Tier        availability.Tier
	Available   bool
	Reason      string // why unavailable; empty when available
}

// TimeSlot is one probed candidate time with worker availability counts.
type TimeSlot struct {
	Start          time.Time
	Label          string
	AvailableIDs   []string
	AvailableCount int
	OptimalCount   int // available workers in the optimal tier
	ConflictCount  int // workers blocked by a booking (not by schedule)
	TotalWorkers   int
	Score          float64
}

// Combination is a ranked (worker, time) pair.
type Combination struct {
	WorkerID          string
	WorkerName        string
	Start             time.Time
	TimeScore         float64
	WorkerUtilization int
	Score             float64
	Reason            string
}

type Ranker struct {
	cfg Config
}

func NewRanker(cfg Config) *Ranker {
	if len(cfg.CanonicalTimes) == 0 {
		cfg.CanonicalTimes = DefaultCanonicalTimes()
	}
	if cfg.MaxTimeAlternatives <= 0 {
		cfg.MaxTimeAlternatives = DefaultConfig().MaxTimeAlternatives
	}
	if cfg.MaxCombinations <= 0 {
		cfg.MaxCombinations = DefaultConfig().MaxCombinations
	}
	return &Ranker{cfg: cfg}
}

func (r *Ranker) CanonicalTimes() []CanonicalTime { return r.cfg.CanonicalTimes }

// RankWorkers partitions the options and orders the available ones by
// ascending utilization, least busy first. Unavailable workers keep their
// diagnostic reason and are ordered by name for stable output.
func RankWorkers(options []WorkerOption) (available, unavailable []WorkerOption) {
	for _, opt := range options {
		if opt.Available {
			available = append(available, opt)
		} else {
			unavailable = append(unavailable, opt)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		if available[i].Utilization != available[j].Utilization {
			return available[i].Utilization < available[j].Utilization
		}
		return available[i].Worker.Name < available[j].Worker.Name
	})
	sort.SliceStable(unavailable, func(i, j int) bool {
		return unavailable[i].Worker.Name < unavailable[j].Worker.Name
	})
	return available, unavailable
}

// ScoreTime fills in slot.Score from its counts and time of day.
func (r *Ranker) ScoreTime(slot *TimeSlot, loc *time.Location) {
	if slot.TotalWorkers == 0 {
		slot.Score = 0
		return
	}
	w := r.cfg.Weights
	total := float64(slot.TotalWorkers)

	score := w.AvailabilityWeight * float64(slot.AvailableCount) / total
	if slot.AvailableCount > 0 {
		score += w.OptimalWorkerWeight * float64(slot.OptimalCount) / float64(slot.AvailableCount)
	}
	score += r.TimeOfDayBonus(availability.MinuteOfDay(slot.Start, loc))
	score -= w.ConflictPenalty * float64(slot.ConflictCount) / total

	slot.Score = clamp(score, 0, 100)
}

// TimeOfDayBonus favours mornings over afternoons over everything else.
func (r *Ranker) TimeOfDayBonus(minuteOfDay int) float64 {
	switch {
	case minuteOfDay < noon:
		return r.cfg.Weights.MorningBonus
	case minuteOfDay < lateAfternoonStart:
		return r.cfg.Weights.AfternoonBonus
	default:
		return 0
	}
}

// SortTimeSlots orders by descending score, earlier start breaking ties, and
// truncates to the configured cap.
func (r *Ranker) SortTimeSlots(slots []TimeSlot) []TimeSlot {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slots[i].Start.Before(slots[j].Start)
	})
	if len(slots) > r.cfg.MaxTimeAlternatives {
		slots = slots[:r.cfg.MaxTimeAlternatives]
	}
	return slots
}

// Combine cross-joins available workers with scored times, keeping pairs
// where the worker is in that time's available set, and returns the top
// combinations.
func (r *Ranker) Combine(times []TimeSlot, available []WorkerOption) []Combination {
	w := r.cfg.Weights

	byID := make(map[string]WorkerOption, len(available))
	for _, opt := range available {
		byID[opt.Worker.ID] = opt
	}

	var combos []Combination
	for _, slot := range times {
		for _, id := range slot.AvailableIDs {
			opt, ok := byID[id]
			if !ok {
				continue
			}
			score := w.TimeScoreWeight*slot.Score + w.WorkerScoreWeight*float64(100-opt.Utilization)
			if opt.Tier == availability.TierOptimal {
				score += w.OptimalTierBonus
			}
			combos = append(combos, Combination{
				WorkerID:          opt.Worker.ID,
				WorkerName:        opt.Worker.Name,
				Start:             slot.Start,
				TimeScore:         slot.Score,
				WorkerUtilization: opt.Utilization,
				Score:             score,
				Reason:            combinationReason(slot, opt),
			})
		}
	}

	sort.SliceStable(combos, func(i, j int) bool {
		if combos[i].Score != combos[j].Score {
			return combos[i].Score > combos[j].Score
		}
		return combos[i].Start.Before(combos[j].Start)
	})
	if len(combos) > r.cfg.MaxCombinations {
		combos = combos[:r.cfg.MaxCombinations]
	}
	return combos
}

func combinationReason(slot TimeSlot, opt WorkerOption) string {
	label := slot.Label
	if label == "" {
		label = slot.Start.Format("15:04")
	}
	return fmt.Sprintf("%s slot; %s at %d%% utilization (%s)", label, opt.Worker.Name, opt.Utilization, opt.Tier)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
