package suggest

// Weights are the scoring constants. They encode business judgment ("mornings
// are better") rather than domain law, so they are configuration, not
// literals in the math.
type Weights struct {
	// Time-alternative score terms.
	AvailabilityWeight  float64 // scales availableWorkers / totalWorkers
	OptimalWorkerWeight float64 // scales optimal-tier share of available workers
	ConflictPenalty     float64 // scales conflictingWorkers / totalWorkers
	MorningBonus        float64 // starts before noon
	AfternoonBonus      float64 // starts between noon and late afternoon

	// Combination score terms.
	TimeScoreWeight   float64 // weight of the time score
	WorkerScoreWeight float64 // weight of (100 - utilization)
	OptimalTierBonus  float64 // flat bonus for optimal-tier workers
}

func DefaultWeights() Weights {
	return Weights{
		AvailabilityWeight:  50,
		OptimalWorkerWeight: 30,
		ConflictPenalty:     20,
		MorningBonus:        20,
		AfternoonBonus:      10,
		TimeScoreWeight:     0.6,
		WorkerScoreWeight:   0.4,
		OptimalTierBonus:    10,
	}
}

// CanonicalTime is one of the few human-friendly start times probed per day.
type CanonicalTime struct {
	Label  string
	Minute int // minute of the business-local day
}

func DefaultCanonicalTimes() []CanonicalTime {
	return []CanonicalTime{
		{Label: "morning", Minute: 9 * 60},
		{Label: "afternoon", Minute: 13 * 60},
		{Label: "late_afternoon", Minute: 16 * 60},
	}
}

// Config bundles the ranker's tunables.
type Config struct {
	Weights             Weights
	CanonicalTimes      []CanonicalTime
	MaxTimeAlternatives int
	MaxCombinations     int
}

func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		CanonicalTimes:      DefaultCanonicalTimes(),
		MaxTimeAlternatives: 8,
		MaxCombinations:     5,
	}
}

// lateAfternoonStart separates the afternoon bonus band from "other".
const lateAfternoonStart = 16 * 60

const noon = 12 * 60
