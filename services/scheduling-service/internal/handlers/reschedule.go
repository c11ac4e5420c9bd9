// Package handlers exposes the reschedule engine over HTTP. The three
// analysis endpoints are read-only; /api/v1/jobs/reschedule is the single
// write. The business scope comes from the X-Business-Id header.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/reschedule"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/suggest"
)

// Service is what the handlers need from the orchestrator.
type Service interface {
	GenerateOptions(ctx context.Context, businessID, jobID string, daysAhead int) (*reschedule.Options, error)
	NextAvailable(ctx context.Context, businessID, jobID string, durationMinutes int, searchStart time.Time, daysLimit int) ([]reschedule.WorkerSlot, error)
	Suggest(ctx context.Context, p reschedule.SuggestParams) (*reschedule.Suggestions, error)
	ManualReschedule(ctx context.Context, businessID string, p reschedule.ManualParams) (*reschedule.Outcome, error)
}

type RescheduleHandler struct {
	svc    Service
	logger *slog.Logger
}

func NewRescheduleHandler(svc Service, logger *slog.Logger) *RescheduleHandler {
	return &RescheduleHandler{svc: svc, logger: logger}
}

func (h *RescheduleHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/reschedule/options", h.Options)
	mux.HandleFunc("POST /api/v1/reschedule/next-available", h.NextAvailable)
	mux.HandleFunc("POST /api/v1/reschedule/suggestions", h.Suggestions)
	mux.HandleFunc("POST /api/v1/jobs/reschedule", h.Reschedule)
}

func businessID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Business-Id"))
}

// --- options ---

type optionsRequest struct {
	JobID     string `json:"job_id"`
	DaysAhead int    `json:"days_ahead"`
}

type optionItem struct {
	SuggestedDate   string  `json:"suggested_date"`
	WorkerID        string  `json:"worker_id"`
	WorkerName      string  `json:"worker_name"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reason          string  `json:"reason"`
}

type optionsResponse struct {
	JobID       string       `json:"job_id"`
	JobTitle    string       `json:"job_title"`
	ClientName  string       `json:"client_name,omitempty"`
	Options     []optionItem `json:"options"`
	GeneratedAt string       `json:"generated_at"`
}

func (h *RescheduleHandler) Options(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r)
	if biz == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-Business-Id header required"})
		return
	}

	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "job_id required"})
		return
	}

	opts, err := h.svc.GenerateOptions(r.Context(), biz, req.JobID, req.DaysAhead)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	items := make([]optionItem, 0, len(opts.Options))
	for _, o := range opts.Options {
		items = append(items, optionItem{
			SuggestedDate:   o.SuggestedDate.UTC().Format(time.RFC3339),
			WorkerID:        o.WorkerID,
			WorkerName:      o.WorkerName,
			ConfidenceScore: o.ConfidenceScore,
			Reason:          o.Reason,
		})
	}
	writeJSON(w, http.StatusOK, optionsResponse{
		JobID:       opts.Job.ID,
		JobTitle:    opts.Job.Title,
		ClientName:  opts.Client.Name,
		Options:     items,
		GeneratedAt: opts.GeneratedAt.Format(time.RFC3339),
	})
}

// --- next-available ---

type nextAvailableRequest struct {
	JobID           string `json:"job_id"`
	DurationMinutes int    `json:"duration_minutes"`
	SearchStart     string `json:"search_start"`
	SearchDaysLimit int    `json:"search_days_limit"`
}

type workerSlotItem struct {
	WorkerID      string `json:"worker_id"`
	WorkerName    string `json:"worker_name"`
	NextAvailable string `json:"next_available"`
	Utilization   int    `json:"utilization"`
}

func (h *RescheduleHandler) NextAvailable(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r)
	if biz == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-Business-Id header required"})
		return
	}

	var req nextAvailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	var searchStart time.Time
	if s := strings.TrimSpace(req.SearchStart); s != "" {
		var err error
		searchStart, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid search_start"})
			return
		}
	}

	slots, err := h.svc.NextAvailable(r.Context(), biz, strings.TrimSpace(req.JobID), req.DurationMinutes, searchStart, req.SearchDaysLimit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	items := make([]workerSlotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, workerSlotItem{
			WorkerID:      s.WorkerID,
			WorkerName:    s.WorkerName,
			NextAvailable: s.Start.UTC().Format(time.RFC3339),
			Utilization:   s.Utilization,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": items})
}

// --- suggestions ---

type suggestionsRequest struct {
	JobID           string `json:"job_id"`
	WorkerID        string `json:"worker_id"`
	PreferredTime   string `json:"preferred_time"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	DurationMinutes int    `json:"duration_minutes"`
	SearchDays      int    `json:"search_days"`
	AllWorkers      bool   `json:"all_workers"`
}

type workerOptionItem struct {
	WorkerID    string `json:"worker_id"`
	WorkerName  string `json:"worker_name"`
	Utilization int    `json:"utilization"`
	Tier        string `json:"tier"`
	Available   bool   `json:"available"`
	Reason      string `json:"reason,omitempty"`
}

type timeSlotItem struct {
	StartTime        string  `json:"start_time"`
	Label            string  `json:"label,omitempty"`
	Score            float64 `json:"score"`
	AvailableWorkers int     `json:"available_workers"`
	TotalWorkers     int     `json:"total_workers"`
	ConflictCount    int     `json:"conflict_count"`
}

type combinationItem struct {
	WorkerID          string  `json:"worker_id"`
	WorkerName        string  `json:"worker_name"`
	StartTime         string  `json:"start_time"`
	Score             float64 `json:"score"`
	TimeScore         float64 `json:"time_score"`
	WorkerUtilization int     `json:"worker_utilization"`
	Reason            string  `json:"reason"`
}

type dayAnalysisItem struct {
	Date             string  `json:"date"`
	Weekday          string  `json:"weekday"`
	AvailableWorkers int     `json:"available_workers"`
	OpenMinutes      int     `json:"open_minutes"`
	BestScore        float64 `json:"best_score"`
}

type suggestionsResponse struct {
	WorkerAnalysis struct {
		At          string             `json:"at"`
		Available   []workerOptionItem `json:"available"`
		Unavailable []workerOptionItem `json:"unavailable"`
	} `json:"worker_analysis"`
	TimeAlternatives     []timeSlotItem    `json:"time_alternatives"`
	OptimalCombinations  []combinationItem `json:"optimal_combinations"`
	DayAnalysis          []dayAnalysisItem `json:"day_analysis"`
	SmartRecommendations []string          `json:"smart_recommendations"`
}

func (h *RescheduleHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r)
	if biz == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-Business-Id header required"})
		return
	}

	var req suggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	params := reschedule.SuggestParams{
		BusinessID:      biz,
		JobID:           strings.TrimSpace(req.JobID),
		WorkerID:        strings.TrimSpace(req.WorkerID),
		DurationMinutes: req.DurationMinutes,
		SearchDays:      req.SearchDays,
		AllWorkers:      req.AllWorkers,
	}
	if s := strings.TrimSpace(req.PreferredTime); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid preferred_time"})
			return
		}
		params.PreferredStart = t
	}
	if s := strings.TrimSpace(req.StartDate); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start_date"})
			return
		}
		params.RangeStart = t
	}
	if s := strings.TrimSpace(req.EndDate); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid end_date"})
			return
		}
		params.RangeEnd = t
	}

	sugg, err := h.svc.Suggest(r.Context(), params)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	var resp suggestionsResponse
	resp.WorkerAnalysis.At = sugg.WorkerAnalysis.At.UTC().Format(time.RFC3339)
	resp.WorkerAnalysis.Available = workerOptionItems(sugg.WorkerAnalysis.Available)
	resp.WorkerAnalysis.Unavailable = workerOptionItems(sugg.WorkerAnalysis.Unavailable)

	resp.TimeAlternatives = make([]timeSlotItem, 0, len(sugg.TimeAlternatives))
	for _, t := range sugg.TimeAlternatives {
		resp.TimeAlternatives = append(resp.TimeAlternatives, timeSlotItem{
			StartTime:        t.Start.UTC().Format(time.RFC3339),
			Label:            t.Label,
			Score:            t.Score,
			AvailableWorkers: t.AvailableCount,
			TotalWorkers:     t.TotalWorkers,
			ConflictCount:    t.ConflictCount,
		})
	}

	resp.OptimalCombinations = make([]combinationItem, 0, len(sugg.OptimalCombinations))
	for _, c := range sugg.OptimalCombinations {
		resp.OptimalCombinations = append(resp.OptimalCombinations, combinationItem{
			WorkerID:          c.WorkerID,
			WorkerName:        c.WorkerName,
			StartTime:         c.Start.UTC().Format(time.RFC3339),
			Score:             c.Score,
			TimeScore:         c.TimeScore,
			WorkerUtilization: c.WorkerUtilization,
			Reason:            c.Reason,
		})
	}

	resp.DayAnalysis = make([]dayAnalysisItem, 0, len(sugg.DayAnalysis))
	for _, d := range sugg.DayAnalysis {
		resp.DayAnalysis = append(resp.DayAnalysis, dayAnalysisItem{
			Date:             d.Date,
			Weekday:          d.Weekday,
			AvailableWorkers: d.AvailableWorkers,
			OpenMinutes:      d.OpenMinutes,
			BestScore:        d.BestScore,
		})
	}
	resp.SmartRecommendations = sugg.SmartRecommendations
	if resp.SmartRecommendations == nil {
		resp.SmartRecommendations = []string{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func workerOptionItems(options []suggest.WorkerOption) []workerOptionItem {
	items := make([]workerOptionItem, 0, len(options))
	for _, o := range options {
		items = append(items, workerOptionItem{
			WorkerID:    o.Worker.ID,
			WorkerName:  o.Worker.Name,
			Utilization: o.Utilization,
			Tier:        string(o.Tier),
			Available:   o.Available,
			Reason:      o.Reason,
		})
	}
	return items
}

// --- manual reschedule ---

type rescheduleRequest struct {
	JobID       string `json:"job_id"`
	NewDateTime string `json:"new_date_time"`
	NewWorkerID string `json:"new_worker_id"`
	Reason      string `json:"reason"`
	// Pointer so an omitted field is distinguishable from an explicit
	// false; omitted means notify.
	NotifyClient *bool `json:"notify_client"`
}

type rescheduleResponse struct {
	JobID          string `json:"job_id"`
	ScheduledAt    string `json:"scheduled_at"`
	WorkerID       string `json:"worker_id"`
	WorkerName     string `json:"worker_name"`
	Status         string `json:"status"`
	ClientNotified bool   `json:"client_notified"`
}

func (h *RescheduleHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	biz := businessID(r)
	if biz == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-Business-Id header required"})
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "job_id required"})
		return
	}

	var newStart time.Time
	if s := strings.TrimSpace(req.NewDateTime); s != "" {
		var err error
		newStart, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid new_date_time"})
			return
		}
	}

	notifyClient := true
	if req.NotifyClient != nil {
		notifyClient = *req.NotifyClient
	}

	out, err := h.svc.ManualReschedule(r.Context(), biz, reschedule.ManualParams{
		JobID:        req.JobID,
		NewStart:     newStart,
		NewWorkerID:  strings.TrimSpace(req.NewWorkerID),
		Reason:       strings.TrimSpace(req.Reason),
		NotifyClient: notifyClient,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, rescheduleResponse{
		JobID:          out.Job.ID,
		ScheduledAt:    out.Job.ScheduledAt.UTC().Format(time.RFC3339),
		WorkerID:       out.Worker.ID,
		WorkerName:     out.Worker.Name,
		Status:         string(out.Job.Status),
		ClientNotified: out.ClientNotified,
	})
}
