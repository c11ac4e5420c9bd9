package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/reschedule"
)

type fakeService struct {
	options        *reschedule.Options
	slots          []reschedule.WorkerSlot
	suggestions    *reschedule.Suggestions
	outcome        *reschedule.Outcome
	err            error
	lastBusinessID string
	lastManual     reschedule.ManualParams
}

func (f *fakeService) GenerateOptions(_ context.Context, businessID, _ string, _ int) (*reschedule.Options, error) {
	f.lastBusinessID = businessID
	return f.options, f.err
}

func (f *fakeService) NextAvailable(_ context.Context, businessID, _ string, _ int, _ time.Time, _ int) ([]reschedule.WorkerSlot, error) {
	f.lastBusinessID = businessID
	return f.slots, f.err
}

func (f *fakeService) Suggest(_ context.Context, p reschedule.SuggestParams) (*reschedule.Suggestions, error) {
	f.lastBusinessID = p.BusinessID
	return f.suggestions, f.err
}

func (f *fakeService) ManualReschedule(_ context.Context, businessID string, p reschedule.ManualParams) (*reschedule.Outcome, error) {
	f.lastBusinessID = businessID
	f.lastManual = p
	return f.outcome, f.err
}

func newTestMux(svc Service) *http.ServeMux {
	mux := http.NewServeMux()
	NewRescheduleHandler(svc, slog.New(slog.DiscardHandler)).Register(mux)
	return mux
}

func post(t *testing.T, mux *http.ServeMux, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

var bizHeader = map[string]string{"X-Business-Id": "biz-1"}

func TestOptions_RequiresBusinessHeader(t *testing.T) {
	mux := newTestMux(&fakeService{})
	rec := post(t, mux, "/api/v1/reschedule/options", `{"job_id":"j1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOptions_Success(t *testing.T) {
	start := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	svc := &fakeService{options: &reschedule.Options{
		Job:    model.Job{ID: "j1", Title: "Boiler service"},
		Client: model.Client{ID: "c1", Name: "Carol"},
		Options: []reschedule.RescheduleOption{
			{SuggestedDate: start, WorkerID: "w1", WorkerName: "Alice", ConfidenceScore: 92.5, Reason: "morning slot"},
		},
		GeneratedAt: start,
	}}
	mux := newTestMux(svc)

	rec := post(t, mux, "/api/v1/reschedule/options", `{"job_id":"j1","days_ahead":7}`, bizHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.lastBusinessID != "biz-1" {
		t.Fatalf("business id = %q", svc.lastBusinessID)
	}

	var resp optionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != "j1" || resp.ClientName != "Carol" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Options) != 1 || resp.Options[0].SuggestedDate != "2026-01-06T09:00:00Z" {
		t.Fatalf("options = %+v", resp.Options)
	}
}

func TestOptions_MissingJobID(t *testing.T) {
	mux := newTestMux(&fakeService{})
	rec := post(t, mux, "/api/v1/reschedule/options", `{}`, bizHeader)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestNextAvailable_InvalidStart(t *testing.T) {
	mux := newTestMux(&fakeService{})
	rec := post(t, mux, "/api/v1/reschedule/next-available", `{"duration_minutes":60,"search_start":"tomorrow"}`, bizHeader)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestNextAvailable_Success(t *testing.T) {
	svc := &fakeService{slots: []reschedule.WorkerSlot{
		{WorkerID: "w1", WorkerName: "Alice", Start: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC), Utilization: 40},
	}}
	mux := newTestMux(svc)

	rec := post(t, mux, "/api/v1/reschedule/next-available", `{"duration_minutes":60}`, bizHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Workers []workerSlotItem `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Workers) != 1 || resp.Workers[0].NextAvailable != "2026-01-06T09:00:00Z" {
		t.Fatalf("workers = %+v", resp.Workers)
	}
}

func TestSuggestions_DomainErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &reschedule.ValidationError{Msg: "bad input"}, http.StatusBadRequest},
		{"not found", &reschedule.NotFoundError{Resource: "job", ID: "j1"}, http.StatusNotFound},
		{"conflict", &reschedule.ConflictError{Reason: "Outside available hours"}, http.StatusConflict},
	}
	for _, tc := range cases {
		mux := newTestMux(&fakeService{err: tc.err})
		rec := post(t, mux, "/api/v1/reschedule/suggestions", `{"duration_minutes":60}`, bizHeader)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestReschedule_ConflictCarriesJobTitles(t *testing.T) {
	svc := &fakeService{err: &reschedule.ConflictError{
		Reason:    "Conflicts: Boiler service",
		Conflicts: []string{"Boiler service"},
	}}
	mux := newTestMux(svc)

	rec := post(t, mux, "/api/v1/jobs/reschedule", `{"job_id":"j1","new_date_time":"2026-01-06T09:00:00Z"}`, bizHeader)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Conflicts) != 1 || resp.Conflicts[0] != "Boiler service" {
		t.Fatalf("conflicts = %v", resp.Conflicts)
	}
}

func TestReschedule_Success(t *testing.T) {
	svc := &fakeService{outcome: &reschedule.Outcome{
		Job: model.Job{
			ID:          "j1",
			ScheduledAt: time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC),
			WorkerID:    "w2",
			Status:      model.JobRescheduled,
		},
		Worker:         model.Worker{ID: "w2", Name: "Bob"},
		ClientNotified: true,
	}}
	mux := newTestMux(svc)

	rec := post(t, mux, "/api/v1/jobs/reschedule",
		`{"job_id":"j1","new_date_time":"2026-01-06T14:00:00Z","new_worker_id":"w2","notify_client":true}`, bizHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp rescheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "rescheduled" || !resp.ClientNotified || resp.WorkerName != "Bob" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestReschedule_NotifyClientDefaultsTrue(t *testing.T) {
	outcome := &reschedule.Outcome{
		Job:    model.Job{ID: "j1", ScheduledAt: time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)},
		Worker: model.Worker{ID: "w1", Name: "Alice"},
	}
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"omitted", `{"job_id":"j1","new_date_time":"2026-01-06T14:00:00Z"}`, true},
		{"explicit false", `{"job_id":"j1","new_date_time":"2026-01-06T14:00:00Z","notify_client":false}`, false},
		{"explicit true", `{"job_id":"j1","new_date_time":"2026-01-06T14:00:00Z","notify_client":true}`, true},
	}
	for _, tc := range cases {
		svc := &fakeService{outcome: outcome}
		mux := newTestMux(svc)
		rec := post(t, mux, "/api/v1/jobs/reschedule", tc.body, bizHeader)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", tc.name, rec.Code, rec.Body.String())
		}
		if svc.lastManual.NotifyClient != tc.want {
			t.Fatalf("%s: NotifyClient = %v, want %v", tc.name, svc.lastManual.NotifyClient, tc.want)
		}
	}
}

func TestReschedule_InvalidBody(t *testing.T) {
	mux := newTestMux(&fakeService{})
	rec := post(t, mux, "/api/v1/jobs/reschedule", `{not json`, bizHeader)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestMux(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reschedule/options", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
