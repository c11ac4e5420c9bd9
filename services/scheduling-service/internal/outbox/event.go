// Package outbox persists domain events in the same transaction as the
// state change they describe, and publishes them to Kafka from a background
// poller. The reschedule write path inserts its notification event through
// here so the job update and the event either both commit or neither does.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// Topic names double as event types; one event per topic.
const TopicJobRescheduled = "scheduling.job.rescheduled.v1"

// Event is the envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type jobRescheduledPayload struct {
	JobID          string    `json:"job_id"`
	BusinessID     string    `json:"business_id"`
	Title          string    `json:"title"`
	WorkerID       string    `json:"worker_id"`
	WorkerName     string    `json:"worker_name"`
	ClientID       string    `json:"client_id,omitempty"`
	ClientEmail    string    `json:"client_email,omitempty"`
	ClientPhone    string    `json:"client_phone,omitempty"`
	PreviousStart  time.Time `json:"previous_start"`
	NewStart       time.Time `json:"new_start"`
	DurationMins   int       `json:"duration_minutes"`
	Reason         string    `json:"reason,omitempty"`
	RescheduledAt  time.Time `json:"rescheduled_at"`
}

// JobRescheduled builds the client-notification event for a committed
// reschedule. The notification service downstream owns delivery.
func JobRescheduled(job model.Job, worker model.Worker, client model.Client, previousStart time.Time, reason string, at time.Time) (Event, error) {
	payload, err := json.Marshal(jobRescheduledPayload{
		JobID:         job.ID,
		BusinessID:    job.BusinessID,
		Title:         job.Title,
		WorkerID:      worker.ID,
		WorkerName:    worker.Name,
		ClientID:      client.ID,
		ClientEmail:   client.Email,
		ClientPhone:   client.Phone,
		PreviousStart: previousStart,
		NewStart:      job.ScheduledAt,
		DurationMins:  job.DurationMinutes,
		Reason:        reason,
		RescheduledAt: at,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "job",
		AggregateID:   job.ID,
		EventType:     TopicJobRescheduled,
		Payload:       payload,
	}, nil
}
