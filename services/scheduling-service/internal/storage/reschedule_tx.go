package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/outbox"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/reschedule"
)

// ApplyReschedule moves a job in one transaction: lock the row, re-check
// for overlaps under the lock, update, and enqueue the notification event.
// The jobs table also carries a no-overlap exclusion constraint, so even a
// write that races past the re-check cannot double-book a worker.
func (r *Repository) ApplyReschedule(ctx context.Context, cmd reschedule.RescheduleCommand) (model.Job, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Job{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := r.lockJob(ctx, tx, cmd.BusinessID, cmd.JobID)
	if err != nil {
		return model.Job{}, false, err
	}
	if !job.Status.ConflictRelevant() {
		return model.Job{}, false, &reschedule.ValidationError{
			Msg: fmt.Sprintf("job in status %s cannot be rescheduled", job.Status),
		}
	}
	previousStart := job.ScheduledAt

	newEnd := cmd.NewStart.Add(time.Duration(job.DurationMinutes) * time.Minute)
	conflicts, err := r.overlapTitlesTx(ctx, tx, cmd.WorkerID, cmd.NewStart, newEnd, job.ID)
	if err != nil {
		return model.Job{}, false, err
	}
	if len(conflicts) > 0 {
		return model.Job{}, false, &reschedule.ConflictError{
			Reason:    "slot was taken while rescheduling",
			Conflicts: conflicts,
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE jobs
		SET scheduled_at = $3,
			worker_id = $4,
			status = 'rescheduled',
			reschedule_reason = NULLIF($5, ''),
			rescheduled_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING id, business_id, worker_id, COALESCE(client_id::text, ''), title,
			scheduled_at, duration_minutes, status, created_at
	`, cmd.JobID, cmd.BusinessID, cmd.NewStart, cmd.WorkerID, cmd.Reason)
	updated, err := scanJob(row)
	if err != nil {
		if isExclusionViolation(err) {
			return model.Job{}, false, &reschedule.ConflictError{Reason: "slot was taken while rescheduling"}
		}
		return model.Job{}, false, err
	}

	notified := false
	if cmd.NotifyClient && updated.ClientID != "" {
		notified, err = r.enqueueNotification(ctx, tx, updated, previousStart, cmd.Reason)
		if err != nil {
			return model.Job{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return model.Job{}, false, &reschedule.ConflictError{Reason: "slot was taken while rescheduling"}
		}
		return model.Job{}, false, err
	}
	return updated, notified, nil
}

func (r *Repository) lockJob(ctx context.Context, tx pgx.Tx, businessID, jobID string) (model.Job, error) {
	row := tx.QueryRow(ctx, jobSelect+`
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, jobID, businessID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, &reschedule.NotFoundError{Resource: "job", ID: jobID}
	}
	return job, err
}

func (r *Repository) overlapTitlesTx(ctx context.Context, tx pgx.Tx, workerID string, start, end time.Time, excludeJobID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT title
		FROM jobs
		WHERE worker_id = $1
			AND status NOT IN ('cancelled', 'completed')
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
			AND id::text <> $4
		ORDER BY scheduled_at ASC
	`, workerID, start, end, excludeJobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return titles, nil
}

func (r *Repository) enqueueNotification(ctx context.Context, tx pgx.Tx, job model.Job, previousStart time.Time, reason string) (bool, error) {
	worker, err := r.getWorkerTx(ctx, tx, job.BusinessID, job.WorkerID)
	if err != nil {
		return false, err
	}
	client, err := r.getClientTx(ctx, tx, job.BusinessID, job.ClientID)
	if err != nil {
		// A job whose client row is gone still reschedules; there is just
		// nobody to notify.
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	evt, err := outbox.JobRescheduled(job, worker, client, previousStart, reason, r.clock.Now().UTC())
	if err != nil {
		return false, err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) getWorkerTx(ctx context.Context, tx pgx.Tx, businessID, workerID string) (model.Worker, error) {
	var w model.Worker
	err := tx.QueryRow(ctx, `
		SELECT id, business_id, name, status
		FROM workers
		WHERE id = $1 AND business_id = $2
	`, workerID, businessID).Scan(&w.ID, &w.BusinessID, &w.Name, &w.Status)
	return w, err
}

func (r *Repository) getClientTx(ctx context.Context, tx pgx.Tx, businessID, clientID string) (model.Client, error) {
	var c model.Client
	err := tx.QueryRow(ctx, `
		SELECT id, business_id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM clients
		WHERE id = $1 AND business_id = $2
	`, clientID, businessID).Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone)
	return c, err
}
