// Package storage is the pgx-backed implementation of the engine's store.
// Reads run on the pool; the reschedule write runs in its own transaction in
// reschedule_tx.go. Postgres errors are mapped to the engine's typed errors
// at this boundary so callers never see driver errors for expected cases.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crewsched/crewsched/libs/clockx"
	"github.com/crewsched/crewsched/libs/db"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/outbox"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/reschedule"
)

// exclusionViolation is raised by the jobs table's no-overlap constraint.
const exclusionViolation = "23P01"

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	clock  clockx.Clock
}

func NewRepository(pool *db.Pool, ob *outbox.Repository, clock clockx.Clock) *Repository {
	return &Repository{pool: pool, outbox: ob, clock: clock}
}

func (r *Repository) BusinessLocation(ctx context.Context, businessID string) (*time.Location, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `
		SELECT timezone FROM businesses WHERE id = $1
	`, businessID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &reschedule.NotFoundError{Resource: "business", ID: businessID}
	}
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("business %s has invalid timezone %q: %w", businessID, tz, err)
	}
	return loc, nil
}

func (r *Repository) GetWorker(ctx context.Context, businessID, workerID string) (model.Worker, error) {
	var w model.Worker
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, status
		FROM workers
		WHERE id = $1 AND business_id = $2
	`, workerID, businessID).Scan(&w.ID, &w.BusinessID, &w.Name, &w.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Worker{}, &reschedule.NotFoundError{Resource: "worker", ID: workerID}
	}
	if err != nil {
		return model.Worker{}, err
	}
	return w, nil
}

func (r *Repository) ActiveWorkers(ctx context.Context, businessID string) ([]model.Worker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, name, status
		FROM workers
		WHERE business_id = $1 AND status = 'active'
		ORDER BY name ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := rows.Scan(&w.ID, &w.BusinessID, &w.Name, &w.Status); err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return workers, nil
}

func (r *Repository) GetClient(ctx context.Context, businessID, clientID string) (model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM clients
		WHERE id = $1 AND business_id = $2
	`, clientID, businessID).Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Client{}, &reschedule.NotFoundError{Resource: "client", ID: clientID}
	}
	if err != nil {
		return model.Client{}, err
	}
	return c, nil
}

func (r *Repository) GetJob(ctx context.Context, businessID, jobID string) (model.Job, error) {
	row := r.pool.QueryRow(ctx, jobSelect+`
		WHERE id = $1 AND business_id = $2
	`, jobID, businessID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, &reschedule.NotFoundError{Resource: "job", ID: jobID}
	}
	return job, err
}

func (r *Repository) WeeklySlots(ctx context.Context, workerID string) ([]model.WeeklySlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, worker_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM weekly_availability
		WHERE worker_id = $1
		ORDER BY day_of_week, start_time
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.WeeklySlot
	for rows.Next() {
		var s model.WeeklySlot
		if err := rows.Scan(&s.ID, &s.WorkerID, &s.DayOfWeek, &s.StartTime, &s.EndTime); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

// Exceptions returns date overrides for [from, to). The bounds arrive as
// business-local midnights; only their calendar dates matter here.
func (r *Repository) Exceptions(ctx context.Context, workerID string, from, to time.Time) ([]model.Exception, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, worker_id, date::text, is_available,
			COALESCE(to_char(start_time, 'HH24:MI'), ''),
			COALESCE(to_char(end_time, 'HH24:MI'), ''),
			COALESCE(reason, '')
		FROM availability_exceptions
		WHERE worker_id = $1 AND date >= $2::date AND date < $3::date
		ORDER BY date
	`, workerID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []model.Exception
	for rows.Next() {
		var e model.Exception
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.Date, &e.Available, &e.StartTime, &e.EndTime, &e.Reason); err != nil {
			return nil, err
		}
		exceptions = append(exceptions, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return exceptions, nil
}

// OverlappingJobs returns conflict-relevant jobs for the worker whose
// half-open interval intersects [start, end), excluding excludeJobID.
func (r *Repository) OverlappingJobs(ctx context.Context, workerID string, start, end time.Time, excludeJobID string) ([]model.Job, error) {
	rows, err := r.pool.Query(ctx, jobSelect+`
		WHERE worker_id = $1
			AND status NOT IN ('cancelled', 'completed')
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY scheduled_at ASC
	`, workerID, start, end, excludeJobID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *Repository) JobsInWeek(ctx context.Context, workerID string, weekStart, weekEnd time.Time) ([]model.Job, error) {
	rows, err := r.pool.Query(ctx, jobSelect+`
		WHERE worker_id = $1
			AND scheduled_at >= $2
			AND scheduled_at < $3
		ORDER BY scheduled_at ASC
	`, workerID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

const jobSelect = `
	SELECT id, business_id, worker_id, COALESCE(client_id::text, ''), title,
		scheduled_at, duration_minutes, status, created_at
	FROM jobs`

func scanJob(row pgx.Row) (model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID,
		&j.BusinessID,
		&j.WorkerID,
		&j.ClientID,
		&j.Title,
		&j.ScheduledAt,
		&j.DurationMinutes,
		&j.Status,
		&j.CreatedAt,
	)
	return j, err
}

func collectJobs(rows pgx.Rows) ([]model.Job, error) {
	defer rows.Close()
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}
