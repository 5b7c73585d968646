// Package postgres is the durable mirror of the job registry: one row
// per watch job, carrying its schedule, filter, last-run marker, and
// dedup ledger.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/peedubyah/tradebot/internal/domain"
)

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateJob inserts a new job record. A primary-key conflict maps to
// domain.ErrDuplicateJobID.
func (s *Store) CreateJob(ctx context.Context, job domain.WatchJob) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.Schedule,
		filter,
		nullableTime(job.LastRun),
		pq.Array(job.SentItemIDs),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateJobID
		}
		return err
	}
	return nil
}

// GetJob returns one job record, domain.ErrJobNotFound if absent.
func (s *Store) GetJob(ctx context.Context, id string) (domain.WatchJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WatchJob{}, domain.ErrJobNotFound
		}
		return domain.WatchJob{}, err
	}
	return job, nil
}

// ListJobs returns every persisted job, oldest first.
func (s *Store) ListJobs(ctx context.Context) ([]domain.WatchJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.WatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes the record, domain.ErrJobNotFound if absent.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryDeleteJob, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// UpdateDefinition replaces a job's schedule and filter, preserving its
// last-run marker and dedup ledger. domain.ErrJobNotFound if absent.
func (s *Store) UpdateDefinition(ctx context.Context, id, schedule string, filter domain.SearchFilter) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	encoded, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryUpdateDefinition, id, schedule, encoded, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// UpdateRunState writes back a run's bookkeeping: the advanced last-run
// marker and the grown dedup ledger, trimmed to the retention cap. A
// missing row is a no-op, not an error: the job was removed while its
// run was in flight and there is nothing to write back to.
func (s *Store) UpdateRunState(ctx context.Context, id string, lastRun time.Time, sentItemIDs []string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if len(sentItemIDs) > domain.LedgerCap {
		sentItemIDs = sentItemIDs[len(sentItemIDs)-domain.LedgerCap:]
	}

	_, err := s.db.ExecContext(ctx, queryUpdateRunState, id, lastRun, pq.Array(sentItemIDs), time.Now().UTC())
	return err
}

// Ping reports store connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.WatchJob, error) {
	var job domain.WatchJob
	var filter []byte
	var lastRun sql.NullTime
	var sent pq.StringArray

	err := row.Scan(&job.ID, &job.Schedule, &filter, &lastRun, &sent, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return domain.WatchJob{}, err
	}

	if err := json.Unmarshal(filter, &job.Filter); err != nil {
		return domain.WatchJob{}, fmt.Errorf("unmarshal filter for %s: %w", job.ID, err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRun = &t
	}
	job.SentItemIDs = []string(sent)

	return job, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
