package bidstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AmericanPowerAI/LeaX/internal/bidstate"
	"github.com/AmericanPowerAI/LeaX/internal/model"
)

const attemptColumns = `id, platform_id, external_id, job_title, strategy_version,
	amount, status, attempt_count, last_error, submitted_at, created_at, updated_at`

// Postgres is the durable bid-attempt store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Create inserts a new attempt at its current (normally PENDING) status.
func (p *Postgres) Create(ctx context.Context, a *model.BidAttempt) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := p.pool.Exec(ctx,
		`INSERT INTO bid_attempts
		   (id, platform_id, external_id, job_title, strategy_version,
		    amount, status, attempt_count, last_error, submitted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.PlatformID, a.ExternalID, a.JobTitle, a.StrategyVersion,
		a.Amount, a.Status, a.AttemptCount, a.LastError, a.SubmittedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create bid attempt: %w", err)
	}
	return nil
}

// Get returns one attempt by id.
func (p *Postgres) Get(ctx context.Context, id string) (*model.BidAttempt, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM bid_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bid attempt: %w", err)
	}
	return a, nil
}

// List returns attempts newest first, optionally filtered.
func (p *Postgres) List(ctx context.Context, f Filter) ([]model.BidAttempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM bid_attempts WHERE ($1 = '' OR platform_id = $1)
	      AND ($2 = '' OR status = $2) ORDER BY created_at DESC LIMIT $3`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, q, f.PlatformID, f.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("list bid attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]model.BidAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// Transition fetches the current status, validates the move, and
// updates conditionally on the status it read — a concurrent writer
// that got there first makes the update a no-op, retried once.
func (p *Postgres) Transition(ctx context.Context, id string, to bidstate.Status, attemptCount int, lastErr *string) (*model.BidAttempt, error) {
	for i := 0; i < 2; i++ {
		var current string
		err := p.pool.QueryRow(ctx,
			`SELECT status FROM bid_attempts WHERE id = $1`, id).Scan(&current)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("transition read: %w", err)
		}

		if err := checkTransition(current, to); err != nil {
			return nil, err
		}

		row := p.pool.QueryRow(ctx,
			`UPDATE bid_attempts
			 SET status = $1,
			     attempt_count = $2,
			     last_error = $3,
			     submitted_at = CASE WHEN $1 = 'SUBMITTED' THEN NOW() ELSE submitted_at END,
			     updated_at = NOW()
			 WHERE id = $4 AND status = $5
			 RETURNING `+attemptColumns,
			string(to), attemptCount, lastErr, id, current,
		)
		a, err := scanAttempt(row)
		if err == pgx.ErrNoRows {
			continue // lost the race, re-read and re-validate
		}
		if err != nil {
			return nil, fmt.Errorf("transition update: %w", err)
		}
		return a, nil
	}
	return nil, fmt.Errorf("transition %s → %s: %w", id, to, ErrNotFound)
}

// ActiveCount counts non-terminal attempts for the platform.
func (p *Postgres) ActiveCount(ctx context.Context, platformID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM bid_attempts
		 WHERE platform_id = $1 AND status IN ('PENDING', 'SUBMITTED')`,
		platformID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return n, nil
}

// StatusCounts groups attempts by status for reporting.
func (p *Postgres) StatusCounts(ctx context.Context, platformID string) (map[string]int, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT status, count(*) FROM bid_attempts
		 WHERE ($1 = '' OR platform_id = $1) GROUP BY status`,
		platformID,
	)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("status counts scan: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ExpireStale reconciles SUBMITTED attempts the platform never
// resolved: anything submitted before cutoff moves to EXPIRED.
func (p *Postgres) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE bid_attempts
		 SET status = 'EXPIRED', updated_at = NOW()
		 WHERE status = 'SUBMITTED' AND submitted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*model.BidAttempt, error) {
	var a model.BidAttempt
	err := row.Scan(
		&a.ID, &a.PlatformID, &a.ExternalID, &a.JobTitle, &a.StrategyVersion,
		&a.Amount, &a.Status, &a.AttemptCount, &a.LastError, &a.SubmittedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
