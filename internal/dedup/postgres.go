package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the durable dedup store. Dedup state must survive a
// process restart — re-bidding after a crash is unacceptable — so the
// seen_jobs table is the source of truth, not any in-process cache.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// MarkSeen inserts the dedup row, losing gracefully when another loop
// got there first. ON CONFLICT DO NOTHING makes the check-and-set a
// single atomic statement.
func (p *Postgres) MarkSeen(ctx context.Context, platformID, externalID, attemptID string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO seen_jobs (platform_id, external_id, bid_attempt_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (platform_id, external_id) DO NOTHING`,
		platformID, externalID, attemptID,
	)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasSeen reports whether a dedup row exists for the job.
func (p *Postgres) HasSeen(ctx context.Context, platformID, externalID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM seen_jobs WHERE platform_id = $1 AND external_id = $2
		 )`,
		platformID, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has seen: %w", err)
	}
	return exists, nil
}

// ActiveCount counts non-terminal bid attempts for the platform.
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
