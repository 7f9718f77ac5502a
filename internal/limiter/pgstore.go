package limiter

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore backs the limiter with a shared event table so every service
// instance counts against the same windows. A per-key advisory lock makes the
// prune-count-insert sequence atomic across instances.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Take(ctx context.Context, key string, now time.Time, rule Rule) (int, int, bool, time.Time, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, false, time.Time{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return 0, 0, false, time.Time{}, err
	}

	windowStart := now.Add(-rule.Window)
	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE key = $1 AND ts < $2`, key, windowStart); err != nil {
		return 0, 0, false, time.Time{}, err
	}

	var windowCount int
	if err := tx.GetContext(ctx, &windowCount,
		`SELECT count(*) FROM rate_limit_events WHERE key = $1 AND ts >= $2`, key, windowStart); err != nil {
		return 0, 0, false, time.Time{}, err
	}

	burstCount := 0
	if rule.Burst > 0 && rule.BurstWindow > 0 {
		burstStart := now.Add(-rule.BurstWindow)
		if err := tx.GetContext(ctx, &burstCount,
			`SELECT count(*) FROM rate_limit_events WHERE key = $1 AND ts >= $2`, key, burstStart); err != nil {
			return 0, 0, false, time.Time{}, err
		}
	}

	var oldest time.Time
	var oldestPtr *time.Time
	if err := tx.GetContext(ctx, &oldestPtr,
		`SELECT min(ts) FROM rate_limit_events WHERE key = $1 AND ts >= $2`, key, windowStart); err == nil && oldestPtr != nil {
		oldest = *oldestPtr
	}

	accepted := windowCount < rule.Limit && (rule.Burst <= 0 || burstCount < rule.Burst)
	if accepted {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rate_limit_events (key, ts) VALUES ($1, $2)`, key, now); err != nil {
			return 0, 0, false, time.Time{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, false, time.Time{}, err
	}
	return windowCount, burstCount, accepted, oldest, nil
}

// Prune drops events older than the cutoff across all keys. Run by the
// cleanup job; Take already prunes per key on the hot path.
func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE ts < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ Store = (*PostgresStore)(nil)
