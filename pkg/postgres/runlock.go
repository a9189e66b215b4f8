package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procurations/matching-engine/pkg/db"
)

// matchingRunLockKey identifies the matching run in pg advisory locks
const matchingRunLockKey int64 = 0x70726f7879 // "proxy"

// runLock holds the session-level advisory lock on a dedicated connection
type runLock struct {
	conn *pgxpool.Conn
}

// AcquireRunLock takes the matching run advisory lock without waiting.
// Returns db.ErrLocked if another session holds it.
func (d *DB) AcquireRunLock(ctx context.Context) (db.RunLock, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, matchingRunLockKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take run lock: %w", err)
	}

	if !acquired {
		conn.Release()
		return nil, db.ErrLocked
	}

	return &runLock{conn: conn}, nil
}

// Release unlocks and returns the connection to the pool
func (l *runLock) Release(ctx context.Context) error {
	defer l.conn.Release()

	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, matchingRunLockKey); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
