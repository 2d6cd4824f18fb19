package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Busy retry policy shared by Exec and RunTx: both cache writes and
// snapshot transactions contend on WAL checkpoints under load, so short
// linear backoff is enough.
const (
	busyAttempts = 3
	busyBackoff  = 100 * time.Millisecond
)

// busyMarkers are the substrings modernc.org/sqlite surfaces for
// SQLITE_BUSY and SQLITE_LOCKED conditions.
var busyMarkers = []string{
	"SQLITE_BUSY",
	"database is locked",
	"database table is locked",
}

// IsBusy reports whether err indicates SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range busyMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Exec runs one statement, retrying on lock contention.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// RunTx runs fn inside a transaction, retrying the whole transaction on
// lock contention. fn must be safe to re-run.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// withBusyRetry runs attempt up to busyAttempts times, backing off
// 100/200 ms between tries. Non-busy errors return immediately.
func withBusyRetry(ctx context.Context, attempt func() error) error {
	var err error
	for i := 0; i < busyAttempts; i++ {
		if i > 0 {
			timer := time.NewTimer(time.Duration(i) * busyBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("dbopen: retry interrupted: %w", ctx.Err())
			case <-timer.C:
			}
		}
		err = attempt()
		if err == nil || !IsBusy(err) {
			return err
		}
	}
	return fmt.Errorf("dbopen: still locked after %d attempts: %w", busyAttempts, err)
}
