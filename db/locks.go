package db

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock marks the maildrop of accountID as opened by sessionID. It
// returns false when another session holds a lock younger than the
// configured TTL. Acquiring a lock the session already holds succeeds.
func (d *Database) AcquireLock(ctx context.Context, accountID int64, sessionID string) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	now := time.Now()
	if d.lockTTL > 0 {
		stale := now.Add(-d.lockTTL).Unix()
		if _, err := d.TimedExec(ctx, "expire_lock",
			`DELETE FROM maildrop_locks WHERE account_id = ? AND acquired_at < ?`, accountID, stale); err != nil {
			return false, fmt.Errorf("failed to expire stale lock: %w", err)
		}
	}

	res, err := d.TimedExec(ctx, "acquire_lock",
		`INSERT INTO maildrop_locks (account_id, session_id, acquired_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO NOTHING`, accountID, sessionID, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var holder string
	err = d.TimedQueryRow(ctx, "get_lock",
		`SELECT session_id FROM maildrop_locks WHERE account_id = ?`, accountID).Scan(&holder)
	if err != nil {
		return false, fmt.Errorf("failed to read lock holder: %w", err)
	}
	return holder == sessionID, nil
}

// ReleaseLock drops the lock if sessionID holds it.
func (d *Database) ReleaseLock(ctx context.Context, accountID int64, sessionID string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if _, err := d.TimedExec(ctx, "release_lock",
		`DELETE FROM maildrop_locks WHERE account_id = ? AND session_id = ?`, accountID, sessionID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// TouchLock refreshes the acquisition time of a lock held by sessionID. It
// returns false when the session no longer holds the lock.
func (d *Database) TouchLock(ctx context.Context, accountID int64, sessionID string) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	res, err := d.TimedExec(ctx, "touch_lock",
		`UPDATE maildrop_locks SET acquired_at = ? WHERE account_id = ? AND session_id = ?`,
		time.Now().Unix(), accountID, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %w", err)
	}
	return n == 1, nil
}

// LockTTL is the age after which an unrefreshed lock is considered stale.
// Zero means locks never expire.
func (d *Database) LockTTL() time.Duration {
	return d.lockTTL
}
