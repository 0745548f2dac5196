package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/pop3d/consts"
)

// Message is the metadata of a stored message. The body lives either in the
// body column or in object storage under S3Key.
type Message struct {
	ID          int64
	AccountID   int64
	UID         string
	Size        int64
	ContentHash string
	S3Key       string
	ReceivedAt  time.Time
}

// InsertMessageOptions describes a message to add to a maildrop. Exactly one
// of Body and S3Key should be set.
type InsertMessageOptions struct {
	AccountID   int64
	UID         string
	Size        int64
	ContentHash string
	S3Key       string
	Body        []byte
	ReceivedAt  time.Time
}

// InsertMessage adds a message and returns its row id. A UID already present
// in the maildrop yields consts.ErrMessageExists.
func (d *Database) InsertMessage(ctx context.Context, opts InsertMessageOptions) (int64, error) {
	if opts.UID == "" {
		return 0, errors.New("message uid cannot be empty")
	}
	if (opts.S3Key == "") == (opts.Body == nil) {
		return 0, errors.New("message needs either a body or an s3 key")
	}
	receivedAt := opts.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	var s3Key sql.NullString
	if opts.S3Key != "" {
		s3Key = sql.NullString{String: opts.S3Key, Valid: true}
	}
	var body any
	if opts.Body != nil {
		body = opts.Body
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var id int64
	err := d.TimedQueryRow(ctx, "insert_message",
		`INSERT INTO messages (account_id, uid, size, content_hash, s3_key, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		opts.AccountID, opts.UID, opts.Size, opts.ContentHash, s3Key, body, receivedAt.Unix()).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", consts.ErrMessageExists, opts.UID)
		}
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

// ListMessages returns the maildrop of an account in arrival order.
func (d *Database) ListMessages(ctx context.Context, accountID int64) ([]Message, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.TimedQuery(ctx, "list_messages",
		`SELECT id, account_id, uid, size, content_hash, s3_key, received_at
		FROM messages WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			m          Message
			s3Key      sql.NullString
			receivedAt int64
		)
		if err := rows.Scan(&m.ID, &m.AccountID, &m.UID, &m.Size, &m.ContentHash, &s3Key, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.S3Key = s3Key.String
		m.ReceivedAt = time.Unix(receivedAt, 0)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetMessageBody returns the stored body of a message, or the object storage
// key when the body is kept there.
func (d *Database) GetMessageBody(ctx context.Context, accountID int64, uid string) ([]byte, string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var (
		body  []byte
		s3Key sql.NullString
	)
	err := d.TimedQueryRow(ctx, "get_message_body",
		`SELECT body, s3_key FROM messages WHERE account_id = ? AND uid = ?`,
		accountID, uid).Scan(&body, &s3Key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", consts.ErrMessageNotFound
		}
		return nil, "", fmt.Errorf("failed to get message body: %w", err)
	}
	return body, s3Key.String, nil
}

// DeleteMessages removes the given UIDs from a maildrop in one transaction.
// It returns the object storage keys no longer referenced by any message.
// Unknown UIDs are ignored.
func (d *Database) DeleteMessages(ctx context.Context, accountID int64, uids []string) ([]string, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(uids)+1)
	args = append(args, accountID)
	for _, uid := range uids {
		args = append(args, uid)
	}
	match := `account_id = ? AND uid IN (` + placeholders(len(uids)) + `)`

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var orphaned []string
	err := d.inTx(ctx, "delete_messages", func(tx *measuredTx) error {
		rows, err := tx.Query(ctx, `SELECT DISTINCT s3_key FROM messages WHERE `+match+` AND s3_key IS NOT NULL`, args...)
		if err != nil {
			return err
		}
		var keys []string
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, key)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE `+match, args...); err != nil {
			return err
		}

		for _, key := range keys {
			var refs int64
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE s3_key = ?`, key).Scan(&refs); err != nil {
				return err
			}
			if refs == 0 {
				orphaned = append(orphaned, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete messages: %w", err)
	}
	return orphaned, nil
}
