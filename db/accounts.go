package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/server"
)

// Account is a maildrop owner.
type Account struct {
	ID           int64
	Address      string
	PasswordHash string
	// APOPSecret is nil when APOP is disabled for the account.
	APOPSecret *string
	CreatedAt  time.Time
}

// AccountSummary is an account with its maildrop totals.
type AccountSummary struct {
	ID        int64
	Address   string
	Messages  int64
	Bytes     int64
	APOP      bool
	CreatedAt time.Time
}

// CreateAccount adds an account. The password is hashed with bcrypt; an
// empty apopSecret leaves APOP disabled.
func (d *Database) CreateAccount(ctx context.Context, address, password, apopSecret string) (int64, error) {
	addr, err := server.NewAddress(address)
	if err != nil {
		return 0, err
	}
	if password == "" {
		return 0, errors.New("password cannot be empty")
	}
	hash, err := GenerateBcryptHash(password)
	if err != nil {
		return 0, err
	}

	var secret sql.NullString
	if apopSecret != "" {
		secret = sql.NullString{String: apopSecret, Valid: true}
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var id int64
	err = d.TimedQueryRow(ctx, "create_account",
		`INSERT INTO accounts (address, password_hash, apop_secret, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		addr.FullAddress(), hash, secret, time.Now().Unix()).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", consts.ErrUserExists, addr.FullAddress())
		}
		return 0, fmt.Errorf("failed to create account: %w", err)
	}
	return id, nil
}

// GetAccountByAddress looks an account up by its normalized address.
func (d *Database) GetAccountByAddress(ctx context.Context, address string) (*Account, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var (
		acc       Account
		secret    sql.NullString
		createdAt int64
	)
	err := d.TimedQueryRow(ctx, "get_account",
		`SELECT id, address, password_hash, apop_secret, created_at FROM accounts WHERE address = ?`,
		address).Scan(&acc.ID, &acc.Address, &acc.PasswordHash, &secret, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, consts.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if secret.Valid {
		acc.APOPSecret = &secret.String
	}
	acc.CreatedAt = time.Unix(createdAt, 0)
	return &acc, nil
}

// SetPassword replaces the password hash of an account.
func (d *Database) SetPassword(ctx context.Context, address, password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	hash, err := GenerateBcryptHash(password)
	if err != nil {
		return err
	}
	return d.updateAccount(ctx, "set_password", `UPDATE accounts SET password_hash = ? WHERE address = ?`, hash, address)
}

// SetAPOPSecret sets the APOP shared secret. An empty secret disables APOP.
func (d *Database) SetAPOPSecret(ctx context.Context, address, secret string) error {
	var value sql.NullString
	if secret != "" {
		value = sql.NullString{String: secret, Valid: true}
	}
	return d.updateAccount(ctx, "set_apop_secret", `UPDATE accounts SET apop_secret = ? WHERE address = ?`, value, address)
}

func (d *Database) updateAccount(ctx context.Context, operation, query string, value any, address string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	res, err := d.TimedExec(ctx, operation, query, value, address)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n == 0 {
		return consts.ErrUserNotFound
	}
	return nil
}

// DeleteAccount removes an account with its messages and lock. It returns
// the object storage keys that held its message bodies.
func (d *Database) DeleteAccount(ctx context.Context, address string) ([]string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var keys []string
	err := d.inTx(ctx, "delete_account", func(tx *measuredTx) error {
		var accountID int64
		if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE address = ?`, address).Scan(&accountID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return consts.ErrUserNotFound
			}
			return err
		}

		rows, err := tx.Query(ctx, `SELECT DISTINCT s3_key FROM messages WHERE account_id = ? AND s3_key IS NOT NULL`, accountID)
		if err != nil {
			return err
		}
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

		for _, q := range []string{
			`DELETE FROM maildrop_locks WHERE account_id = ?`,
			`DELETE FROM messages WHERE account_id = ?`,
			`DELETE FROM accounts WHERE id = ?`,
		} {
			if _, err := tx.Exec(ctx, q, accountID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, consts.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete account: %w", err)
	}
	return keys, nil
}

// ListAccounts returns every account with its maildrop totals, ordered by
// address.
func (d *Database) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.TimedQuery(ctx, "list_accounts", `
		SELECT a.id, a.address, a.apop_secret IS NOT NULL, a.created_at,
			COUNT(m.id), COALESCE(SUM(m.size), 0)
		FROM accounts a
		LEFT JOIN messages m ON m.account_id = a.id
		GROUP BY a.id, a.address, a.apop_secret, a.created_at
		ORDER BY a.address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []AccountSummary
	for rows.Next() {
		var (
			s         AccountSummary
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.Address, &s.APOP, &createdAt, &s.Messages, &s.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		accounts = append(accounts, s)
	}
	return accounts, rows.Err()
}
