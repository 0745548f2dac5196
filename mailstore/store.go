// Package mailstore serves POP3 maildrops from the SQL database, with
// message bodies either inline or in object storage.
package mailstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/helpers"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/server"
	"github.com/migadu/pop3d/server/pop3"
)

// SessionData is the per-connection state kept in pop3.Conn.Data.
type SessionData struct {
	AccountID int64
	Address   string
	// Locked is set once this connection holds the maildrop lock.
	Locked bool

	stopRefresh context.CancelFunc
}

// BlobStore holds message bodies outside the database. storage.S3Storage
// implements it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Store implements pop3.Backend and pop3.SessionReleaser.
type Store struct {
	db    *db.Database
	blobs BlobStore
}

var (
	_ pop3.Backend[SessionData]         = (*Store)(nil)
	_ pop3.SessionReleaser[SessionData] = (*Store)(nil)
)

// New creates a store. blobs may be nil when every body is kept in the
// database.
func New(database *db.Database, blobs BlobStore) *Store {
	return &Store{db: database, blobs: blobs}
}

func (s *Store) LookupUser(ctx context.Context, c *pop3.Conn[SessionData], name string) (*pop3.User, error) {
	addr, err := server.NewAddress(name)
	if err != nil {
		c.DebugLog("rejecting malformed login %q: %v", name, err)
		return nil, nil
	}

	acc, err := s.db.GetAccountByAddress(ctx, addr.BaseAddress())
	if errors.Is(err, consts.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Data = SessionData{AccountID: acc.ID, Address: acc.Address}

	user := &pop3.User{Name: acc.Address, Credential: acc.PasswordHash}
	if acc.APOPSecret != nil {
		user.Secret = []byte(*acc.APOPSecret)
	}
	return user, nil
}

func (s *Store) CompareCredential(ctx context.Context, raw, stored string) (bool, error) {
	err := db.VerifyPassword(stored, raw)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, db.ErrPasswordMismatch):
		return false, nil
	default:
		// Unverifiable hashes fail the login.
		logger.Warn("MAILSTORE: cannot verify stored password hash", "error", err)
		return false, nil
	}
}

func (s *Store) HasActiveSession(ctx context.Context, c *pop3.Conn[SessionData]) (bool, error) {
	acquired, err := s.db.AcquireLock(ctx, c.Data.AccountID, c.ID())
	if err != nil {
		return false, err
	}
	if acquired {
		c.Data.Locked = true
		if c.Data.stopRefresh == nil {
			c.Data.stopRefresh = s.refreshLock(ctx, c.Data.AccountID, c.ID())
		}
	}
	return !acquired, nil
}

// refreshLock touches the lock every third of the lock TTL until the
// returned func is called, so a long session is never taken for stale.
func (s *Store) refreshLock(ctx context.Context, accountID int64, sessionID string) context.CancelFunc {
	ttl := s.db.LockTTL()
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := s.db.TouchLock(ctx, accountID, sessionID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("MAILSTORE: failed to refresh maildrop lock", "account_id", accountID, "session", sessionID, "error", err)
				continue
			}
			if !held {
				logger.Warn("MAILSTORE: maildrop lock lost", "account_id", accountID, "session", sessionID)
				return
			}
		}
	}()
	return cancel
}

func (s *Store) ListMessages(ctx context.Context, c *pop3.Conn[SessionData]) ([]*pop3.Message, error) {
	stored, err := s.db.ListMessages(ctx, c.Data.AccountID)
	if err != nil {
		return nil, err
	}

	messages := make([]*pop3.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, pop3.NewMessage(m.UID, m.Size, s.content(c.Data.AccountID, m.UID)))
	}
	return messages, nil
}

func (s *Store) content(accountID int64, uid string) pop3.ContentFunc {
	return func(ctx context.Context) (string, error) {
		body, key, err := s.db.GetMessageBody(ctx, accountID, uid)
		if err != nil {
			return "", err
		}
		if key == "" {
			return string(body), nil
		}
		if s.blobs == nil {
			return "", fmt.Errorf("%w: %s", consts.ErrNoBlobStore, key)
		}
		data, err := s.blobs.Get(ctx, key)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func (s *Store) CommitDeletions(ctx context.Context, c *pop3.Conn[SessionData], deleted []*pop3.Message) error {
	if c.Data.Locked {
		held, err := s.db.TouchLock(ctx, c.Data.AccountID, c.ID())
		if err != nil {
			return err
		}
		if !held {
			return consts.ErrLockLost
		}
	}

	uids := make([]string, 0, len(deleted))
	for _, m := range deleted {
		uids = append(uids, m.UID)
	}

	orphaned, err := s.db.DeleteMessages(ctx, c.Data.AccountID, uids)
	if err != nil {
		return err
	}
	s.deleteBlobs(ctx, orphaned)
	return nil
}

// deleteBlobs removes bodies no longer referenced. The rows are already
// gone, so failures only leave unreachable objects behind.
func (s *Store) deleteBlobs(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if s.blobs == nil {
		logger.Warn("MAILSTORE: no object storage configured, leaving objects behind", "count", len(keys))
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			logger.Warn("MAILSTORE: failed to delete message body", "key", key, "error", err)
		}
	}
}

func (s *Store) ReleaseSession(ctx context.Context, c *pop3.Conn[SessionData]) {
	if c.Data.stopRefresh != nil {
		c.Data.stopRefresh()
		c.Data.stopRefresh = nil
	}
	if !c.Data.Locked {
		return
	}
	if err := s.db.ReleaseLock(ctx, c.Data.AccountID, c.ID()); err != nil {
		c.WarnLog("failed to release maildrop lock: %v", err)
		return
	}
	c.Data.Locked = false
}

// Deliver adds a message to the maildrop of address. The body goes to object
// storage when one is configured. Line endings are stored as CRLF. An empty
// uid defaults to the content hash.
func (s *Store) Deliver(ctx context.Context, address, uid string, raw []byte) error {
	raw = NormalizeLineEndings(raw)
	addr, err := server.NewAddress(address)
	if err != nil {
		return err
	}
	acc, err := s.db.GetAccountByAddress(ctx, addr.BaseAddress())
	if err != nil {
		return err
	}

	hash := helpers.HashContent(raw)
	if uid == "" {
		uid = hash
	}
	if !ValidUID(uid) {
		return fmt.Errorf("%w: invalid uid %q", consts.ErrMalformedMessage, uid)
	}

	opts := db.InsertMessageOptions{
		AccountID:   acc.ID,
		UID:         uid,
		Size:        int64(len(raw)),
		ContentHash: hash,
	}
	if s.blobs != nil {
		opts.S3Key = helpers.NewS3Key(acc.Address, hash)
		if err := s.blobs.Put(ctx, opts.S3Key, raw); err != nil {
			return err
		}
	} else {
		opts.Body = raw
		if opts.Body == nil {
			opts.Body = []byte{}
		}
	}

	if _, err := s.db.InsertMessage(ctx, opts); err != nil {
		return err
	}
	logger.Debug("MAILSTORE: delivered message", "address", acc.Address, "uid", uid, "size", len(raw))
	return nil
}

// ValidUID reports whether s can be used as a unique-id listing: 1 to 70
// characters in the range 0x21 to 0x7E.
func ValidUID(s string) bool {
	if len(s) == 0 || len(s) > 70 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// NormalizeLineEndings converts bare LF line endings to CRLF.
func NormalizeLineEndings(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("\n")) {
		return raw
	}
	unix := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(unix, []byte("\n"), []byte("\r\n"))
}
