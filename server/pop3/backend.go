package pop3

import "context"

// Backend supplies mailbox data to the engine. T is the host's per-connection
// data type, reachable through Conn.Data.
//
// Errors returned by a Backend are not converted into protocol responses:
// the connection is closed and the error is returned from Conn.Serve.
type Backend[T any] interface {
	// LookupUser returns the principal for name, or nil if it is unknown.
	LookupUser(ctx context.Context, c *Conn[T], name string) (*User, error)

	// HasActiveSession reports whether the authenticated user already has a
	// maildrop open elsewhere. It is called once credentials check out.
	HasActiveSession(ctx context.Context, c *Conn[T]) (bool, error)

	// CompareCredential checks a PASS argument against User.Credential.
	CompareCredential(ctx context.Context, raw, stored string) (bool, error)

	// ListMessages loads the maildrop in the order it will be numbered.
	ListMessages(ctx context.Context, c *Conn[T]) ([]*Message, error)

	// CommitDeletions permanently removes exactly the messages flagged by
	// DELE when the client issues QUIT.
	CommitDeletions(ctx context.Context, c *Conn[T], deleted []*Message) error
}

// SessionReleaser is optionally implemented by a Backend that needs to know
// when a connection ends, for whatever reason.
type SessionReleaser[T any] interface {
	ReleaseSession(ctx context.Context, c *Conn[T])
}
