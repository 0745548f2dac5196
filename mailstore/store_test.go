package mailstore

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/helpers"
	"github.com/migadu/pop3d/server/pop3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, consts.ErrMessageNotFound
	}
	return data, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	return newTestDatabaseWithLockTTL(t, "")
}

func newTestDatabaseWithLockTTL(t *testing.T, lockTTL string) *db.Database {
	t.Helper()
	d, err := db.Open(context.Background(), config.DatabaseConfig{
		Driver:  "sqlite",
		Path:    filepath.Join(t.TempDir(), "mail.db"),
		LockTTL: lockTTL,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate(context.Background()))
	return d
}

func newTestConn(t *testing.T, store *Store) *pop3.Conn[SessionData] {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return pop3.NewConn[SessionData](pop3.NewNetTransport(local), store, pop3.ConnOptions{Hostname: "mail.example.com"})
}

func TestLookupUser(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)
	aliceID, err := d.CreateAccount(ctx, "alice@example.com", "secret", "tanstaaf")
	require.NoError(t, err)

	store := New(d, nil)
	c := newTestConn(t, store)

	user, err := store.LookupUser(ctx, c, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = store.LookupUser(ctx, c, "not an address")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = store.LookupUser(ctx, c, "Bob+lists@Example.COM")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "bob@example.com", user.Name)
	assert.False(t, user.HasSecret())
	assert.Equal(t, "bob@example.com", c.Data.Address)

	user, err = store.LookupUser(ctx, c, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, []byte("tanstaaf"), user.Secret)
	assert.Equal(t, aliceID, c.Data.AccountID)
}

func TestCompareCredential(t *testing.T) {
	store := New(nil, nil)
	hash, err := db.GenerateBcryptHash("secret")
	require.NoError(t, err)

	ok, err := store.CompareCredential(context.Background(), "secret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareCredential(context.Background(), "wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareCredential(context.Background(), "secret", "garbage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionLocking(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	store := New(d, nil)
	first := newTestConn(t, store)
	second := newTestConn(t, store)

	for _, c := range []*pop3.Conn[SessionData]{first, second} {
		user, err := store.LookupUser(ctx, c, "bob@example.com")
		require.NoError(t, err)
		require.NotNil(t, user)
	}

	inUse, err := store.HasActiveSession(ctx, first)
	require.NoError(t, err)
	assert.False(t, inUse)
	assert.True(t, first.Data.Locked)

	inUse, err = store.HasActiveSession(ctx, second)
	require.NoError(t, err)
	assert.True(t, inUse)
	assert.False(t, second.Data.Locked)

	// A connection that never locked must not release someone else's lock.
	store.ReleaseSession(ctx, second)
	inUse, err = store.HasActiveSession(ctx, second)
	require.NoError(t, err)
	assert.True(t, inUse)

	store.ReleaseSession(ctx, first)
	assert.False(t, first.Data.Locked)

	inUse, err = store.HasActiveSession(ctx, second)
	require.NoError(t, err)
	assert.False(t, inUse)
	store.ReleaseSession(ctx, second)
}

func TestLockRefreshedWhileSessionIsOpen(t *testing.T) {
	d := newTestDatabaseWithLockTTL(t, "1s")
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	store := New(d, nil)
	first := newTestConn(t, store)
	second := newTestConn(t, store)
	for _, c := range []*pop3.Conn[SessionData]{first, second} {
		_, err := store.LookupUser(ctx, c, "bob@example.com")
		require.NoError(t, err)
	}

	inUse, err := store.HasActiveSession(ctx, first)
	require.NoError(t, err)
	require.False(t, inUse)

	// Outlive the TTL several times over while the first session stays open.
	time.Sleep(2500 * time.Millisecond)

	inUse, err = store.HasActiveSession(ctx, second)
	require.NoError(t, err)
	assert.True(t, inUse, "open session lost its lock")
	assert.False(t, second.Data.Locked)

	store.ReleaseSession(ctx, first)
	inUse, err = store.HasActiveSession(ctx, second)
	require.NoError(t, err)
	assert.False(t, inUse)
	store.ReleaseSession(ctx, second)
}

func TestCommitRefusedAfterLockLost(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	accountID, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	store := New(d, nil)
	require.NoError(t, store.Deliver(ctx, "bob@example.com", "m1", []byte("Subject: one\r\n\r\nbody\r\n")))

	c := newTestConn(t, store)
	_, err = store.LookupUser(ctx, c, "bob@example.com")
	require.NoError(t, err)
	inUse, err := store.HasActiveSession(ctx, c)
	require.NoError(t, err)
	require.False(t, inUse)
	defer store.ReleaseSession(ctx, c)

	msgs, err := store.ListMessages(ctx, c)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Another session takes the maildrop over.
	require.NoError(t, d.ReleaseLock(ctx, accountID, c.ID()))
	ok, err := d.AcquireLock(ctx, accountID, "other-session")
	require.NoError(t, err)
	require.True(t, ok)

	err = store.CommitDeletions(ctx, c, msgs)
	assert.ErrorIs(t, err, consts.ErrLockLost)

	remaining, err := d.ListMessages(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestDeliverAndListMessages(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	store := New(d, nil)
	require.NoError(t, store.Deliver(ctx, "bob@example.com", "first", []byte("Subject: one\n\nbody\n")))
	require.NoError(t, store.Deliver(ctx, "Bob+x@example.com", "", []byte("Subject: two\r\n\r\nhello\r\n")))

	err = store.Deliver(ctx, "bob@example.com", "first", []byte("again"))
	assert.ErrorIs(t, err, consts.ErrMessageExists)
	err = store.Deliver(ctx, "bob@example.com", "has space", []byte("x"))
	assert.ErrorIs(t, err, consts.ErrMalformedMessage)
	err = store.Deliver(ctx, "nobody@example.com", "", []byte("x"))
	assert.ErrorIs(t, err, consts.ErrUserNotFound)

	c := newTestConn(t, store)
	_, err = store.LookupUser(ctx, c, "bob@example.com")
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, c)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "first", msgs[0].UID)
	assert.Equal(t, int64(len("Subject: one\r\n\r\nbody\r\n")), msgs[0].Size)
	body, err := msgs[0].Contents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Subject: one\r\n\r\nbody\r\n", body)

	assert.Equal(t, helpers.HashContent([]byte("Subject: two\r\n\r\nhello\r\n")), msgs[1].UID)
}

func TestBlobStorage(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	blobs := newFakeBlobs()
	store := New(d, blobs)

	raw := []byte("Subject: dup\r\n\r\nsame\r\n")
	require.NoError(t, store.Deliver(ctx, "bob@example.com", "a", raw))
	require.NoError(t, store.Deliver(ctx, "bob@example.com", "b", raw))
	key := helpers.NewS3Key("bob@example.com", helpers.HashContent(raw))
	assert.Len(t, blobs.objects, 1)
	assert.Contains(t, blobs.objects, key)

	c := newTestConn(t, store)
	_, err = store.LookupUser(ctx, c, "bob@example.com")
	require.NoError(t, err)
	msgs, err := store.ListMessages(ctx, c)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	body, err := msgs[1].Contents(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(raw), body)

	// Without object storage the body cannot be reached.
	_, err = New(d, nil).content(c.Data.AccountID, "a")(ctx)
	assert.ErrorIs(t, err, consts.ErrNoBlobStore)

	require.NoError(t, store.CommitDeletions(ctx, c, msgs[:1]))
	assert.Empty(t, blobs.deleted, "object still referenced by b")

	require.NoError(t, store.CommitDeletions(ctx, c, msgs[1:]))
	assert.Equal(t, []string{key}, blobs.deleted)

	remaining, err := store.ListMessages(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeliverFailsWhenUploadFails(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	blobs := newFakeBlobs()
	blobs.putErr = errors.New("bucket gone")
	store := New(d, blobs)

	assert.Error(t, store.Deliver(ctx, "bob@example.com", "a", []byte("x")))
	msgs, err := d.ListMessages(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestValidUID(t *testing.T) {
	assert.True(t, ValidUID("abc@host"))
	assert.True(t, ValidUID(strings.Repeat("x", 70)))
	assert.False(t, ValidUID(""))
	assert.False(t, ValidUID(strings.Repeat("x", 71)))
	assert.False(t, ValidUID("a b"))
	assert.False(t, ValidUID("caf\xc3\xa9"))
}

func TestNormalizeLineEndings(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", string(NormalizeLineEndings([]byte("a\nb\n"))))
	assert.Equal(t, "a\r\nb\r\n", string(NormalizeLineEndings([]byte("a\r\nb\n"))))
	assert.Equal(t, "no newline", string(NormalizeLineEndings([]byte("no newline"))))
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr net.Addr) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	c := &client{conn: conn, r: bufio.NewReader(conn)}
	assert.True(t, strings.HasPrefix(c.line(t), "+OK "))
	return c
}

func (c *client) line(t *testing.T) string {
	t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\r\n")
}

func (c *client) cmd(t *testing.T, line string) string {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
	return c.line(t)
}

func (c *client) body(t *testing.T) []string {
	t.Helper()
	var lines []string
	for {
		l := c.line(t)
		if l == "." {
			return lines
		}
		lines = append(lines, l)
	}
}

func TestServeMaildrop(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	_, err := d.CreateAccount(ctx, "bob@example.com", "secret", "")
	require.NoError(t, err)

	store := New(d, newFakeBlobs())
	require.NoError(t, store.Deliver(ctx, "bob@example.com", "m1", []byte("Subject: one\n\n.hidden\n")))
	require.NoError(t, store.Deliver(ctx, "bob@example.com", "m2", []byte("Subject: two\n\nbody\n")))

	srv, err := pop3.New[SessionData](ctx, "pop3", "mail.example.com", "127.0.0.1:0", store, pop3.ServerOptions{
		IdleTimeout:  5 * time.Second,
		DrainTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, <-done)
	})
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 10*time.Millisecond)

	first := dial(t, srv.Addr())
	assert.Equal(t, "+OK user 'bob@example.com' accepted, proceed with PASS.", first.cmd(t, "USER bob@example.com"))
	assert.Equal(t, "-ERR [AUTH] pass rejected.", first.cmd(t, "PASS nope"))
	first.cmd(t, "USER bob@example.com")
	assert.Equal(t, "+OK pass accepted, welcome 'bob@example.com'.", first.cmd(t, "PASS secret"))

	second := dial(t, srv.Addr())
	second.cmd(t, "USER bob@example.com")
	assert.Equal(t, "-ERR [IN-USE] do you have another POP session running?", second.cmd(t, "PASS secret"))

	assert.True(t, strings.HasPrefix(first.cmd(t, "STAT"), "+OK 2 "))
	assert.True(t, strings.HasPrefix(first.cmd(t, "UIDL"), "+OK"))
	assert.Equal(t, []string{"1 m1", "2 m2"}, first.body(t))

	assert.True(t, strings.HasPrefix(first.cmd(t, "RETR 1"), "+OK"))
	assert.Equal(t, []string{"Subject: one", "", "..hidden"}, first.body(t))

	assert.Equal(t, "+OK message 1 deleted.", first.cmd(t, "DELE 1"))
	assert.Equal(t, "+OK pop3d signing off.", first.cmd(t, "QUIT"))

	require.Eventually(t, func() bool {
		stats, err := d.GetMetricsStats(ctx)
		return err == nil && stats.ActiveLocks == 0
	}, 2*time.Second, 10*time.Millisecond)

	third := dial(t, srv.Addr())
	third.cmd(t, "USER bob@example.com")
	assert.Equal(t, "+OK pass accepted, welcome 'bob@example.com'.", third.cmd(t, "PASS secret"))
	assert.True(t, strings.HasPrefix(third.cmd(t, "UIDL"), "+OK"))
	assert.Equal(t, []string{"1 m2"}, third.body(t))
	third.cmd(t, "QUIT")
}
