package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/helpers"
	"github.com/migadu/pop3d/mailstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf("hostname = \"pop.example.com\"\n\n[database]\ndriver = \"sqlite\"\npath = %q\n", filepath.Join(dir, "pop3d.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	database, cfg, err := openDatabase(context.Background(), configPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	assert.Equal(t, "pop.example.com", cfg.Hostname)
	assert.False(t, cfg.S3.Enabled())

	require.NoError(t, database.Migrate(context.Background()))
	return database
}

func TestMessageUID(t *testing.T) {
	raw := []byte("Message-ID: <abc.123@example.com>\r\nSubject: hi\r\n\r\nbody\r\n")
	assert.Equal(t, "abc.123@example.com", messageUID(raw))

	assert.Equal(t, "", messageUID([]byte("Subject: no id\r\n\r\nbody\r\n")))
	assert.Equal(t, "", messageUID([]byte("not a message")))
}

func TestIsMessageFile(t *testing.T) {
	assert.True(t, isMessageFile("hello.eml"))
	assert.True(t, isMessageFile("1700000000.M1P2.host:2,S"))
	assert.True(t, isMessageFile("1700000000.M1P2.host"))
	assert.False(t, isMessageFile(".DS_Store"))
	assert.False(t, isMessageFile("dovecot-uidlist"))
	assert.False(t, isMessageFile("notes.txt"))
}

func TestImportDirectory(t *testing.T) {
	database := openTestDatabase(t)
	ctx := context.Background()
	_, err := database.CreateAccount(ctx, "user@example.com", "secret", "")
	require.NoError(t, err)

	dir := t.TempDir()
	withID := "Message-ID: <first@example.com>\nSubject: one\n\nhello\n"
	withoutID := "Subject: two\n\nworld\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.eml"), []byte(withID), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cur"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cur", "b.eml"), []byte(withoutID), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cur", "dup.eml"), []byte(withID), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0600))

	imp := &importer{store: mailstore.New(database, nil), address: "user+lists@example.com"}
	require.NoError(t, imp.importPath(ctx, dir))
	assert.Equal(t, 2, imp.imported)
	assert.Equal(t, 1, imp.skipped)
	assert.Equal(t, 0, imp.failed)

	acc, err := database.GetAccountByAddress(ctx, "user@example.com")
	require.NoError(t, err)
	msgs, err := database.ListMessages(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	uids := []string{msgs[0].UID, msgs[1].UID}
	assert.Contains(t, uids, "first@example.com")
	assert.Contains(t, uids, helpers.HashContent(mailstore.NormalizeLineEndings([]byte(withoutID))))

	body, _, err := database.GetMessageBody(ctx, acc.ID, "first@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Message-ID: <first@example.com>\r\nSubject: one\r\n\r\nhello\r\n", string(body))
}

func TestImportUnknownAccount(t *testing.T) {
	database := openTestDatabase(t)
	file := filepath.Join(t.TempDir(), "a.eml")
	require.NoError(t, os.WriteFile(file, []byte("Subject: x\r\n\r\ny\r\n"), 0600))

	imp := &importer{store: mailstore.New(database, nil), address: "nobody@example.com"}
	assert.EqualError(t, imp.importPath(context.Background(), file), "account nobody@example.com does not exist")
}

func TestPrintAccounts(t *testing.T) {
	database := openTestDatabase(t)
	ctx := context.Background()
	_, err := database.CreateAccount(ctx, "b@example.com", "pw", "tanstaaf")
	require.NoError(t, err)
	_, err = database.CreateAccount(ctx, "a@example.com", "pw", "")
	require.NoError(t, err)

	accounts, err := database.ListAccounts(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printAccounts(&buf, accounts, false))
	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a@example.com")), bytes.Index(buf.Bytes(), []byte("b@example.com")))
	assert.Contains(t, out, "Total accounts: 2")

	buf.Reset()
	require.NoError(t, printAccounts(&buf, accounts, true))
	assert.Contains(t, buf.String(), `"Address": "b@example.com"`)
	assert.Contains(t, buf.String(), `"APOP": true`)

	buf.Reset()
	require.NoError(t, printAccounts(&buf, nil, false))
	assert.Equal(t, "No accounts found.\n", buf.String())
}
