package pop3

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMaildrop() *Maildrop {
	return NewMaildrop([]*Message{
		NewMessage("a", 100, nil),
		NewMessage("b", 200, nil),
		NewMessage("c", 300, nil),
	})
}

func uids(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	return out
}

func TestMaildropStat(t *testing.T) {
	md := newTestMaildrop()
	count, size := md.Stat()
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(600), size)
	assert.Equal(t, 3, md.Len())
}

func TestMaildropRenumbersAfterDelete(t *testing.T) {
	md := newTestMaildrop()

	msg, n, ok := md.Resolve("2")
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.True(t, md.Delete(msg))

	assert.Equal(t, []string{"a", "c"}, uids(md.Available()))

	msg, n, ok = md.Resolve("2")
	require.True(t, ok)
	assert.Equal(t, "c", msg.UID)
	assert.Equal(t, 2, n)

	_, _, ok = md.Resolve("3")
	assert.False(t, ok)

	count, size := md.Stat()
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(400), size)
	assert.Equal(t, 3, md.Len())
}

func TestMaildropResolveRejects(t *testing.T) {
	md := newTestMaildrop()
	for _, arg := range []string{"0", "-1", "4", "abc", "", "1.5"} {
		_, _, ok := md.Resolve(arg)
		assert.False(t, ok, "argument %q", arg)
	}
}

func TestMaildropDeleteTwice(t *testing.T) {
	md := newTestMaildrop()
	msg, _, _ := md.Resolve("1")
	assert.True(t, md.Delete(msg))
	assert.False(t, md.Delete(msg))
	assert.True(t, msg.Deleted())
}

func TestMaildropResetAndDeleted(t *testing.T) {
	md := newTestMaildrop()
	first, _, _ := md.Resolve("1")
	md.Delete(first)
	// After the first delete "2" addresses the third message.
	third, _, _ := md.Resolve("2")
	md.Delete(third)

	assert.Equal(t, []string{"a", "c"}, uids(md.Deleted()))

	md.Reset()
	assert.Empty(t, md.Deleted())
	count, _ := md.Stat()
	assert.Equal(t, 3, count)
}

func TestNewMaildropSkipsNilAndClearsFlags(t *testing.T) {
	m := NewMessage("x", 1, nil)
	m.deleted = true
	md := NewMaildrop([]*Message{nil, m, nil})
	assert.Equal(t, 1, md.Len())
	assert.False(t, m.Deleted())
}

func TestMessageContents(t *testing.T) {
	m := NewNumericMessage(42, 5, func(ctx context.Context) (string, error) {
		return "hello", nil
	})
	assert.Equal(t, "42", m.UID)

	body, err := m.Contents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", body)

	_, err = NewMessage("empty", 0, nil).Contents(context.Background())
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestTopLines(t *testing.T) {
	lines := []string{"From: a", "Subject: b", "", "one", "two", "three"}

	assert.Equal(t, []string{"From: a", "Subject: b", ""}, topLines(lines, 0))
	assert.Equal(t, []string{"From: a", "Subject: b", "", "one", "two"}, topLines(lines, 2))
	assert.Equal(t, lines, topLines(lines, 10))
	assert.Equal(t, []string{"X: y"}, topLines([]string{"X: y"}, 3))
	assert.Equal(t, lines, topLines(lines, 3))

	var top []string
	require.NotPanics(t, func() { top = topLines(lines, math.MaxInt) })
	assert.Equal(t, lines, top)
}

func TestSessionStartsUnloaded(t *testing.T) {
	s := newSession(Banner{Token: "t", Hostname: "h"}, English)
	assert.Equal(t, StateAuthorization, s.State())
	assert.IsType(t, MaildropNotLoaded{}, s.MaildropState())
	_, ok := s.Maildrop()
	assert.False(t, ok)

	md := s.enterTransaction([]*Message{NewMessage("a", 1, nil)})
	assert.Equal(t, StateTransaction, s.State())
	loaded, ok := s.Maildrop()
	require.True(t, ok)
	assert.Same(t, md, loaded)
	assert.Equal(t, "TRANSACTION", s.State().String())
}
