package pop3

import (
	"context"
	"strconv"
)

// ContentFunc fetches the full text of a message.
type ContentFunc func(ctx context.Context) (string, error)

// Message is a maildrop entry. UID and Size are fixed at load time; the body is
// only fetched for RETR and TOP.
type Message struct {
	UID     string
	Size    int64
	content ContentFunc
	deleted bool
}

// NewMessage creates a message with a lazy content fetcher.
func NewMessage(uid string, size int64, content ContentFunc) *Message {
	return &Message{UID: uid, Size: size, content: content}
}

// NewNumericMessage is NewMessage for backends with integer UIDs.
func NewNumericMessage(uid int64, size int64, content ContentFunc) *Message {
	return NewMessage(strconv.FormatInt(uid, 10), size, content)
}

// Deleted reports whether DELE flagged the message in this session.
func (m *Message) Deleted() bool {
	return m.deleted
}

// Contents fetches the message text.
func (m *Message) Contents(ctx context.Context) (string, error) {
	if m.content == nil {
		return "", ErrNoContent
	}
	return m.content(ctx)
}
