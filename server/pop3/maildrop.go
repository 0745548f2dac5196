package pop3

import "strconv"

// Maildrop is the message set loaded when a session enters TRANSACTION.
// Message numbers always address the available view, which excludes
// messages flagged by DELE and is recomputed on every call.
type Maildrop struct {
	messages []*Message
}

// NewMaildrop wraps the backend's ordered message list.
func NewMaildrop(messages []*Message) *Maildrop {
	md := &Maildrop{messages: make([]*Message, 0, len(messages))}
	for _, m := range messages {
		if m == nil {
			continue
		}
		m.deleted = false
		md.messages = append(md.messages, m)
	}
	return md
}

// Len returns the number of loaded messages, deleted or not.
func (md *Maildrop) Len() int {
	return len(md.messages)
}

// Available returns the messages not flagged for deletion, in load order.
func (md *Maildrop) Available() []*Message {
	out := make([]*Message, 0, len(md.messages))
	for _, m := range md.messages {
		if !m.deleted {
			out = append(out, m)
		}
	}
	return out
}

// Resolve maps a 1-based message number to the available message it
// addresses. Unparseable and out of range numbers do not resolve.
func (md *Maildrop) Resolve(number string) (*Message, int, bool) {
	n, err := strconv.Atoi(number)
	if err != nil || n < 1 {
		return nil, 0, false
	}
	available := md.Available()
	if n > len(available) {
		return nil, 0, false
	}
	return available[n-1], n, true
}

// Stat returns the count and total size of available messages.
func (md *Maildrop) Stat() (int, int64) {
	var count int
	var size int64
	for _, m := range md.messages {
		if !m.deleted {
			count++
			size += m.Size
		}
	}
	return count, size
}

// Delete flags m for deletion. It returns false if m was already flagged.
func (md *Maildrop) Delete(m *Message) bool {
	if m.deleted {
		return false
	}
	m.deleted = true
	return true
}

// Reset clears every deletion flag.
func (md *Maildrop) Reset() {
	for _, m := range md.messages {
		m.deleted = false
	}
}

// Deleted returns exactly the messages flagged for deletion.
func (md *Maildrop) Deleted() []*Message {
	var out []*Message
	for _, m := range md.messages {
		if m.deleted {
			out = append(out, m)
		}
	}
	return out
}
