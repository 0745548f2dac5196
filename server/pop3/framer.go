package pop3

import "bytes"

// DefaultMaxLineLength bounds a single client line. RFC 2449 allows 255
// octets per command; the slack is for clients with long APOP names.
const DefaultMaxLineLength = 4096

var crlf = []byte(lineSeparator)

type frame struct {
	line    string
	tooLong bool
}

// LineFramer turns an arbitrary sequence of byte chunks into CRLF delimited
// lines. It has no protocol knowledge.
type LineFramer struct {
	buf     []byte
	frames  []frame
	maxLine int

	// discarding is set while the remainder of an oversized line is skipped.
	discarding bool
}

// NewLineFramer creates a framer. A maxLine of zero or less disables the
// length guard.
func NewLineFramer(maxLine int) *LineFramer {
	return &LineFramer{maxLine: maxLine}
}

// Write appends a chunk and extracts every complete line it now holds, in
// order. It never fails; the returned count is always len(p).
func (f *LineFramer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)

	start := 0
	for {
		idx := bytes.Index(f.buf[start:], crlf)
		if idx < 0 {
			break
		}
		switch {
		case f.discarding:
			f.discarding = false
		case f.maxLine > 0 && idx > f.maxLine:
			f.frames = append(f.frames, frame{tooLong: true})
		default:
			f.frames = append(f.frames, frame{line: string(f.buf[start : start+idx])})
		}
		start += idx + len(crlf)
	}

	rest := f.buf[start:]
	if f.maxLine > 0 && len(rest) > f.maxLine {
		if !f.discarding {
			f.frames = append(f.frames, frame{tooLong: true})
			f.discarding = true
		}
		// Keep a trailing CR so a delimiter split across chunks is still seen.
		if rest[len(rest)-1] == '\r' {
			rest = rest[len(rest)-1:]
		} else {
			rest = rest[:0]
		}
	}

	f.buf = append(f.buf[:0], rest...)
	return len(p), nil
}

// Next pops the oldest complete line. ok is false when nothing is queued.
// An entry standing for a dropped oversized line yields ErrLineTooLong.
func (f *LineFramer) Next() (line string, ok bool, err error) {
	if len(f.frames) == 0 {
		return "", false, nil
	}
	fr := f.frames[0]
	f.frames[0] = frame{}
	f.frames = f.frames[1:]
	if fr.tooLong {
		return "", true, ErrLineTooLong
	}
	return fr.line, true, nil
}

// Pending reports how many complete lines are queued.
func (f *LineFramer) Pending() int {
	return len(f.frames)
}

// Buffered reports the size of the trailing partial line.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}
