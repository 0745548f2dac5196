package pop3

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	lineSeparator    = "\r\n"
	segmentSeparator = " "
	multilineEnd     = "."
)

// Command verbs understood by the decoder.
const (
	CmdUSER = "USER"
	CmdPASS = "PASS"
	CmdAPOP = "APOP"
	CmdQUIT = "QUIT"
	CmdSTAT = "STAT"
	CmdLIST = "LIST"
	CmdRETR = "RETR"
	CmdDELE = "DELE"
	CmdNOOP = "NOOP"
	CmdRSET = "RSET"
	CmdTOP  = "TOP"
	CmdUIDL = "UIDL"
	CmdCAPA = "CAPA"
	CmdLANG = "LANG"

	// Recognized but not implemented by this server.
	CmdSTLS = "STLS"
	CmdAUTH = "AUTH"
)

var knownVerbs = map[string]struct{}{
	CmdUSER: {}, CmdPASS: {}, CmdAPOP: {}, CmdQUIT: {}, CmdSTAT: {},
	CmdLIST: {}, CmdRETR: {}, CmdDELE: {}, CmdNOOP: {}, CmdRSET: {},
	CmdTOP: {}, CmdUIDL: {}, CmdCAPA: {}, CmdLANG: {},
	CmdSTLS: {}, CmdAUTH: {},
}

// Command is a decoded client command line.
type Command struct {
	Verb string
	// Args is nil when the line carried nothing after the verb.
	Args []string
}

// DecodeCommand parses a single protocol line (without its CRLF).
func DecodeCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrUnknownCommand
	}

	verb, rest, hasRest := strings.Cut(line, segmentSeparator)
	verb = strings.ToUpper(verb)
	if _, ok := knownVerbs[verb]; !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
	}

	cmd := Command{Verb: verb}
	if hasRest {
		rest = strings.TrimSpace(rest)
		if rest != "" {
			for _, arg := range strings.Split(rest, segmentSeparator) {
				if arg = strings.TrimSpace(arg); arg != "" {
					cmd.Args = append(cmd.Args, arg)
				}
			}
		}
	}
	return cmd, nil
}

// Encode renders the command as a CRLF terminated line.
func (c Command) Encode() string {
	var sb strings.Builder
	sb.WriteString(c.Verb)
	for _, arg := range c.Args {
		sb.WriteString(segmentSeparator)
		sb.WriteString(arg)
	}
	sb.WriteString(lineSeparator)
	return sb.String()
}

// Arg returns the i-th argument or an empty string.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Status is the leading indicator of a response line.
type Status string

const (
	StatusOK  Status = "+OK"
	StatusERR Status = "-ERR"
)

// ExtCode is an RFC 2449 extended response code.
type ExtCode string

const (
	ExtNone  ExtCode = ""
	ExtAuth  ExtCode = "AUTH"
	ExtSys   ExtCode = "SYS/PERM"
	ExtInUse ExtCode = "IN-USE"
)

// Response is a single status line.
type Response struct {
	Status  Status
	Ext     ExtCode
	Message []string
}

// OK builds a success response from message segments.
func OK(segments ...string) Response {
	return Response{Status: StatusOK, Message: segments}
}

// Err builds a failure response with an optional extended code.
func Err(ext ExtCode, segments ...string) Response {
	return Response{Status: StatusERR, Ext: ext, Message: segments}
}

// Encode renders the response line including the trailing CRLF.
func (r Response) Encode() string {
	var sb strings.Builder
	sb.WriteString(string(r.Status))
	if r.Ext != ExtNone {
		sb.WriteString(" [")
		sb.WriteString(string(r.Ext))
		sb.WriteString("]")
	}
	for _, seg := range r.Message {
		if seg = strings.TrimSpace(seg); seg != "" {
			sb.WriteString(segmentSeparator)
			sb.WriteString(seg)
		}
	}
	sb.WriteString(lineSeparator)
	return sb.String()
}

// dotStuffLine escapes a body line that would otherwise read as the terminator.
func dotStuffLine(line string) string {
	if line == multilineEnd {
		return ".."
	}
	return line
}

// WriteMultiline writes a dot-stuffed multiline body and its terminator.
func WriteMultiline(w *bufio.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := w.WriteString(dotStuffLine(line)); err != nil {
			return err
		}
		if _, err := w.WriteString(lineSeparator); err != nil {
			return err
		}
	}
	_, err := w.WriteString(multilineEnd + lineSeparator)
	return err
}

// splitBody splits a message body into lines. A single trailing CRLF does not
// produce an extra empty line.
func splitBody(body string) []string {
	body = strings.TrimSuffix(body, lineSeparator)
	if body == "" {
		return nil
	}
	return strings.Split(body, lineSeparator)
}
