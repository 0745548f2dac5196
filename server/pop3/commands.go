package pop3

import (
	"context"
	"fmt"
	"strconv"

	"github.com/migadu/pop3d/pkg/metrics"
)

type stateMask uint8

const (
	inAuthorization stateMask = 1 << iota
	inTransaction

	inAnyState = inAuthorization | inTransaction
)

func (m stateMask) allows(s State) bool {
	switch s {
	case StateAuthorization:
		return m&inAuthorization != 0
	case StateTransaction:
		return m&inTransaction != 0
	}
	return false
}

func (m stateMask) required() State {
	if m&inAuthorization != 0 {
		return StateAuthorization
	}
	return StateTransaction
}

type commandInfo struct {
	states        stateMask
	minArgs       int
	maxArgs       int
	needsMaildrop bool
	implemented   bool
}

var commandTable = map[string]commandInfo{
	CmdCAPA: {states: inAnyState, implemented: true},
	CmdNOOP: {states: inAnyState, implemented: true},
	CmdQUIT: {states: inAnyState, implemented: true},
	CmdLANG: {states: inAnyState, maxArgs: 1, implemented: true},
	CmdUSER: {states: inAuthorization, minArgs: 1, maxArgs: 1, implemented: true},
	CmdPASS: {states: inAuthorization, minArgs: 1, maxArgs: 1, implemented: true},
	CmdAPOP: {states: inAuthorization, minArgs: 2, maxArgs: 2, implemented: true},
	CmdSTAT: {states: inTransaction, needsMaildrop: true, implemented: true},
	CmdLIST: {states: inTransaction, maxArgs: 1, needsMaildrop: true, implemented: true},
	CmdUIDL: {states: inTransaction, maxArgs: 1, needsMaildrop: true, implemented: true},
	CmdRETR: {states: inTransaction, minArgs: 1, maxArgs: 1, needsMaildrop: true, implemented: true},
	CmdDELE: {states: inTransaction, minArgs: 1, maxArgs: 1, needsMaildrop: true, implemented: true},
	CmdTOP:  {states: inTransaction, minArgs: 2, maxArgs: 2, needsMaildrop: true, implemented: true},
	CmdRSET: {states: inTransaction, needsMaildrop: true, implemented: true},
	CmdSTLS: {states: inAnyState},
	CmdAUTH: {states: inAnyState},
}

const (
	statusOK  = "ok"
	statusErr = "err"
)

// dispatch applies the command-independent checks in order, then runs the
// handler. The returned status is used for metrics.
func (c *Conn[T]) dispatch(ctx context.Context, cmd Command) (string, error) {
	info, ok := commandTable[cmd.Verb]
	if !ok {
		return statusErr, c.invalidCommand()
	}
	if !info.implemented {
		return statusErr, c.fail(ExtNone, MsgNotImplemented, cmd.Verb)
	}

	if !info.states.allows(c.session.state) {
		return statusErr, c.fail(ExtNone, MsgInvalidState, cmd.Verb, info.states.required())
	}

	var md *Maildrop
	if info.needsMaildrop {
		var loaded bool
		md, loaded = c.session.Maildrop()
		if !loaded {
			return "", ErrMaildropNotLoaded
		}
	}

	if n := len(cmd.Args); n < info.minArgs || n > info.maxArgs {
		if info.minArgs == info.maxArgs {
			return statusErr, c.fail(ExtNone, MsgInvalidParams, cmd.Verb, info.minArgs)
		}
		return statusErr, c.fail(ExtNone, MsgInvalidParamsOptional, cmd.Verb, info.maxArgs)
	}

	switch cmd.Verb {
	case CmdCAPA:
		return c.handleCAPA()
	case CmdNOOP:
		return statusOK, c.writeResponse(OK())
	case CmdQUIT:
		return c.handleQUIT(ctx)
	case CmdLANG:
		return c.handleLANG(cmd)
	case CmdUSER:
		return c.handleUSER(ctx, cmd)
	case CmdPASS:
		return c.handlePASS(ctx, cmd)
	case CmdAPOP:
		return c.handleAPOP(ctx, cmd)
	case CmdSTAT:
		count, size := md.Stat()
		return statusOK, c.writeResponse(OK(fmt.Sprintf("%d %d", count, size)))
	case CmdLIST:
		return c.handleLIST(md, cmd)
	case CmdUIDL:
		return c.handleUIDL(md, cmd)
	case CmdRETR:
		return c.handleRETR(ctx, md, cmd)
	case CmdTOP:
		return c.handleTOP(ctx, md, cmd)
	case CmdDELE:
		return c.handleDELE(md, cmd)
	case CmdRSET:
		md.Reset()
		count, size := md.Stat()
		return statusOK, c.writeResponse(OK(c.localize(MsgReset, count, size)))
	}
	return statusErr, c.fail(ExtNone, MsgNotImplemented, cmd.Verb)
}

func (c *Conn[T]) fail(ext ExtCode, key MessageKey, args ...any) error {
	return c.writeResponse(Err(ext, c.localize(key, args...)))
}

// resolve maps a message number argument onto the available view, answering
// the client itself when it does not resolve.
func (c *Conn[T]) resolve(md *Maildrop, arg string) (*Message, int, error) {
	msg, n, ok := md.Resolve(arg)
	if !ok {
		count, _ := md.Stat()
		return nil, 0, c.fail(ExtNone, MsgNoSuchMessage, count)
	}
	if msg.Deleted() {
		return nil, 0, c.fail(ExtNone, MsgMessageDeleted, n)
	}
	return msg, n, nil
}

func (c *Conn[T]) handleCAPA() (string, error) {
	return statusOK, c.writeMultiline(OK(c.localize(MsgCapabilities)), c.opts.Capabilities)
}

func (c *Conn[T]) handleLANG(cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		return statusOK, c.writeMultiline(OK(c.localize(MsgLangList)), buildLangResponseLines(c.opts.Languages))
	}

	code := cmd.Arg(0)
	lang, ok := c.opts.Languages.Lookup(code)
	if !ok {
		return statusErr, c.fail(ExtNone, MsgInvalidLanguage, code)
	}
	c.mu.Lock()
	c.session.language = lang
	c.mu.Unlock()
	return statusOK, c.writeResponse(OK(lang.Localize(MsgLangChanged, lang.Code())))
}

func (c *Conn[T]) handleQUIT(ctx context.Context) (string, error) {
	if md, loaded := c.session.Maildrop(); loaded {
		deleted := md.Deleted()
		if err := c.backend.CommitDeletions(ctx, c, deleted); err != nil {
			return "", fmt.Errorf("commit deletions: %w", err)
		}
		if len(deleted) > 0 {
			metrics.MessagesDeleted.WithLabelValues(c.opts.ServerName).Add(float64(len(deleted)))
			c.Log("committed %d deletions", len(deleted))
		}
	}
	if err := c.writeResponse(OK(c.localize(MsgQuit, c.opts.Service))); err != nil {
		return statusOK, err
	}
	return statusOK, errQuit
}

func (c *Conn[T]) handleLIST(md *Maildrop, cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		count, size := md.Stat()
		return statusOK, c.writeMultiline(OK(c.localize(MsgListFollows, count, size)), buildListResponseLines(md.Available()))
	}
	msg, n, err := c.resolve(md, cmd.Arg(0))
	if msg == nil {
		return statusErr, err
	}
	return statusOK, c.writeResponse(OK(fmt.Sprintf("%d %d", n, msg.Size)))
}

func (c *Conn[T]) handleUIDL(md *Maildrop, cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		return statusOK, c.writeMultiline(OK(c.localize(MsgUIDLFollows)), buildUIDLResponseLines(md.Available()))
	}
	msg, n, err := c.resolve(md, cmd.Arg(0))
	if msg == nil {
		return statusErr, err
	}
	return statusOK, c.writeResponse(OK(fmt.Sprintf("%d %s", n, msg.UID)))
}

func (c *Conn[T]) handleRETR(ctx context.Context, md *Maildrop, cmd Command) (string, error) {
	msg, _, err := c.resolve(md, cmd.Arg(0))
	if msg == nil {
		return statusErr, err
	}

	body, err := msg.Contents(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch message %s: %w", msg.UID, err)
	}

	metrics.MessagesRetrieved.WithLabelValues(c.opts.ServerName, CmdRETR).Inc()
	metrics.BytesSent.WithLabelValues(c.opts.ServerName).Add(float64(len(body)))
	return statusOK, c.writeMultiline(OK(c.localize(MsgRetrOctets, msg.Size)), splitBody(body))
}

func (c *Conn[T]) handleTOP(ctx context.Context, md *Maildrop, cmd Command) (string, error) {
	msg, _, err := c.resolve(md, cmd.Arg(0))
	if msg == nil {
		return statusErr, err
	}

	k, perr := strconv.Atoi(cmd.Arg(1))
	if perr != nil || k < 0 {
		return statusErr, c.fail(ExtNone, MsgInvalidArgument, cmd.Arg(1))
	}

	body, err := msg.Contents(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch message %s: %w", msg.UID, err)
	}

	lines := topLines(splitBody(body), k)
	metrics.MessagesRetrieved.WithLabelValues(c.opts.ServerName, CmdTOP).Inc()
	return statusOK, c.writeMultiline(OK(c.localize(MsgTopFollows)), lines)
}

func (c *Conn[T]) handleDELE(md *Maildrop, cmd Command) (string, error) {
	msg, n, err := c.resolve(md, cmd.Arg(0))
	if msg == nil {
		return statusErr, err
	}
	if !md.Delete(msg) {
		return statusErr, c.fail(ExtNone, MsgAlreadyDeleted, n)
	}
	return statusOK, c.writeResponse(OK(c.localize(MsgDeleted, n)))
}
