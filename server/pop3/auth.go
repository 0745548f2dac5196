package pop3

import (
	"context"
	"fmt"

	"github.com/migadu/pop3d/pkg/metrics"
)

const (
	authMethodPass = "pass"
	authMethodAPOP = "apop"
)

func (c *Conn[T]) authResult(method, result string) {
	metrics.AuthenticationAttempts.WithLabelValues(c.opts.ServerName, method, result).Inc()
}

func (c *Conn[T]) handleUSER(ctx context.Context, cmd Command) (string, error) {
	if c.session.user != nil {
		return statusErr, c.fail(ExtNone, MsgUserAlreadyGiven)
	}

	name := cmd.Arg(0)
	user, err := c.backend.LookupUser(ctx, c, name)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		c.DebugLog("USER rejected for %q", name)
		return statusErr, c.fail(ExtNone, MsgUserRejected)
	}

	c.session.setUser(user)
	return statusOK, c.writeResponse(OK(c.localize(MsgUserAccepted, user.Name)))
}

func (c *Conn[T]) handlePASS(ctx context.Context, cmd Command) (string, error) {
	user := c.session.user
	if user == nil {
		return statusErr, c.fail(ExtNone, MsgExecuteFirst, CmdUSER, CmdPASS)
	}

	match, err := c.backend.CompareCredential(ctx, cmd.Arg(0), user.Credential)
	if err != nil {
		return "", fmt.Errorf("compare credential: %w", err)
	}
	if !match {
		c.session.clearUser()
		c.authResult(authMethodPass, "failure")
		c.Log("authentication failed for %q", user.Name)
		return statusErr, c.fail(ExtAuth, MsgPassRejected)
	}

	if ok, err := c.checkInUse(ctx, authMethodPass); !ok {
		return statusErr, err
	}

	if _, err := c.enterTransaction(ctx, user, authMethodPass); err != nil {
		return "", err
	}
	return statusOK, c.writeResponse(OK(c.localize(MsgPassAccepted, user.Name)))
}

func (c *Conn[T]) handleAPOP(ctx context.Context, cmd Command) (string, error) {
	name, digest := cmd.Arg(0), cmd.Arg(1)

	user, err := c.backend.LookupUser(ctx, c, name)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		c.session.clearUser()
		c.authResult(authMethodAPOP, "failure")
		return statusErr, c.fail(ExtAuth, MsgPermissionDenied)
	}
	if !user.HasSecret() {
		c.session.clearUser()
		c.authResult(authMethodAPOP, "unavailable")
		return statusErr, c.fail(ExtSys, MsgPermissionDenied)
	}

	c.session.setUser(user)
	if !VerifyAPOP(c.session.banner, user.Secret, digest) {
		c.session.clearUser()
		c.authResult(authMethodAPOP, "failure")
		c.Log("APOP digest mismatch for %q", user.Name)
		return statusErr, c.fail(ExtAuth, MsgPermissionDenied)
	}

	if ok, err := c.checkInUse(ctx, authMethodAPOP); !ok {
		return statusErr, err
	}

	md, err := c.enterTransaction(ctx, user, authMethodAPOP)
	if err != nil {
		return "", err
	}
	count, size := md.Stat()
	return statusOK, c.writeResponse(OK(c.localize(MsgMaildropReady, count, size)))
}

// checkInUse rejects a second session for the same maildrop. It returns false
// when the command has been answered or failed.
func (c *Conn[T]) checkInUse(ctx context.Context, method string) (bool, error) {
	inUse, err := c.backend.HasActiveSession(ctx, c)
	if err != nil {
		return false, fmt.Errorf("check active session: %w", err)
	}
	if inUse {
		c.session.clearUser()
		c.authResult(method, "in_use")
		return false, c.fail(ExtInUse, MsgInUse)
	}
	return true, nil
}

func (c *Conn[T]) enterTransaction(ctx context.Context, user *User, method string) (*Maildrop, error) {
	messages, err := c.backend.ListMessages(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	md := c.session.enterTransaction(messages)
	c.Session.User = user.Name
	c.authResult(method, "success")
	metrics.AuthenticatedConnectionsCurrent.WithLabelValues(c.opts.ServerName).Inc()
	if c.opts.OnAuthenticated != nil {
		c.opts.OnAuthenticated()
	}

	count, size := md.Stat()
	c.Log("authenticated with %s, maildrop has %d messages (%d octets)", method, count, size)
	return md, nil
}
