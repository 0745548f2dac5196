package pop3

// State is the phase of the POP3 state machine.
type State int

const (
	// StateAuthorization is the initial state where authentication is required.
	StateAuthorization State = iota
	// StateTransaction is the state after successful authentication.
	StateTransaction
)

func (s State) String() string {
	switch s {
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// MaildropState is either MaildropNotLoaded or MaildropLoaded.
type MaildropState interface {
	isMaildropState()
}

// MaildropNotLoaded is the maildrop state before authentication.
type MaildropNotLoaded struct{}

// MaildropLoaded carries the messages loaded on entering TRANSACTION.
type MaildropLoaded struct {
	Maildrop *Maildrop
}

func (MaildropNotLoaded) isMaildropState() {}
func (MaildropLoaded) isMaildropState() {}

// Session is the per-connection protocol state.
type Session struct {
	state           State
	language        *Language
	banner          Banner
	user            *User
	maildrop        MaildropState
	invalidCommands int
}

func newSession(banner Banner, lang *Language) *Session {
	return &Session{
		state:    StateAuthorization,
		language: lang,
		banner:   banner,
		maildrop: MaildropNotLoaded{},
	}
}

func (s *Session) State() State { return s.state }
func (s *Session) Language() *Language { return s.language }
func (s *Session) Banner() Banner { return s.banner }
func (s *Session) User() *User { return s.user }
func (s *Session) MaildropState() MaildropState { return s.maildrop }
func (s *Session) InvalidCommands() int { return s.invalidCommands }

// Maildrop returns the loaded maildrop, if any.
func (s *Session) Maildrop() (*Maildrop, bool) {
	switch md := s.maildrop.(type) {
	case MaildropLoaded:
		return md.Maildrop, md.Maildrop != nil
	default:
		return nil, false
	}
}

func (s *Session) setUser(u *User) { s.user = u }
func (s *Session) clearUser() { s.user = nil }

// enterTransaction loads the maildrop and switches state in one step.
func (s *Session) enterTransaction(messages []*Message) *Maildrop {
	md := NewMaildrop(messages)
	s.maildrop = MaildropLoaded{Maildrop: md}
	s.state = StateTransaction
	return md
}

func (s *Session) countInvalid() int {
	s.invalidCommands++
	return s.invalidCommands
}
