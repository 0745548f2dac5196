package pop3

import (
	"fmt"
	"strings"
)

// MessageKey names a localized response text.
type MessageKey int

const (
	MsgGreeting MessageKey = iota
	MsgQuit
	MsgCapabilities
	MsgUserAccepted
	MsgUserRejected
	MsgUserAlreadyGiven
	MsgExecuteFirst
	MsgPassAccepted
	MsgPassRejected
	MsgPermissionDenied
	MsgMaildropReady
	MsgInUse
	MsgListFollows
	MsgUIDLFollows
	MsgRetrOctets
	MsgTopFollows
	MsgDeleted
	MsgAlreadyDeleted
	MsgMessageDeleted
	MsgReset
	MsgLangList
	MsgLangChanged
	MsgInvalidLanguage
	MsgInvalidState
	MsgInvalidParams
	MsgInvalidParamsOptional
	MsgInvalidArgument
	MsgNotImplemented
	MsgNoSuchMessage
	MsgInvalidCommand
	MsgTooManyInvalid
	MsgIdleTimeout
	MsgShutdown

	messageKeyCount
)

// Language is an immutable response table for one language code.
type Language struct {
	code     string
	name     string
	messages [messageKeyCount]string
}

// NewLanguage builds a table from fmt format strings. Every key must be present.
func NewLanguage(code, name string, messages map[MessageKey]string) (*Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("language code is required")
	}
	l := &Language{code: code, name: name}
	for k := MessageKey(0); k < messageKeyCount; k++ {
		msg, ok := messages[k]
		if !ok {
			return nil, fmt.Errorf("language %q is missing message key %d", code, k)
		}
		l.messages[k] = msg
	}
	return l, nil
}

func mustLanguage(code, name string, messages map[MessageKey]string) *Language {
	l, err := NewLanguage(code, name, messages)
	if err != nil {
		panic(err)
	}
	return l
}

// Code returns the RFC 6856 language tag.
func (l *Language) Code() string { return l.code }

// Name returns the human readable language name used in LANG listings.
func (l *Language) Name() string { return l.name }

// Localize formats the message for key with args.
func (l *Language) Localize(key MessageKey, args ...any) string {
	if key < 0 || key >= messageKeyCount {
		return ""
	}
	if len(args) == 0 {
		return l.messages[key]
	}
	return fmt.Sprintf(l.messages[key], args...)
}

// LanguageSet is the read-only catalog of languages a server offers.
type LanguageSet struct {
	byCode map[string]*Language
	order  []*Language
}

// NewLanguageSet builds a catalog. The first language is the default.
func NewLanguageSet(langs ...*Language) (*LanguageSet, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	set := &LanguageSet{byCode: make(map[string]*Language, len(langs))}
	for _, l := range langs {
		if _, dup := set.byCode[l.code]; dup {
			return nil, fmt.Errorf("duplicate language %q", l.code)
		}
		set.byCode[l.code] = l
		set.order = append(set.order, l)
	}
	return set, nil
}

// Lookup finds a language by code, case-insensitively.
func (s *LanguageSet) Lookup(code string) (*Language, bool) {
	l, ok := s.byCode[strings.ToLower(code)]
	return l, ok
}

// Default returns the first language of the set.
func (s *LanguageSet) Default() *Language {
	return s.order[0]
}

// All returns the languages in catalog order.
func (s *LanguageSet) All() []*Language {
	out := make([]*Language, len(s.order))
	copy(out, s.order)
	return out
}

var builtinLanguages = func() *LanguageSet {
	set, err := NewLanguageSet(English, Dutch)
	if err != nil {
		panic(err)
	}
	return set
}()

// DefaultLanguages returns the built-in English and Dutch catalog.
func DefaultLanguages() *LanguageSet {
	return builtinLanguages
}
