package server

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	localPartRe = regexp.MustCompile(`^(?i)(?:[a-z0-9!#$%&'*+/=?^_\{\|\}~-])+(?:\.(?:[a-z0-9!#$%&'*+/=?^_\{\|\}~-])+)*$`)
	domainRe    = regexp.MustCompile(`^(?i)(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)
)

// Address is a validated, lower-cased mailbox address used as a login name.
type Address struct {
	localPart string
	domain    string
}

// NewAddress parses and validates a login address. A +detail suffix is kept
// in LocalPart and dropped by BaseAddress.
func NewAddress(input string) (Address, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return Address{}, fmt.Errorf("address is empty")
	}
	if strings.ContainsAny(input, " \t\r\n") {
		return Address{}, fmt.Errorf("address contains whitespace: '%s'", input)
	}

	localPart, domain, ok := strings.Cut(input, "@")
	if !ok {
		return Address{}, fmt.Errorf("address missing @: '%s'", input)
	}
	if strings.Contains(domain, "@") {
		return Address{}, fmt.Errorf("too many @ symbols in address: '%s'", input)
	}
	if !localPartRe.MatchString(localPart) {
		return Address{}, fmt.Errorf("unacceptable local part: '%s'", localPart)
	}
	if !domainRe.MatchString(domain) {
		return Address{}, fmt.Errorf("unacceptable domain: '%s'", domain)
	}
	return Address{localPart: localPart, domain: domain}, nil
}

func (a Address) FullAddress() string { return a.localPart + "@" + a.domain }
func (a Address) LocalPart() string   { return a.localPart }
func (a Address) Domain() string      { return a.domain }

// Detail returns the part after "+" in the local part, if any.
func (a Address) Detail() string {
	_, detail, _ := strings.Cut(a.localPart, "+")
	return detail
}

// BaseLocalPart returns the local part without +detail.
func (a Address) BaseLocalPart() string {
	base, _, _ := strings.Cut(a.localPart, "+")
	return base
}

// BaseAddress returns the address without +detail, which is the account key.
func (a Address) BaseAddress() string {
	return a.BaseLocalPart() + "@" + a.domain
}
