package helpers

import (
	"fmt"
	"strings"
)

// NewS3Key builds the object key of a message body: domain/localpart/hash.
func NewS3Key(address, hash string) string {
	localPart, domain := SplitEmailAddress(address)
	return fmt.Sprintf("%s/%s/%s", domain, localPart, hash)
}

// SplitEmailAddress returns the lower-cased local part and domain. An address
// without "@" is all local part.
func SplitEmailAddress(email string) (string, string) {
	localPart, domain, _ := strings.Cut(strings.ToLower(email), "@")
	return localPart, domain
}
