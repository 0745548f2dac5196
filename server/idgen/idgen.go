// Package idgen generates short, sortable identifiers for sessions and APOP
// banners.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Layout (12 bytes, 20 base32 characters):
//
//	[0:4]  unix seconds
//	[4:7]  node id
//	[7:9]  sequence
//	[9:12] random
const idLen = 12

var (
	nodeID   [3]byte
	sequence atomic.Uint32
	encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)
)

func init() {
	if _, err := rand.Read(nodeID[:]); err == nil {
		return
	}
	if hostname, err := os.Hostname(); err == nil {
		copy(nodeID[:], hostname)
		return
	}
	now := time.Now().UnixNano()
	nodeID = [3]byte{byte(now >> 16), byte(now >> 8), byte(now)}
}

// New returns a fresh lowercase base32 identifier.
func New() string {
	var id [idLen]byte
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], nodeID[:])
	binary.BigEndian.PutUint16(id[7:9], uint16(sequence.Add(1)))
	if _, err := rand.Read(id[9:12]); err != nil {
		now := time.Now().UnixNano()
		id[9], id[10], id[11] = byte(now>>16), byte(now>>8), byte(now)
	}
	return encoding.EncodeToString(id[:])
}

// Valid reports whether s has the shape of an identifier produced by New.
func Valid(s string) bool {
	if len(s) != encoding.EncodedLen(idLen) {
		return false
	}
	return strings.Trim(s, "abcdefghijklmnopqrstuvwxyz234567") == ""
}
