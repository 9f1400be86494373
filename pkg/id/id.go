// Package id generates sortable identifiers for ledger records.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID string. IDs generated within the same millisecond are
// strictly increasing.
func New() string {
	return At(time.Now())
}

// At returns a ULID stamped with t.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
