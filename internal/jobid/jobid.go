// Package jobid generates and validates job identifiers.
//
// A job id is a ULID: 26 Crockford base32 characters whose lexicographic
// order follows creation time. Ids arriving over HTTP are validated here,
// at the boundary, so the store only ever sees well-formed ids.
package jobid

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is shared so that ids generated within the same millisecond are
// monotonically increasing. ulid.Monotonic is not safe for concurrent use,
// hence the mutex.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh, time-ordered job id.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Parse validates s as a job id and returns its canonical (upper-case) form.
// The error describes the offending input and is safe to echo to clients.
func Parse(s string) (string, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", fmt.Errorf("expected a valid ulid, got %q: %w", s, err)
	}
	return id.String(), nil
}

// Valid reports whether s is a well-formed job id.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
