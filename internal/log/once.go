// SPDX-License-Identifier: MIT

package log

import (
	"errors"
	"sync"
)

// loggedError marks an error as already emitted so upper layers can skip
// re-logging it.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// MarkLogged wraps err so that IsLogged reports true for it and anything
// wrapping it.
func MarkLogged(err error) error {
	if err == nil {
		return nil
	}
	var le *loggedError
	if errors.As(err, &le) {
		return err
	}
	return &loggedError{err: err}
}

// IsLogged reports whether err has already been logged somewhere below.
func IsLogged(err error) bool {
	var le *loggedError
	return errors.As(err, &le)
}

// Fingerprint caps how often a given error pattern is reported onward.
// Operational noise (rate limits, auth failures, transient network errors)
// should not flood telemetry.
const maxSendsPerFingerprint = 5

var (
	fpMu     sync.Mutex
	fpCounts = map[string]int{}
)

// ShouldReport returns true while the per-fingerprint send budget lasts.
func ShouldReport(fingerprint string) bool {
	fpMu.Lock()
	defer fpMu.Unlock()
	if fpCounts[fingerprint] >= maxSendsPerFingerprint {
		return false
	}
	fpCounts[fingerprint]++
	return true
}

// ResetReportCounts clears the fingerprint budget, for tests.
func ResetReportCounts() {
	fpMu.Lock()
	defer fpMu.Unlock()
	fpCounts = map[string]int{}
}
