// SPDX-License-Identifier: MIT

package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code classifies an upstream failure. The classification drives retry
// policy, circuit breaker accounting and the message shown to the player.
type Code string

const (
	CodeRateLimit          Code = "rate_limit"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeDatabaseError      Code = "database_error"
	CodeAuthentication     Code = "authentication"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodeClientError        Code = "client_error"
	CodeServerError        Code = "server_error"
	CodeTimeout            Code = "timeout"
	CodeNetwork            Code = "network"
	CodeDNS                Code = "dns"

	// Translation backend refusals.
	CodeMaxTokens         Code = "max_tokens"
	CodeProhibitedContent Code = "prohibited_content"
	CodeInvalidSource     Code = "invalid_source"
)

// OpError is the uniform error for provider and translation operations.
type OpError struct {
	Provider string
	Op       string // "search", "download", "login", "translate"
	Code     Code
	Status   int // HTTP status when one was received
	Err      error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Code))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation could plausibly
// succeed. Authentication and quota failures need intervention, not
// retries; translation refusals are deterministic.
func (e *OpError) Retryable() bool {
	switch e.Code {
	case CodeRateLimit, CodeServiceUnavailable, CodeDatabaseError,
		CodeServerError, CodeTimeout, CodeNetwork, CodeDNS:
		return true
	}
	return false
}

// CountsAgainstBreaker reports whether the failure reflects upstream
// health. Client mistakes and quota exhaustion do not open a breaker.
func (e *OpError) CountsAgainstBreaker() bool {
	switch e.Code {
	case CodeServiceUnavailable, CodeDatabaseError, CodeServerError,
		CodeTimeout, CodeNetwork, CodeDNS:
		return true
	}
	return false
}

// UserMessage renders the short explanation surfaced to the player inside
// a synthesized subtitle.
func (e *OpError) UserMessage() string {
	switch e.Code {
	case CodeRateLimit:
		return fmt.Sprintf("%s is rate limiting requests, try again shortly", e.Provider)
	case CodeServiceUnavailable:
		return fmt.Sprintf("%s is temporarily unavailable", e.Provider)
	case CodeDatabaseError:
		return fmt.Sprintf("%s is having database trouble, try again shortly", e.Provider)
	case CodeAuthentication:
		return fmt.Sprintf("%s rejected the configured credentials", e.Provider)
	case CodeQuotaExceeded:
		return fmt.Sprintf("%s download quota exhausted", e.Provider)
	case CodeTimeout:
		return fmt.Sprintf("%s did not answer in time", e.Provider)
	case CodeDNS, CodeNetwork:
		return fmt.Sprintf("%s is unreachable", e.Provider)
	case CodeMaxTokens:
		return "translation backend hit its output limit"
	case CodeProhibitedContent:
		return "translation backend refused this content"
	case CodeInvalidSource:
		return "source subtitle could not be translated"
	default:
		return fmt.Sprintf("%s request failed", e.Provider)
	}
}

// classifyStatus maps an HTTP status to a Code. 456 and 459 are
// OpenSubtitles' nonstandard throttle statuses, 469 its database overload
// marker, 406 its quota marker.
func classifyStatus(status int) Code {
	switch status {
	case 429, 456, 459:
		return CodeRateLimit
	case 502, 503, 504:
		return CodeServiceUnavailable
	case 469:
		return CodeDatabaseError
	case 401, 403:
		return CodeAuthentication
	case 406:
		return CodeQuotaExceeded
	}
	switch {
	case status >= 500:
		return CodeServerError
	case status >= 400:
		return CodeClientError
	}
	return ""
}

// classifyTransport maps a transport-level error to a Code.
func classifyTransport(err error) Code {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	return CodeNetwork
}

// NewHTTPError wraps an unexpected status.
func NewHTTPError(provider, op string, status int) *OpError {
	return &OpError{Provider: provider, Op: op, Code: classifyStatus(status), Status: status}
}

// NewTransportError wraps a failed round trip.
func NewTransportError(provider, op string, err error) *OpError {
	return &OpError{Provider: provider, Op: op, Code: classifyTransport(err), Err: err}
}

// AsOpError extracts an *OpError from an error chain.
func AsOpError(err error) (*OpError, bool) {
	var oe *OpError
	ok := errors.As(err, &oe)
	return oe, ok
}
