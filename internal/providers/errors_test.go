// SPDX-License-Identifier: MIT

package providers

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Code{
		429: CodeRateLimit,
		456: CodeRateLimit,
		459: CodeRateLimit,
		502: CodeServiceUnavailable,
		503: CodeServiceUnavailable,
		504: CodeServiceUnavailable,
		469: CodeDatabaseError,
		401: CodeAuthentication,
		403: CodeAuthentication,
		406: CodeQuotaExceeded,
		404: CodeClientError,
		418: CodeClientError,
		500: CodeServerError,
		599: CodeServerError,
	}
	for status, want := range cases {
		assert.Equal(t, want, classifyStatus(status), "status %d", status)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []Code{CodeRateLimit, CodeServiceUnavailable, CodeDatabaseError, CodeServerError, CodeTimeout, CodeNetwork, CodeDNS}
	for _, code := range retryable {
		assert.True(t, (&OpError{Code: code}).Retryable(), string(code))
	}
	terminal := []Code{CodeAuthentication, CodeQuotaExceeded, CodeClientError, CodeMaxTokens, CodeProhibitedContent, CodeInvalidSource}
	for _, code := range terminal {
		assert.False(t, (&OpError{Code: code}).Retryable(), string(code))
	}
}

func TestBreakerAccounting(t *testing.T) {
	// Rate limits and auth failures say nothing about upstream health.
	assert.False(t, (&OpError{Code: CodeRateLimit}).CountsAgainstBreaker())
	assert.False(t, (&OpError{Code: CodeAuthentication}).CountsAgainstBreaker())
	assert.False(t, (&OpError{Code: CodeQuotaExceeded}).CountsAgainstBreaker())
	assert.True(t, (&OpError{Code: CodeTimeout}).CountsAgainstBreaker())
	assert.True(t, (&OpError{Code: CodeServerError}).CountsAgainstBreaker())
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, CodeDNS, classifyTransport(&net.DNSError{Err: "no such host", Name: "x"}))
	assert.Equal(t, CodeTimeout, classifyTransport(fmt.Errorf("wrapped: %w", &timeoutErr{})))
	assert.Equal(t, CodeNetwork, classifyTransport(errors.New("connection reset")))
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "i/o timeout" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }

func TestOpErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("boom")
	err := &OpError{Provider: "subdl", Op: "search", Code: CodeServiceUnavailable, Status: 503, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "subdl search")
	assert.Contains(t, err.Error(), "http 503")
	assert.Contains(t, err.UserMessage(), "subdl")

	oe, ok := AsOpError(fmt.Errorf("outer: %w", err))
	assert.True(t, ok)
	assert.Equal(t, CodeServiceUnavailable, oe.Code)
}
