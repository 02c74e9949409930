package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping it
	err := Wrap(Upstream, originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     Code
		message  string
		expected string
	}{
		{name: "validation", code: Validation, message: "query cannot be empty", expected: "[VALIDATION] query cannot be empty"},
		{name: "not found", code: NotFound, message: "uid pubmed:123 not found", expected: "[NOT_FOUND] uid pubmed:123 not found"},
		{name: "upstream", code: Upstream, message: "pubmed eutils returned 503", expected: "[UPSTREAM] pubmed eutils returned 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code
	err1 := New(NotFound, "doc A not found")
	err2 := New(NotFound, "doc B not found")

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(NotFound, "doc not found")
	err2 := New(Validation, "bad input")

	// Then: they don't match
	assert.False(t, errors.Is(err1, err2))
}

func TestError_WithDetail_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(NotFound, "doc not found")

	// When: adding details
	err = err.WithDetail("uid", "pubmed:123")
	err = err.WithDetail("source", "pubmed")

	// Then: details are available
	assert.Equal(t, "pubmed:123", err.Details["uid"])
	assert.Equal(t, "pubmed", err.Details["source"])
}

func TestWrap_CreatesErrorFromStandardError(t *testing.T) {
	// Given: a standard error
	originalErr := errors.New("connection refused")

	// When: wrapping with a code
	err := Wrap(Upstream, originalErr)

	// Then: it carries the code, message, and cause
	require.NotNil(t, err)
	assert.Equal(t, Upstream, err.Code)
	assert.Equal(t, "connection refused", err.Message)
	assert.Equal(t, originalErr, err.Cause)
}

func TestWrap_NilError_ReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(Upstream, nil))
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf(NotFound, "uid %s not found", "pubmed:123")
	assert.Equal(t, "uid pubmed:123 not found", err.Message)
	assert.Equal(t, NotFound, err.Code)
}

func TestHelperConstructors_SetExpectedCodes(t *testing.T) {
	assert.Equal(t, Validation, Validationf("bad input").Code)
	assert.Equal(t, NotFound, NotFoundf("missing").Code)
	assert.Equal(t, Upstream, Upstreamf("upstream failed").Code)
	assert.Equal(t, Invariant, Invariantf("invariant broken").Code)
}

func TestCodeOf_ExtractsCodeFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"structured error", New(RateLimit, "too many requests"), RateLimit},
		{"wrapped structured error", Wrap(Timeout, errors.New("deadline")), Timeout},
		{"standard error", errors.New("plain"), Unknown},
		{"nil error", nil, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsRetryable_ChecksCodeRetryability(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "retryable code", err: New(Timeout, "timed out"), expected: true},
		{name: "non-retryable code", err: New(Validation, "bad input"), expected: false},
		{name: "wrapped retryable error", err: Wrap(BreakerOpen, errors.New("breaker open")), expected: true},
		{name: "standard error", err: errors.New("standard error"), expected: false},
		{name: "nil error", err: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsTerminal_ChecksCodeTerminality(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "terminal code", err: New(Conflict, "version conflict"), expected: true},
		{name: "non-terminal code", err: New(Upstream, "upstream failed"), expected: false},
		{name: "standard error", err: errors.New("standard error"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTerminal(tt.err))
		})
	}
}
