package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsBlocking(t *testing.T) {
	cases := []struct {
		message  string
		blocking bool
	}{
		{"operation rejected by user", true},
		{"Permission denied: /etc/shadow", true},
		{(&PolicyRejectedError{Reason: "rm is not allowed"}).Error(), true},
		{(&StageTimeoutError{Worker: "coder", Timeout: 30 * time.Second}).Error(), true},
		{"file not found", false},
		{"exit status 1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsBlocking(tc.message); got != tc.blocking {
			t.Fatalf("IsBlocking(%q) = %v, want %v", tc.message, got, tc.blocking)
		}
	}
}

func TestIsTransientClassification(t *testing.T) {
	require.True(t, IsTransient(NewTransientError(errors.New("reset"), "endpoint unreachable")))
	require.True(t, IsTransient(fmt.Errorf("call failed: %w", NewTransientError(errors.New("reset"), ""))))
	require.True(t, IsTransient(errors.New("request failed with status 503: unavailable")))
	require.False(t, IsTransient(NewPermanentError(errors.New("bad"), "rejected by provider")))
	require.False(t, IsTransient(errors.New("request failed with status 400: bad request")))
	require.False(t, IsTransient(nil))
}

func TestIsPermanentClassification(t *testing.T) {
	require.True(t, IsPermanent(NewPermanentError(errors.New("bad"), "")))
	require.True(t, IsPermanent(errors.New("unknown tool read_filez")))
	require.True(t, IsPermanent(errors.New("request failed with status 404: no such model")))
	require.False(t, IsPermanent(NewTransientError(errors.New("reset"), "")))
	require.False(t, IsPermanent(nil))
}

func TestGetErrorType(t *testing.T) {
	require.Equal(t, ErrorTypeDegraded, GetErrorType(NewDegradedError(errors.New("down"), "stage unavailable", "")))
	require.Equal(t, ErrorTypeTransient, GetErrorType(NewTransientError(errors.New("reset"), "")))
	require.Equal(t, ErrorTypePermanent, GetErrorType(errors.New("something unclassifiable")))
	require.Equal(t, ErrorTypePermanent, GetErrorType(nil))
}

func TestIsDegradedUnwraps(t *testing.T) {
	deg := NewDegradedError(errors.New("provider down"), "tester unavailable", "")
	require.True(t, IsDegraded(deg))
	require.True(t, IsDegraded(fmt.Errorf("pipeline: %w", deg)))
	require.False(t, IsDegraded(errors.New("provider down")))
}

func TestSanitizeTypedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&StageTimeoutError{Worker: "coder", Timeout: 30 * time.Second}, "The coder stage timed out after 30s."},
		{&GlobalTimeoutError{Timeout: 10 * time.Minute}, "The request timed out. Try a smaller request or raise the request timeout."},
		{&DecisionError{Err: errors.New("no JSON")}, "The request could not be routed. Please rephrase and try again."},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Sanitize(tc.err))
	}

	// Untyped errors are trimmed to their first line.
	require.Equal(t, "top line", Sanitize(errors.New("top line\nstack frame 1\nstack frame 2")))
	require.Empty(t, Sanitize(nil))
}

func TestFormatForLLM(t *testing.T) {
	require.Equal(t, "endpoint unreachable",
		FormatForLLM(NewTransientError(errors.New("dial tcp: reset"), "endpoint unreachable")))
	require.Contains(t, FormatForLLM(errors.New("dial tcp 127.0.0.1:9: connection refused")), "not running")
	require.Contains(t, FormatForLLM(errors.New("429 rate limit exceeded")), "rate limit")
	require.Contains(t, FormatForLLM(&StageTimeoutError{Worker: "coder", Timeout: time.Minute}), "timed out")
	require.Equal(t, "something else entirely", FormatForLLM(errors.New("something else entirely")))
	require.Empty(t, FormatForLLM(nil))
}

// retryLoop must give up immediately on anything not classified transient.
func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return NewPermanentError(errors.New("bad request"), "rejected by provider")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryStopsOnDegradedError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return NewDegradedError(errors.New("provider down"), "stage unavailable", "")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
