// Package errs defines the error taxonomy for the orchestration engine and
// the retry helpers built on top of it. Classification drives three distinct
// behaviors: transient errors are retried with backoff, blocking tool errors
// halt a sequential batch, and domain errors (policy rejection, timeouts,
// decision failure, verification exhaustion) carry structured context to the
// caller.
package errs

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrorType classifies errors for retry logic.
type ErrorType int

const (
	// ErrorTypeTransient - retry-able errors
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - non-retry-able errors
	ErrorTypePermanent
	// ErrorTypeDegraded - can continue with reduced functionality
	ErrorTypeDegraded
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	RetryAfter int    // Seconds to wait before retry (from Retry-After header)
	Message    string // Model-friendly message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError marks a failure the caller can absorb with reduced output,
// e.g. a quality stage whose completion call failed.
type DegradedError struct {
	Err             error
	FallbackContent string
	Message         string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// PolicyRejectedError reports a security validator denial. Never retried;
// the reason and suggestion are surfaced verbatim.
type PolicyRejectedError struct {
	Command    string
	Program    string
	Reason     string
	Suggestion string
}

func (e *PolicyRejectedError) Error() string {
	msg := fmt.Sprintf("command blocked for security: %s", e.Reason)
	if e.Suggestion != "" {
		msg += ". " + e.Suggestion
	}
	return msg
}

// StageTimeoutError reports a per-worker stage deadline expiry. The stage is
// abandoned; orchestration may continue with the next step.
type StageTimeoutError struct {
	Worker  string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("%s stage timeout after %s", e.Worker, e.Timeout)
}

// GlobalTimeoutError reports expiry of the request-wide deadline.
type GlobalTimeoutError struct {
	Timeout time.Duration
}

func (e *GlobalTimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %s", e.Timeout)
}

// DecisionError marks a routing failure. Fatal for the request; no fallback
// decision is fabricated.
type DecisionError struct {
	Err error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("decision failed: %v", e.Err)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// VerificationExhaustedError reports a fix cycle that ran out of attempts
// with errors still present.
type VerificationExhaustedError struct {
	Attempts   int
	RolledBack bool
	Residual   []string
}

func (e *VerificationExhaustedError) Error() string {
	state := "partial result retained"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("verification exhausted after %d attempts (%s): %s",
		e.Attempts, state, strings.Join(e.Residual, "; "))
}

// blockingPatterns identify tool errors severe enough to halt a sequential
// batch. Matched case-insensitively against the error message.
var blockingPatterns = []string{
	"rejected by user",
	"permission denied",
	"blocked for security",
	"timeout",
}

// IsBlocking reports whether a tool error message belongs to the blocking
// class (approval rejection, permission, security denial, timeout).
func IsBlocking(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, p := range blockingPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return isTransientHTTPStatus(code)
	}

	if isSyscallError(err) {
		return true
	}

	return false
}

// IsPermanent checks if an error is non-retry-able.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return isPermanentHTTPStatus(code)
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
		"unknown tool",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// IsDegraded checks if an error allows degraded service.
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// GetErrorType classifies an error.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	// Default to permanent to avoid infinite retries.
	return ErrorTypePermanent
}

// Sanitize converts an error into a user-visible message: no stack traces,
// no internal identifiers. Full detail stays in operator logs.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}

	var policyErr *PolicyRejectedError
	if errors.As(err, &policyErr) {
		return policyErr.Error()
	}
	var stageErr *StageTimeoutError
	if errors.As(err, &stageErr) {
		return fmt.Sprintf("The %s stage timed out after %s.", stageErr.Worker, stageErr.Timeout)
	}
	var globalErr *GlobalTimeoutError
	if errors.As(err, &globalErr) {
		return "The request timed out. Try a smaller request or raise the request timeout."
	}
	var decisionErr *DecisionError
	if errors.As(err, &decisionErr) {
		return "The request could not be routed. Please rephrase and try again."
	}
	var exhaustedErr *VerificationExhaustedError
	if errors.As(err, &exhaustedErr) {
		if exhaustedErr.RolledBack {
			return fmt.Sprintf("Automatic repair did not converge after %d attempts; changes were rolled back.", exhaustedErr.Attempts)
		}
		return fmt.Sprintf("Automatic repair did not fully converge after %d attempts; the best-effort result was kept.", exhaustedErr.Attempts)
	}

	msg := err.Error()
	if i := strings.IndexAny(msg, "\n"); i > 0 {
		msg = msg[:i]
	}
	return msg
}

// FormatForLLM converts technical errors to model-friendly actionable messages.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.Message != "" {
		return transientErr.Message
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.Message != "" {
		return permanentErr.Message
	}
	var degradedErr *DegradedError
	if errors.As(err, &degradedErr) && degradedErr.Message != "" {
		return degradedErr.Message
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "connection refused"):
		return "Service is not running. Check that the completion endpoint is reachable."
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return "API rate limit reached. The system retries automatically with backoff."
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "Request timed out. Break the operation into smaller steps or raise the stage timeout."
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return "Authentication failed. Check the API key configuration."
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "403"):
		return "Permission denied. The resource is not accessible."
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return "Resource not found. Verify the path or identifier."
	}

	return err.Error()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"deadline exceeded",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanentHTTPStatus(code int) bool {
	switch code {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusGone,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

var httpStatusRe = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

func extractHTTPStatusCode(err error) int {
	m := httpStatusRe.FindString(err.Error())
	if m == "" {
		return 0
	}
	code, _ := strconv.Atoi(m)
	return code
}

// Helper constructors

// NewTransientError creates a transient error with a model-friendly message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a permanent error with a model-friendly message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError creates a degraded error with fallback content.
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, FallbackContent: fallback}
}
