package api

import (
	"errors"
	"fmt"
)

// ErrCode is the typed error code enum carried in server error bodies.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	CodeInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	CodeTokenRequired      ErrCode = "TOKEN_REQUIRED"
	CodeTokenInvalid       ErrCode = "TOKEN_INVALID"
	CodeTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	CodeValidation     ErrCode = "VALIDATION_ERROR"
	CodeInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	CodeNotFound ErrCode = "NOT_FOUND"
	CodeConflict ErrCode = "CONFLICT"

	// ─── Exam-specific ─────────────────────────────────────────────────
	CodeQuizNotAvailable  ErrCode = "QUIZ_NOT_AVAILABLE"
	CodeAttemptFinalized  ErrCode = "ATTEMPT_FINALIZED"
	CodeMaxAttemptsUsed   ErrCode = "MAX_ATTEMPTS_REACHED"
	CodeAttemptNotStarted ErrCode = "ATTEMPT_NOT_STARTED"

	// ─── Server ────────────────────────────────────────────────────────
	CodeInternal ErrCode = "INTERNAL_ERROR"
)

// ErrSessionExpired is returned when authentication cannot be recovered:
// the refresh token was rejected or a replayed request still came back 401.
// The credential store has already been cleared when this surfaces; the
// caller's only recourse is a fresh login. Durable answer slots survive.
var ErrSessionExpired = errors.New("api: session expired, please log in again")

// APIError is a non-2xx response decoded from the server error body.
type APIError struct {
	StatusCode int
	Code       ErrCode
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// AsAPIError unwraps err into an *APIError, or nil.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsRetryable reports whether the failure is transient from the session's
// point of view: the attempt stays open and a manual resubmission may succeed.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return false
	}
	if apiErr := AsAPIError(err); apiErr != nil {
		return apiErr.StatusCode >= 500
	}
	// Transport-level failure (connection refused, reset, DNS).
	return err != nil
}
