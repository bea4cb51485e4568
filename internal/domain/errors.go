package domain

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable rejection code returned to clients.
type Reason string

// Rejection reasons
const (
	ReasonMissingField         Reason = "missing_field"
	ReasonInvalidGameType      Reason = "invalid_game_type"
	ReasonInvalidPlayerAddress Reason = "invalid_player_address"
	ReasonScoreOutOfBounds     Reason = "score_out_of_bounds"
	ReasonDurationTooShort     Reason = "duration_too_short"
	ReasonDuplicateSubmission  Reason = "duplicate_submission"
	ReasonInvalidRequest       Reason = "invalid_request"
	ReasonChainAnchorFailed    Reason = "chain_anchor_failed"
)

// Retryable reports whether resubmitting the same payload may succeed later.
func (r Reason) Retryable() bool {
	return r == ReasonChainAnchorFailed
}

// Domain errors
var (
	ErrGameNotFound   = errors.New("game not found")
	ErrPlayerNotFound = errors.New("player not found in leaderboard")
	ErrRecordNotFound = errors.New("score record not found")
	ErrNonceExists    = errors.New("nonce already used")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// RejectionError is returned when a submission is refused for a client-visible reason.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Reject builds a RejectionError for the given reason
func Reject(reason Reason) error {
	return &RejectionError{Reason: reason}
}

// Rejectf builds a RejectionError with a formatted detail message
func Rejectf(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectionReason extracts the reason code from err, if it is a rejection.
func RejectionReason(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
