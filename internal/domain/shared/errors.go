// Package shared contains the error taxonomy used across all domain packages.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Record errors
	ErrNotFound = errors.New("record not found")

	// Mutation errors
	ErrRejected     = errors.New("mutation rejected")
	ErrInvalidInput = errors.New("invalid input")

	// Collaborator errors
	ErrStorage = errors.New("storage operation failed")
	ErrNetwork = errors.New("network operation failed")
	ErrTimeout = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "user", "progression", "achievement"
	Op      string // Operation that failed, e.g., "Load", "ApplyExpDelta"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e == t
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression rejections.
var (
	ErrNotEnoughExp       = NewDomainError("progression", "ApplyExpDelta", ErrRejected, "not enough EXP")
	ErrExpOutOfRange      = NewDomainError("progression", "ApplyExpDelta", ErrInvalidInput, "EXP out of range")
	ErrNotEnoughCoins     = NewDomainError("economy", "ChangeCoins", ErrRejected, "not enough coins")
	ErrCoinsOutOfRange    = NewDomainError("economy", "ChangeCoins", ErrInvalidInput, "coin balance out of range")
	ErrNegativeMsgCount   = NewDomainError("economy", "ChangeMessageCount", ErrRejected, "message count can't be negative")
	ErrMsgCountOutOfRange = NewDomainError("economy", "ChangeMessageCount", ErrInvalidInput, "message count out of range")
	ErrNonPositiveAmount  = NewDomainError("economy", "Transact", ErrRejected, "amount must be positive")
	ErrSelfTransfer       = NewDomainError("economy", "Transact", ErrRejected, "cannot transact coins to yourself")
	ErrInvalidBoosterKind = NewDomainError("economy", "GiveBooster", ErrInvalidInput, "booster kind must be exp or coin")
	ErrInvalidDuration    = NewDomainError("economy", "GiveBooster", ErrInvalidInput, "booster duration out of range")
)

// Achievement rejections.
var (
	ErrAlreadyConnected = NewDomainError("achievement", "Connect", ErrRejected, "a DMOJ account is already connected")
	ErrNotConnected     = NewDomainError("achievement", "Fetch", ErrRejected, "no DMOJ account connected")
	ErrEmptyProfile     = NewDomainError("achievement", "Connect", ErrRejected,
		"account does not exist or has not finished any CCC problem")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRejected checks if the mutation was refused and nothing was persisted.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrInvalidInput)
}

// IsStorage checks if the error comes from the persistence layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsNetwork checks if the error comes from an external fetch.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsTimeout checks if the operation ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// RejectionMessage returns the human readable reason of a rejection, or an
// empty string when err is not a DomainError.
func RejectionMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
