// Package common defines shared constants and sentinel errors used across
// the classification service. Callers should use errors.Is / errors.As to
// match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Credential errors.
	ErrMissingCredential = errors.New("missing api key")
	ErrInvalidCredential = errors.New("invalid api key")
	ErrExpiredCredential = errors.New("api key expired")
	ErrTooManyAPIKeys    = errors.New("api key limit reached")

	// Session token errors.
	ErrInvalidToken      = errors.New("invalid token")
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrInactivePrincipal = errors.New("inactive user")
	ErrInsufficientScope = errors.New("not enough permissions")

	// Admission errors.
	ErrPayloadTooLarge         = errors.New("payload too large")
	ErrRateLimited             = errors.New("too many requests")
	ErrRateLimiterUnavailable  = errors.New("rate limiter unavailable")
	ErrSaturated               = errors.New("task queue is full")
	ErrDispatchFailed          = errors.New("dispatch failed")
	ErrClassification          = errors.New("classification failed")
	ErrStagedContentNotPresent = errors.New("staged content not present")
)

// Rate limit dimensions.
const (
	DimensionIP         = "ip"
	DimensionCredential = "credential"
)

// RateLimitError reports which dimension of the limiter rejected a request.
// It matches ErrRateLimited with errors.Is.
type RateLimitError struct {
	Dimension  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Dimension)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ClassificationError wraps a failure of the classifier. The message is
// recorded as the task failure reason.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

func (e *ClassificationError) Is(target error) bool {
	return target == ErrClassification
}
