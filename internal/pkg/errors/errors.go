package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalid      = errors.New("invalid")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")

	// ErrServiceDegraded covers transient backend failures that survived the
	// bounded retry budget (embedding, generation, vector store).
	ErrServiceDegraded = errors.New("service degraded")

	// ErrTenantIsolation marks an attempted cross-tenant access. Never retried.
	ErrTenantIsolation = errors.New("tenant isolation violation")

	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrMalformedRecord is returned when a persisted record fails to decode.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrDimensionMismatch guards a collection against vectors produced by a
	// different embedding model version.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// RateLimitedError carries the retry-after hint mandated for capacity errors.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrTooMany
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsDegraded(err error) bool {
	return errors.Is(err, ErrServiceDegraded)
}
