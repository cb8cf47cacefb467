package domain

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds exposed at the core boundary (spec §7).
type Kind string

const (
	KindNotFound                Kind = "not_found"
	KindAmbiguousReference      Kind = "ambiguous_reference"
	KindValidationFailed        Kind = "validation_failed"
	KindConflictingState        Kind = "conflicting_state"
	KindEmbeddingUnavailable    Kind = "embedding_unavailable"
	KindDimensionMismatch       Kind = "dimension_mismatch"
	KindDocumentIntegrityViolation Kind = "document_integrity_violation"
	KindProviderRateLimited     Kind = "provider_rate_limited"
	KindCancelled               Kind = "cancelled"
	KindInternal                Kind = "internal"
)

// Sentinel errors, one per kind, so callers can errors.Is against a stable value.
var (
	ErrNotFound                   = errors.New("not found")
	ErrAmbiguousReference         = errors.New("ambiguous reference")
	ErrValidationFailed           = errors.New("validation failed")
	ErrConflictingState           = errors.New("conflicting state")
	ErrEmbeddingUnavailable       = errors.New("embedding unavailable")
	ErrDimensionMismatch          = errors.New("embedding dimension mismatch")
	ErrDocumentIntegrityViolation = errors.New("document integrity violation")
	ErrProviderRateLimited        = errors.New("provider rate limited")
	ErrCancelled                  = errors.New("operation cancelled")
	ErrInternal                   = errors.New("internal error")
)

var sentinelByKind = map[Kind]error{
	KindNotFound:                   ErrNotFound,
	KindAmbiguousReference:         ErrAmbiguousReference,
	KindValidationFailed:           ErrValidationFailed,
	KindConflictingState:           ErrConflictingState,
	KindEmbeddingUnavailable:       ErrEmbeddingUnavailable,
	KindDimensionMismatch:          ErrDimensionMismatch,
	KindDocumentIntegrityViolation: ErrDocumentIntegrityViolation,
	KindProviderRateLimited:        ErrProviderRateLimited,
	KindCancelled:                  ErrCancelled,
	KindInternal:                   ErrInternal,
}

// Error wraps a sentinel Kind with context, following engine/domain.ValidationError's shape.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("forest: %s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("forest: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// NewError constructs an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: sentinelByKind[kind]}
}

// NewFieldError constructs a validation-style Error naming the offending field.
func NewFieldError(kind Kind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message, Wrapped: sentinelByKind[kind]}
}

// KindOf extracts the Kind from an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
