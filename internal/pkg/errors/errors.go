package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalid           = errors.New("invalid")
	ErrConflict          = errors.New("conflict")
	ErrRetrievalDegraded = errors.New("retrieval degraded")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Invalid wraps ErrInvalid with a caller facing reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, reason)
}

// ExtractionError reports a document that could not be read or failed the
// quality gate. Notice replaces the content that would have been indexed.
type ExtractionError struct {
	Reason string
	Notice string
}

func (e *ExtractionError) Error() string {
	return "extraction failed: " + e.Reason
}

type EmbeddingProviderError struct {
	Err error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error {
	return e.Err
}

type ModelProviderError struct {
	Stage string
	Err   error
}

func (e *ModelProviderError) Error() string {
	return fmt.Sprintf("model provider (%s): %v", e.Stage, e.Err)
}

func (e *ModelProviderError) Unwrap() error {
	return e.Err
}

type ToolInvocationError struct {
	ToolID string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.ToolID, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

func IsExtraction(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

func IsEmbeddingProvider(err error) bool {
	var target *EmbeddingProviderError
	return errors.As(err, &target)
}

func IsModelProvider(err error) bool {
	var target *ModelProviderError
	return errors.As(err, &target)
}
