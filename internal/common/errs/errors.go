// Package errs holds the error taxonomy shared by ingestion, indexing and retrieval.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDocument    = errors.New("document produced no text to index")
	ErrQueryTimeout     = errors.New("query deadline exceeded, retry later")
	ErrDocumentNotFound = errors.New("document not found")
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrNoContext        = errors.New("no relevant context found")
)

// ExtractionError reports an unreadable or unsupported source document.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding provider that is unavailable or rejected the input.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding (%s): %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexUnavailableError reports a vector store that is unreachable or whose
// collection/index could not be recovered after one self-heal attempt.
type IndexUnavailableError struct {
	Op  string
	Err error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("vector index %s: %v", e.Op, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// ConfigurationError is fatal: it is never retried.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DimensionMismatch builds the ConfigurationError raised when a vector does not fit the collection.
func DimensionMismatch(want, got int) error {
	return &ConfigurationError{
		Field: "vector_dim",
		Err:   fmt.Errorf("expected dimension %d, got %d", want, got),
	}
}

func IsEmbedding(err error) bool {
	var e *EmbeddingError
	return errors.As(err, &e)
}

func IsIndexUnavailable(err error) bool {
	var e *IndexUnavailableError
	return errors.As(err, &e)
}

func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

func IsExtraction(err error) bool {
	var e *ExtractionError
	return errors.As(err, &e)
}
