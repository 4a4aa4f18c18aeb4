package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsSurviveWrapping(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"extraction", &ExtractionError{Path: "a.pdf", Err: base}, IsExtraction},
		{"embedding", &EmbeddingError{Provider: "ark", Err: base}, IsEmbedding},
		{"index", &IndexUnavailableError{Op: "search", Err: base}, IsIndexUnavailable},
		{"config", &ConfigurationError{Field: "x", Err: base}, IsConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.True(t, tc.check(wrapped))
			assert.ErrorIs(t, wrapped, base)
		})
	}
}

func TestDimensionMismatch(t *testing.T) {
	err := DimensionMismatch(768, 1024)
	require.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "768")
	assert.Contains(t, err.Error(), "1024")
	assert.False(t, IsEmbedding(err))
}
