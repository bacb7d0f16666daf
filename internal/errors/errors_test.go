package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Wrap(cause, ErrCodeInternal, "store write failed")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store write failed")
	assert.True(t, IsInternal(err))
}

func TestCodePredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundf("job %s not found", "abc")))
	assert.True(t, IsConflict(Conflict("duplicate job id")))
	assert.True(t, IsValidation(Validation("bad image")))
	assert.True(t, IsUnavailable(Unavailable("store down")))

	// Predicates see through plain wrapping.
	wrapped := fmt.Errorf("handler: %w", NotFound("gone"))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
}

func TestUpstreamError(t *testing.T) {
	err := RenderServiceError(502, "bad gateway", nil)
	assert.True(t, IsUpstream(err, UpstreamImageRender))
	assert.False(t, IsUpstream(err, UpstreamValidation))
	assert.Contains(t, err.Error(), "502")

	cause := io.EOF
	gen := GenerationServiceError(0, "connection reset", cause)
	require.ErrorIs(t, gen, cause)
	assert.True(t, IsUpstream(fmt.Errorf("attempt 1: %w", gen), UpstreamPromptGeneration))
}

func TestIsInternal(t *testing.T) {
	assert.True(t, IsInternal(Internal("boom")))
	assert.False(t, IsInternal(io.EOF))
	assert.False(t, IsInternal(nil))
}
