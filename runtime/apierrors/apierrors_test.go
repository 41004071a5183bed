package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNormalizesUnknownErrors(t *testing.T) {
	apiErr := From(errors.New("boom"))
	require.NotNil(t, apiErr)
	assert.Equal(t, CodeInternalServerError, apiErr.Code)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestFromPassesThroughAPIErrors(t *testing.T) {
	orig := New(CodeInvalidInput, "bad payload")
	assert.Same(t, orig, From(orig))

	wrapped := fmt.Errorf("submit: %w", orig)
	assert.Same(t, orig, From(wrapped))
}

func TestFromNil(t *testing.T) {
	assert.Nil(t, From(nil))
}

func TestIsMatchesOnCode(t *testing.T) {
	err := Newf(CodeTooManyRequests, "limit of %d reached", 10)
	assert.ErrorIs(t, err, New(CodeTooManyRequests, "different message"))
	assert.NotErrorIs(t, err, New(CodeInvalidInput, ""))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "not_found: run gone", New(CodeNotFound, "run gone").Error())
}
