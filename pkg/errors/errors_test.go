package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	assert.Equal(t, "[PUBLISH] publish failed", ErrPublishFailed.Error())

	err := NewError(CodeTimeout, "waiting for result", context.DeadlineExceeded)
	assert.Equal(t, "[TIMEOUT] waiting for result: context deadline exceeded", err.Error())
}

func TestError_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("runner: %w", NewError(CodeTimeout, "waiting for result", context.DeadlineExceeded))

	assert.True(t, IsTimeout(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, IsNotConnected(err))
	assert.False(t, errors.Is(err, ErrPublishFailed))
	assert.Equal(t, CodeTimeout, CodeOf(err))
}

func TestCodeOf(t *testing.T) {
	assert.Empty(t, CodeOf(nil))
	assert.Empty(t, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeConnection, CodeOf(NewError(CodeConnection, "dial", nil)))
	assert.True(t, IsNotConnected(NewError(CodeConnection, "dial", nil)))
}
