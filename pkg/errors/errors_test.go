package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, CodeRunTimeout, "run aborted")

	assert.True(t, stderrors.Is(err, ErrRunTimeout))
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.False(t, stderrors.Is(err, ErrRetriesExhausted))

	wrapped := fmt.Errorf("batch 3: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrRunTimeout))
	assert.Equal(t, CodeRunTimeout, CodeOf(wrapped))
}

func TestAsAppError(t *testing.T) {
	plain := stderrors.New("boom")
	appErr := AsAppError(plain)
	assert.Equal(t, CodeUnknown, appErr.Code)
	assert.Same(t, plain, appErr.Err)

	orig := New(CodeInvalidParam, "bad gather")
	assert.Same(t, orig, AsAppError(fmt.Errorf("wrap: %w", orig)))
	assert.True(t, IsAppError(fmt.Errorf("wrap: %w", orig)))
	assert.False(t, IsAppError(plain))
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "[4014] nothing to summarize", ErrNothingToSummarize.Error())
	assert.Equal(t, "[4005] call: boom", Wrap(stderrors.New("boom"), CodeLLMCallFailed, "call").Error())
}
