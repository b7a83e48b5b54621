package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOfThroughWrapping(t *testing.T) {
	base := New(ErrorTypePrivate, "Account clubA is private")
	wrapped := fmt.Errorf("scrape clubA: %w", base)

	assert.Equal(t, ErrorTypePrivate, TypeOf(wrapped))
	assert.True(t, Is(wrapped, ErrorTypePrivate))
	assert.False(t, Is(nil, ErrorTypePrivate))

	assert.Equal(t, ErrorType(""), TypeOf(nil))
	assert.Equal(t, ErrorTypeTimeout, TypeOf(context.DeadlineExceeded))
	assert.Equal(t, ErrorTypeTimeout, TypeOf(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(stderrors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(ErrorTypeNetwork, "navigation failed", cause)

	assert.Equal(t, "network error: navigation failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "config error: missing 3 fields", Newf(ErrorTypeConfig, "missing %d fields", 3).Error())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		errorType     ErrorType
		retryable     bool
		accessibility bool
	}{
		{ErrorTypeNetwork, true, false},
		{ErrorTypeTimeout, true, false},
		{ErrorTypeRateLimit, true, false},
		{ErrorTypeAuth, false, false},
		{ErrorTypeConfig, false, false},
		{ErrorTypeExtraction, false, false},
		{ErrorTypePrivate, false, true},
		{ErrorTypeNotFound, false, true},
		{ErrorTypeNoPosts, false, true},
		{ErrorTypeUnknownStatus, false, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, IsRetryable(tt.errorType), "retryable %s", tt.errorType)
		assert.Equal(t, tt.accessibility, IsAccessibility(tt.errorType), "accessibility %s", tt.errorType)
	}
}
