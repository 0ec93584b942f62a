package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsNestedErrors(t *testing.T) {
	base := New(KindConflict, "already transitioned")
	wrapped := fmt.Errorf("handling request: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindConflict))
	assert.False(t, IsKind(wrapped, KindNotFound))
}

func TestKindOfPlainErrorDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
	assert.Equal(t, KindTransient, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransient, "failed to store application", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to store application")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewfFormats(t *testing.T) {
	err := Newf(KindNotFound, "application %s not found", "app-1")
	assert.Equal(t, "application app-1 not found", err.Reason)
	assert.True(t, IsKind(err, KindNotFound))
}
