package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusProcessing))
	assert.True(t, CanTransition(StatusProcessing, StatusStreaming))
	assert.True(t, CanTransition(StatusStreaming, StatusCompleted))
	assert.True(t, CanTransition(StatusProcessing, StatusAborting))
	assert.True(t, CanTransition(StatusAborting, StatusAborted))
	assert.True(t, CanTransition(StatusPending, StatusDisabled))

	assert.False(t, CanTransition(StatusCompleted, StatusProcessing))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusAborted.Terminal())
	assert.True(t, StatusDisabled.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusPending.Terminal())
}
