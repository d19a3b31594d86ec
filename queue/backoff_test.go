package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffConfig_DelayGrowsExponentially(t *testing.T) {
	c := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0}

	assert.Equal(t, 100*time.Millisecond, c.Delay(1))
	assert.Equal(t, 200*time.Millisecond, c.Delay(2))
	assert.Equal(t, 400*time.Millisecond, c.Delay(3))
}

func TestBackoffConfig_DelayCapsAtMaxDelay(t *testing.T) {
	c := BackoffConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2.0}

	assert.Equal(t, 3*time.Second, c.Delay(10))
}

func TestBackoffConfig_RunAfterAddsDelayToNow(t *testing.T) {
	c := DefaultBackoffConfig()
	now := time.Now()

	got := c.RunAfter(1, now)
	assert.Equal(t, now.Add(c.InitialDelay), got)
}
