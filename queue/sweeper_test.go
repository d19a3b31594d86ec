package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobQueue struct {
	JobQueue
	reclaimCalls atomic.Int32
	reclaimed    int
	err          error
}

func (f *fakeJobQueue) ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	f.reclaimCalls.Add(1)
	return f.reclaimed, f.err
}

func TestSweeper_CallsReclaimStalePerQueue(t *testing.T) {
	fq := &fakeJobQueue{reclaimed: 2}
	sweeper := NewSweeper(fq, []string{"q1", "q2"}, time.Minute, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	sweeper.Run(ctx)

	require.GreaterOrEqual(t, fq.reclaimCalls.Load(), int32(2))
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	fq := &fakeJobQueue{}
	sweeper := NewSweeper(fq, []string{"q1"}, time.Minute, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
	assert.True(t, true)
}
