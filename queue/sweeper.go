// Sweeper reclaims jobs abandoned by a crashed or hung worker: it
// periodically requeues jobs whose worker ID has not heartbeat within a
// configured timeout.
package queue

import (
	"context"
	"time"

	"github.com/workglow-dev/workglow/log"
)

// Sweeper periodically reclaims stale PROCESSING jobs back to PENDING
// across a fixed set of queues.
type Sweeper struct {
	jq         JobQueue
	queueNames []string
	staleAfter time.Duration
	interval   time.Duration
	logger     log.Logger
}

// NewSweeper returns a sweeper that, every interval, calls
// jq.ReclaimStale(queueName, staleAfter) for each queue in queueNames.
func NewSweeper(jq JobQueue, queueNames []string, staleAfter, interval time.Duration, logger log.Logger) *Sweeper {
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	return &Sweeper{jq: jq, queueNames: queueNames, staleAfter: staleAfter, interval: interval, logger: logger}
}

// Run blocks, sweeping every s.interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, name := range s.queueNames {
		n, err := s.jq.ReclaimStale(ctx, name, s.staleAfter)
		if err != nil {
			s.logger.Error("queue sweeper: reclaim failed for %s: %v", name, err)
			continue
		}
		if n > 0 {
			s.logger.Info("queue sweeper: reclaimed %d stale job(s) on %s", n, name)
		}
	}
}
