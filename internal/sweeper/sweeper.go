// Package sweeper runs the recurring maintenance jobs: reclaiming beds from
// lapsed holds and trimming old call logs. A Sweeper is an explicitly
// constructed value the process owns and tears down; there is no ambient
// global scheduler. The work itself is idempotent, so a missed or delayed
// tick degrades promptness, never correctness.
package sweeper

import (
	"context"
	"time"

	"github.com/bethesda-shelter/bedline/pkg/logger"
)

type Task func(ctx context.Context)

type Sweeper struct {
	name     string
	interval time.Duration
	task     Task

	stop chan struct{}
	done chan struct{}
}

func New(name string, interval time.Duration, task Task) *Sweeper {
	return &Sweeper{
		name:     name,
		interval: interval,
		task:     task,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. The first run happens after one interval,
// not immediately; startup is not a sweep trigger.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
	logger.Info("Sweeper started", "name", s.name, "interval", s.interval.String())
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.task(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop and waits for any in-flight run to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
	logger.Info("Sweeper stopped", "name", s.name)
}
