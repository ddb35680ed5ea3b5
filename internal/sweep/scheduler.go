package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

// Scheduler runs the sweeper on a fixed interval.
type Scheduler struct {
	mu       sync.RWMutex
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	results, err := s.sweeper.Run(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep scheduler", "error", err)
		return
	}
	failed := 0
	for _, r := range results {
		if r.Action == model.SweepFailed {
			failed++
		}
	}
	if failed > 0 {
		s.logger.WarnContext(ctx, "sweep finished with failures", "failed", failed, "processed", len(results))
	}
}
