package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cesargomez89/catalogsync/internal/logger"
)

// Supervisor runs background tasks that outlive the request that started
// them. Every task's error or panic is logged, and Shutdown waits for them.
type Supervisor struct {
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Int64
	failed  atomic.Int64
}

func NewSupervisor(log *logger.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger: log.WithComponent("supervisor"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go starts fn with a context cancelled on Shutdown or after timeout.
func (s *Supervisor) Go(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.running.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)

		ctx := s.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		err := s.run(ctx, fn)
		if err != nil {
			s.failed.Add(1)
			s.logger.Error("Background task failed", "task", name, "duration", time.Since(start), "error", err)
			return
		}
		s.logger.Info("Background task finished", "task", name, "duration", time.Since(start))
	}()
}

func (s *Supervisor) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Running is the number of tasks in flight.
func (s *Supervisor) Running() int {
	return int(s.running.Load())
}

// Failed is the number of tasks that returned an error or panicked.
func (s *Supervisor) Failed() int {
	return int(s.failed.Load())
}

// Shutdown cancels all tasks and waits for them until ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
