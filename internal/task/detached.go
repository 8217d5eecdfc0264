package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultDetachedTimeout = 10 * time.Second

// ErrRunnerClosed is reported when a task is launched after Close.
var ErrRunnerClosed = errors.New("task: detached runner closed")

// DetachedFunc is a best-effort unit of work whose result never reaches the caller that launched it.
type DetachedFunc func(context.Context) error

// DetachedRunner launches best-effort tasks off the request path. Failures and panics are logged.
type DetachedRunner struct {
	logger       *zap.Logger
	timeout      time.Duration
	waitGroup    sync.WaitGroup
	controlMutex sync.Mutex
	closed       bool
}

// NewDetachedRunner creates a runner; a non-positive timeout selects the default.
func NewDetachedRunner(logger *zap.Logger, timeout time.Duration) *DetachedRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultDetachedTimeout
	}
	return &DetachedRunner{logger: logger, timeout: timeout}
}

// Go starts the task on a context that keeps the parent's values but not its cancellation.
func (runner *DetachedRunner) Go(ctx context.Context, name string, work DetachedFunc) error {
	if runner == nil || work == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runner.controlMutex.Lock()
	if runner.closed {
		runner.controlMutex.Unlock()
		runner.logger.Warn("detached_task_rejected", zap.String("task", name), zap.Error(ErrRunnerClosed))
		return ErrRunnerClosed
	}
	runner.waitGroup.Add(1)
	runner.controlMutex.Unlock()

	detachedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runner.timeout)
	go func() {
		defer runner.waitGroup.Done()
		defer cancel()
		if taskErr := runner.run(detachedCtx, work); taskErr != nil {
			runner.logger.Warn("detached_task_failed", zap.String("task", name), zap.Error(taskErr))
		}
	}()
	return nil
}

// Wait blocks until every launched task has finished.
func (runner *DetachedRunner) Wait() {
	if runner == nil {
		return
	}
	runner.waitGroup.Wait()
}

// Close stops accepting tasks and waits for in-flight ones, or until ctx ends.
func (runner *DetachedRunner) Close(ctx context.Context) error {
	if runner == nil {
		return nil
	}
	runner.controlMutex.Lock()
	runner.closed = true
	runner.controlMutex.Unlock()

	done := make(chan struct{})
	go func() {
		runner.waitGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (runner *DetachedRunner) run(ctx context.Context, work DetachedFunc) (taskErr error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			taskErr = fmt.Errorf("task: panic: %v", recovered)
		}
	}()
	return work(ctx)
}
