package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

var (
	ErrBusy   = errors.New("executor queue is full")
	ErrClosed = errors.New("executor already closed")
)

type Task struct {
	HostID     models.HostID
	TableID    models.TableID
	Strategy   healthcheck.Strategy
	Timeout    time.Duration
	// Generation is echoed back in the Result.
	Generation uint64
}

type Result struct {
	HostID     models.HostID
	TableID    models.TableID
	Up         bool
	Err        error
	Took       time.Duration
	Generation uint64
}

// Notifier receives probe results on a worker goroutine. Implementations
// hand them over to their own goroutine.
type Notifier interface {
	NotifyResult(Result)
}

type NotifierFunc func(Result)

func (f NotifierFunc) NotifyResult(r Result) {
	f(r)
}

// Executor runs probes on a fixed pool of goroutines so the caller's
// event loop never waits on a target.
type Executor struct {
	concurrency uint16
	inputChan   chan Task

	notifier Notifier
	metrics  metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	guard  sync.RWMutex
	closed bool
}

func NewExecutor(notifier Notifier, m metrics.Metrics, concurrency uint16, buffer uint32) *Executor {
	if concurrency == 0 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		inputChan:   make(chan Task, buffer),
		concurrency: concurrency,
		notifier:    notifier,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (e *Executor) Run() {
	for i := range e.concurrency {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for task := range e.inputChan {
				log.Debug().Msgf("executor [%d] received task: host %d", i, task.HostID)
				e.notifier.NotifyResult(e.execute(task))
			}
		}()
	}
}

func (e *Executor) execute(task Task) Result {
	ctx, cancel := context.WithTimeout(e.ctx, task.Timeout)
	defer cancel()

	started := time.Now()
	up, err := task.Strategy.DoHealthCheck(ctx)
	took := time.Since(started)

	e.metrics.Duration("probe.duration", took)
	switch {
	case healthcheck.IsLocal(err):
		e.metrics.Increment("probe.local_error")
	case up && err == nil:
		e.metrics.Increment("probe.up")
	default:
		e.metrics.Increment("probe.down")
	}
	return Result{
		HostID:     task.HostID,
		TableID:    task.TableID,
		Up:         up && err == nil,
		Err:        err,
		Took:       took,
		Generation: task.Generation,
	}
}

// ExecuteHealthCheck queues a probe. It never blocks: a full queue is
// reported as ErrBusy and the caller skips that cycle.
func (e *Executor) ExecuteHealthCheck(t Task) error {
	e.guard.RLock()
	defer e.guard.RUnlock()
	if e.closed {
		return ErrClosed
	}

	select {
	case e.inputChan <- t:
		return nil
	default:
		e.metrics.Increment("probe.queue_full")
		return fmt.Errorf("host %d: %w", t.HostID, ErrBusy)
	}
}

// Close cancels running probes and waits for the workers to exit.
// Results of cancelled probes are still delivered.
func (e *Executor) Close() {
	e.guard.Lock()
	if e.closed {
		e.guard.Unlock()
		return
	}
	e.closed = true
	close(e.inputChan)
	e.guard.Unlock()

	e.cancel()
	e.wg.Wait()
}
