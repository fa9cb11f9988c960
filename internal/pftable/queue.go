package pftable

import (
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/models"
)

// Queue commits table updates off the caller's goroutine. Pending
// updates are coalesced per table, failed ones are kept and resent on
// every tick until a newer update for the same table replaces them.
type Queue struct {
	committer    Committer
	metrics      metrics.Metrics
	attempts     uint
	retryDelay   time.Duration
	resendTicker *time.Ticker

	wake chan struct{}

	guard   sync.Mutex
	pending map[models.TableID]Update
	unsent  map[models.TableID]Update

	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(committer Committer, m metrics.Metrics, attempts uint, resendInterval time.Duration) *Queue {
	if attempts == 0 {
		attempts = 1
	}
	return &Queue{
		committer:    committer,
		metrics:      m,
		attempts:     attempts,
		retryDelay:   100 * time.Millisecond,
		resendTicker: time.NewTicker(resendInterval),
		wake:         make(chan struct{}, 1),
		pending:      make(map[models.TableID]Update),
		unsent:       make(map[models.TableID]Update),
		done:         make(chan struct{}),
	}
}

// Push replaces any queued update for the same table. It never blocks.
func (q *Queue) Push(u Update) {
	q.guard.Lock()
	q.pending[u.TableID] = u
	delete(q.unsent, u.TableID)
	q.guard.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Unsent is the number of updates waiting for the next resend.
func (q *Queue) Unsent() int {
	q.guard.Lock()
	defer q.guard.Unlock()
	return len(q.unsent)
}

func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go func() {
		defer close(q.done)
		q.Run(ctx)
	}()
}

func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.resendTicker.C:
			q.sendUnsent(ctx)
		case <-q.wake:
			q.sendPending(ctx)
		}
	}
}

func (q *Queue) takePending() []Update {
	q.guard.Lock()
	defer q.guard.Unlock()

	updates := slices.SortedFunc(maps.Values(q.pending), func(a, b Update) int {
		return int(a.TableID) - int(b.TableID)
	})
	clear(q.pending)
	return updates
}

func (q *Queue) sendPending(ctx context.Context) {
	for _, u := range q.takePending() {
		err := q.commit(ctx, u)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrRejected) {
			log.Error().Err(err).Msgf("pf table %s: update dropped", u.Table)
			q.metrics.Increment("pftable.rejected")
			continue
		}
		log.Error().Err(err).Msgf("pf table %s: failed to commit, put it into unsent queue", u.Table)
		q.guard.Lock()
		if _, newer := q.pending[u.TableID]; !newer {
			q.unsent[u.TableID] = u
		}
		q.guard.Unlock()
	}
}

func (q *Queue) sendUnsent(ctx context.Context) {
	q.guard.Lock()
	if len(q.unsent) == 0 {
		q.guard.Unlock()
		return
	}
	for id, u := range q.unsent {
		if _, newer := q.pending[id]; !newer {
			q.pending[id] = u
		}
	}
	clear(q.unsent)
	q.guard.Unlock()

	log.Warn().Msg("pf tables: resending unsent updates")
	q.sendPending(ctx)
}

func (q *Queue) commit(ctx context.Context, u Update) error {
	started := time.Now()
	err := retry.Do(
		func() error {
			return q.committer.Commit(ctx, u)
		},
		retry.Context(ctx),
		retry.Attempts(q.attempts),
		retry.Delay(q.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrRejected)
		}),
	)
	q.metrics.Duration("pftable.commit", time.Since(started))
	if err != nil {
		q.metrics.Increment("pftable.commit_failed")
		return err
	}
	log.Debug().Msgf("pf table %s: committed %d members", u.Table, len(u.Members))
	return nil
}

// Close stops the worker and closes the committer when it holds
// resources.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.resendTicker.Stop()
	if c, ok := q.committer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
