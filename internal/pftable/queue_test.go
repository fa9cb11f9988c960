package pftable

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/models"
)

type fakeCommitter struct {
	mu        sync.Mutex
	failures  int
	err       error
	committed []Update
	gate      chan struct{}
	closed    bool
}

func (f *fakeCommitter) Commit(_ context.Context, u Update) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.committed = append(f.committed, u)
	return nil
}

func (f *fakeCommitter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeCommitter) snapshot() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Update(nil), f.committed...)
}

func update(id models.TableID, members int) Update {
	u := Update{TableID: id, Table: fmt.Sprintf("t%d", id)}
	for i := range members {
		u.Members = append(u.Members, Member{
			HostID: models.HostID(i + 1),
			Addr:   netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}), 80),
		})
	}
	return u
}

func newTestQueue(c Committer, attempts uint, resend time.Duration) *Queue {
	q := NewQueue(c, metrics.Noop{}, attempts, resend)
	q.retryDelay = time.Millisecond
	return q
}

func TestQueueRetriesTransientErrors(t *testing.T) {
	c := &fakeCommitter{failures: 2, err: errors.New("connection reset")}
	q := newTestQueue(c, 3, time.Hour)
	q.Start(context.Background())

	q.Push(update(1, 2))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Len(t, c.snapshot()[0].Members, 2)
	assert.Zero(t, q.Unsent())

	require.NoError(t, q.Close())
	assert.True(t, c.closed)
}

func TestQueueDropsRejectedUpdates(t *testing.T) {
	c := &fakeCommitter{failures: 1, err: fmt.Errorf("bad member: %w", ErrRejected)}
	q := newTestQueue(c, 5, 5*time.Millisecond)
	q.Start(context.Background())
	defer q.Close()

	q.Push(update(1, 1))
	q.Push(update(2, 1))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)
	assert.Zero(t, q.Unsent())
}

func TestQueueResendsFailedUpdates(t *testing.T) {
	c := &fakeCommitter{failures: 2, err: errors.New("broker not available")}
	q := newTestQueue(c, 1, 10*time.Millisecond)
	q.Start(context.Background())
	defer q.Close()

	q.Push(update(3, 1))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, models.TableID(3), c.snapshot()[0].TableID)
}

func TestQueueCoalescesPerTable(t *testing.T) {
	c := &fakeCommitter{gate: make(chan struct{})}
	q := newTestQueue(c, 1, time.Hour)
	q.Start(context.Background())
	defer q.Close()

	q.Push(update(1, 1))
	// the worker is now blocked inside the first commit
	require.Eventually(t, func() bool {
		q.guard.Lock()
		defer q.guard.Unlock()
		return len(q.pending) == 0
	}, 5*time.Second, time.Millisecond)

	for i := range 5 {
		q.Push(update(1, i+2))
	}
	close(c.gate)

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	got := c.snapshot()
	require.Len(t, got, 2)
	assert.Len(t, got[1].Members, 6)
}

func TestNewUpdateKeepsMemberOrder(t *testing.T) {
	table := &models.Table{ID: 4, Name: "web"}
	hosts := []models.Host{
		{ID: 2, Name: "b", Addr: netip.MustParseAddrPort("10.0.0.2:80")},
		{ID: 1, Name: "a", Addr: netip.MustParseAddrPort("10.0.0.1:80")},
	}
	u := NewUpdate(table, hosts)
	assert.Equal(t, "web", u.Table)
	require.Len(t, u.Members, 2)
	assert.Equal(t, "b", u.Members[0].Name)
	assert.NoError(t, LogCommitter{}.Commit(context.Background(), u))
}
