package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/models"
)

type recordingExecutor struct {
	calls map[models.HostID]int
	onRun func(models.HostID)
}

func (r *recordingExecutor) ExecuteHealthCheck(id models.HostID) {
	r.calls[id]++
	if r.onRun != nil {
		r.onRun(id)
	}
}

func TestSchedulerInvokesEveryInterval(t *testing.T) {
	loop, err := event.New()
	require.NoError(t, err)
	defer loop.Close()

	exec := &recordingExecutor{calls: make(map[models.HostID]int)}
	s := New(loop, exec)
	s.Add(1, 10*time.Millisecond)
	s.Add(2, 10*time.Millisecond)
	s.Add(2, time.Hour)
	require.Equal(t, 2, s.Len())

	loop.AfterFunc(105*time.Millisecond, loop.Exit)
	require.NoError(t, loop.Run())

	assert.GreaterOrEqual(t, exec.calls[1], 5)
	assert.GreaterOrEqual(t, exec.calls[2], 5)
	assert.LessOrEqual(t, exec.calls[1], 11)
}

func TestSchedulerRemove(t *testing.T) {
	loop, err := event.New()
	require.NoError(t, err)
	defer loop.Close()

	exec := &recordingExecutor{calls: make(map[models.HostID]int)}
	s := New(loop, exec)
	s.Add(1, 5*time.Millisecond)
	s.Add(2, 5*time.Millisecond)
	exec.onRun = func(id models.HostID) {
		if id == 2 {
			s.Remove(2)
		}
	}
	assert.False(t, s.Remove(42))

	loop.AfterFunc(60*time.Millisecond, loop.Exit)
	require.NoError(t, loop.Run())

	assert.Equal(t, 1, exec.calls[2])
	assert.Greater(t, exec.calls[1], 1)
	assert.Equal(t, 1, s.Len())

	s.Stop()
}

func TestInvokeHeapOrder(t *testing.T) {
	h := newInvokeHeap()
	base := time.Now()
	require.True(t, h.push(&entry{hostID: 3, interval: time.Second, nextInvoke: base.Add(3 * time.Second)}))
	require.True(t, h.push(&entry{hostID: 1, interval: time.Second, nextInvoke: base.Add(time.Second)}))
	require.True(t, h.push(&entry{hostID: 2, interval: time.Second, nextInvoke: base.Add(2 * time.Second)}))
	require.False(t, h.push(&entry{hostID: 2}))

	assert.Equal(t, models.HostID(1), h.top().hostID)
	h.rescheduleTop(base.Add(5 * time.Second))
	assert.Equal(t, models.HostID(2), h.top().hostID)

	require.True(t, h.remove(2))
	assert.Equal(t, models.HostID(3), h.top().hostID)
	require.True(t, h.remove(3))
	require.True(t, h.remove(1))
	assert.Nil(t, h.top())
}
