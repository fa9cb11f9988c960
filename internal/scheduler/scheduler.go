package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/models"
)

type TaskExecutor interface {
	ExecuteHealthCheck(id models.HostID)
}

type Timers interface {
	AfterFunc(d time.Duration, fn func()) *event.Timer
}

// Scheduler fires probes on the event loop. Each host is invoked every
// interval; the first invocation lands at a random point inside the
// first interval so a large table does not probe in one burst.
type Scheduler struct {
	invokationHeap *invokeHeap
	executor       TaskExecutor
	timers         Timers
	timer          *event.Timer
	now            func() time.Time
}

func New(timers Timers, executor TaskExecutor) *Scheduler {
	return &Scheduler{
		invokationHeap: newInvokeHeap(),
		executor:       executor,
		timers:         timers,
		now:            time.Now,
	}
}

// Add schedules a host. Adding a host that is already scheduled is a
// no-op.
func (p *Scheduler) Add(id models.HostID, interval time.Duration) {
	added := p.invokationHeap.push(&entry{
		hostID:     id,
		interval:   interval,
		nextInvoke: p.now().Add(jit(interval)),
	})
	if added {
		p.arm()
	}
}

func (p *Scheduler) Remove(id models.HostID) bool {
	removed := p.invokationHeap.remove(id)
	if removed {
		p.arm()
	}
	return removed
}

func (p *Scheduler) Len() int {
	return p.invokationHeap.len()
}

// Stop cancels the pending wakeup. Scheduled hosts are kept.
func (p *Scheduler) Stop() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Scheduler) arm() {
	p.Stop()
	next := p.invokationHeap.top()
	if next == nil {
		return
	}
	p.timer = p.timers.AfterFunc(next.nextInvoke.Sub(p.now()), p.fire)
}

func (p *Scheduler) fire() {
	p.timer = nil
	now := p.now()
	for {
		next := p.invokationHeap.top()
		if next == nil || next.nextInvoke.After(now) {
			break
		}
		id := next.hostID
		p.invokationHeap.rescheduleTop(now)
		p.executor.ExecuteHealthCheck(id)
	}
	p.arm()
}

func jit(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Uint64N(uint64(interval)))
}
