package scheduler

import (
	"container/heap"
	"time"

	"github.com/Sh00ty/hoststated/internal/models"
)

var _ heap.Interface = (*timeBasedHeap)(nil)

type entry struct {
	hostID     models.HostID
	interval   time.Duration
	nextInvoke time.Time
	index      int
}

// invokeHeap orders probes by their next invoke time. byHost keeps the
// heap index of each host so Remove and Add stay O(log n).
type invokeHeap struct {
	entries timeBasedHeap
	byHost  map[models.HostID]*entry
}

func newInvokeHeap() *invokeHeap {
	return &invokeHeap{
		byHost: make(map[models.HostID]*entry),
	}
}

func (h *invokeHeap) top() *entry {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}

func (h *invokeHeap) push(e *entry) bool {
	if _, exists := h.byHost[e.hostID]; exists {
		return false
	}
	h.byHost[e.hostID] = e
	heap.Push(&h.entries, e)
	return true
}

func (h *invokeHeap) remove(id models.HostID) bool {
	e, ok := h.byHost[id]
	if !ok {
		return false
	}
	delete(h.byHost, id)
	heap.Remove(&h.entries, e.index)
	return true
}

// rescheduleTop moves the head to its next slot after now.
func (h *invokeHeap) rescheduleTop(now time.Time) {
	e := h.entries[0]
	e.nextInvoke = now.Add(e.interval)
	heap.Fix(&h.entries, 0)
}

func (h *invokeHeap) len() int {
	return len(h.entries)
}

type timeBasedHeap []*entry

func (t timeBasedHeap) Len() int {
	return len(t)
}

func (t timeBasedHeap) Less(i int, j int) bool {
	if t[i].nextInvoke.Equal(t[j].nextInvoke) {
		return t[i].hostID < t[j].hostID
	}
	return t[i].nextInvoke.Before(t[j].nextInvoke)
}

func (t timeBasedHeap) Swap(i int, j int) {
	t[i], t[j] = t[j], t[i]
	t[i].index = i
	t[j].index = j
}

func (t *timeBasedHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*t)
	*t = append(*t, e)
}

func (t *timeBasedHeap) Pop() any {
	old := *t
	topVal := old[len(old)-1]
	old[len(old)-1] = nil
	*t = old[:len(old)-1]
	topVal.index = -1
	return topVal
}
