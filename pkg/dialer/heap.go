package dialer

import (
	"container/heap"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// item wraps a QueuedCall with its position in the heap, so CancelCall can
// locate and remove it without a linear scan of the call's contents.
type item struct {
	call  *domain.QueuedCall
	index int
}

// callQueue is a binary min-heap ordered by (priority ASC, queued_at ASC),
// satisfying spec.md §4.7's O(log n)-selection requirement for n <= 10^4.
type callQueue []*item

func (q callQueue) Len() int { return len(q) }

func (q callQueue) Less(i, j int) bool {
	if q[i].call.Priority != q[j].call.Priority {
		return q[i].call.Priority < q[j].call.Priority
	}
	return q[i].call.QueuedAt.Before(q[j].call.QueuedAt)
}

func (q callQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *callQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *callQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// snapshot returns the queue's calls in priority order without mutating it.
func (q callQueue) snapshot() []*domain.QueuedCall {
	cp := make(callQueue, len(q))
	copy(cp, q)
	heap.Init(&cp)
	out := make([]*domain.QueuedCall, 0, len(cp))
	for cp.Len() > 0 {
		it := heap.Pop(&cp).(*item)
		out = append(out, it.call)
	}
	return out
}
