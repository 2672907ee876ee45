package loop

import (
	"container/heap"
	"time"

	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
)

// job is a recurring callback fired on its cron schedule.
type job struct {
	name   string
	expr   string
	next   time.Time
	run    func(*bundle.Manager)
	index  int
	serial int
}

// jobHeap orders jobs by next fire time, then by registration order.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].serial < h[j].serial
	}
	return h[i].next.Before(h[j].next)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *jobHeap, j *job) { heap.Push(h, j) }
func heapPop(h *jobHeap) *job     { return heap.Pop(h).(*job) }

// heapRemoveByName removes the job registered under name.
func heapRemoveByName(h *jobHeap, name string) bool {
	for i, j := range *h {
		if j.name == name {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
