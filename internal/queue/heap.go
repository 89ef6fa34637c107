package queue

// taskHeap is a container/heap.Interface ordering by (Priority, seq) —
// lower priority value first, FIFO within a priority tier. No starvation
// mitigation is implemented; a sustained stream of High priority tasks can
// indefinitely delay Low priority ones, matching the original
// priority-queue design this is grounded on.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
