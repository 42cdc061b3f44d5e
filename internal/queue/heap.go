package queue

import "container/heap"

// readyItem is a completed-but-not-yet-acked item, ordered by the ticket
// assigned to it at submission time.
type readyItem struct {
	ticket uint64
	item   Item
}

type readyHeap []readyItem

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return h[i].ticket < h[j].ticket }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var _ heap.Interface = (*readyHeap)(nil)
