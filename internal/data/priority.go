package data

// Item describes an entry in the priority queue.
type Item struct {
	value    interface{}
	priority int64
	index    int
}

// PriorityQueue implements heap.Interface as a max heap over Item priorities.
type PriorityQueue []*Item

// Len returns the current size of the queue.
func (pq PriorityQueue) Len() int {
	return len(pq)
}

// Less reports a higher priority as "less" so that heap.Pop yields the newest item.
func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].priority > pq[j].priority
}

// Swap swaps the ith and jth items in the backing data structure.
func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds a new item to the backing data structure.
func (pq *PriorityQueue) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

// Pop removes the last item from the backing data structure.
func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]

	return item
}
