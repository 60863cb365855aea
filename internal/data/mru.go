package data

import (
	"container/heap"
	"sync"
	"time"
)

// MRUQueue is an abstraction on top of a priority queue that assigns priorities based on
// insertion time, for most-recently-used retrieval semantics. The exporter keeps idle collector
// connections in one so the warmest connection is reused first.
type MRUQueue struct {
	store    *PriorityQueue
	capacity int
	mutex    sync.Mutex
}

// NewMRUQueue creates a new MRU queue with the specified capacity.
// The capacity may be any non-positive integer to disable the capacity limit.
func NewMRUQueue(capacity int) *MRUQueue {
	var store PriorityQueue

	if capacity > 0 {
		store = make(PriorityQueue, 0, capacity)
	} else {
		store = make(PriorityQueue, 0)
	}

	heap.Init(&store)

	return &MRUQueue{store: &store, capacity: capacity}
}

// Push inserts a new value, stamped with the current time. It returns false without inserting if
// the queue is at capacity.
func (m *MRUQueue) Push(value interface{}) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.capacity > 0 && m.store.Len() == m.capacity {
		return false
	}

	heap.Push(m.store, &Item{
		value:    value,
		priority: time.Now().UnixNano(),
	})

	return true
}

// Pop removes the most recently inserted item. It returns the item itself, the time at which it
// was inserted, and whether the queue held anything.
func (m *MRUQueue) Pop() (interface{}, time.Time, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.store.Len() == 0 {
		return nil, time.Time{}, false
	}

	item := heap.Pop(m.store).(*Item)
	return item.value, time.Unix(0, item.priority), true
}

// Size reads the current size of the queue.
func (m *MRUQueue) Size() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.store.Len()
}

// Empty returns whether the queue holds no items.
func (m *MRUQueue) Empty() bool {
	return m.Size() == 0
}
