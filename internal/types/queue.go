package types

import "sync"

// Queue - set of identities which are in processing now
type Queue struct {
	items map[uint64]struct{}
	mx    *sync.RWMutex
}

// NewQueue -
func NewQueue() *Queue {
	return &Queue{
		items: make(map[uint64]struct{}),
		mx:    new(sync.RWMutex),
	}
}

// Add -
func (q *Queue) Add(id uint64) {
	q.mx.Lock()
	q.items[id] = struct{}{}
	q.mx.Unlock()
}

// Contains -
func (q *Queue) Contains(id uint64) bool {
	q.mx.RLock()
	_, ok := q.items[id]
	q.mx.RUnlock()
	return ok
}

// Delete -
func (q *Queue) Delete(id uint64) {
	q.mx.Lock()
	delete(q.items, id)
	q.mx.Unlock()
}

// Len -
func (q *Queue) Len() int {
	q.mx.RLock()
	defer q.mx.RUnlock()
	return len(q.items)
}
