// Package dsa holds small data structures shared by the planning stages.
package dsa

// ─── Priority Queue (Min-Heap) ──────────────────────────────────────────────
// Binary min-heap ordered by (Priority, Seq).
//
// Operations:
//   Push:    O(log n) sift up
//   Pop:     O(log n) sift down (extract-min)
//   Peek:    O(1)
//   Len:     O(1)
//
// Seq is assigned on Push, so items with equal priority come out in
// insertion order. The planner relies on that for its due-date tie-break.

// Item is an element in the priority queue.
type Item[T any] struct {
	Priority int // lower = dequeued first
	Seq      int // insertion order, assigned by Push
	Value    T
}

// PriorityQueue is a stable min-heap. It is not safe for concurrent use.
type PriorityQueue[T any] struct {
	heap []Item[T]
	next int
}

// NewPriorityQueue creates an empty priority queue.
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

// Push adds a value with the given priority. O(log n).
func (pq *PriorityQueue[T]) Push(priority int, value T) {
	pq.heap = append(pq.heap, Item[T]{Priority: priority, Seq: pq.next, Value: value})
	pq.next++
	pq.siftUp(len(pq.heap) - 1)
}

// Pop removes and returns the lowest-priority item.
// Returns the item and true, or zero-value and false if empty.
func (pq *PriorityQueue[T]) Pop() (Item[T], bool) {
	if len(pq.heap) == 0 {
		return Item[T]{}, false
	}

	top := pq.heap[0]
	last := len(pq.heap) - 1
	pq.heap[0] = pq.heap[last]
	pq.heap = pq.heap[:last]
	if len(pq.heap) > 0 {
		pq.siftDown(0)
	}
	return top, true
}

// Peek returns the next item without removing it. O(1).
func (pq *PriorityQueue[T]) Peek() (Item[T], bool) {
	if len(pq.heap) == 0 {
		return Item[T]{}, false
	}
	return pq.heap[0], true
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue[T]) Len() int {
	return len(pq.heap)
}

// Drain pops every item and returns the values in dequeue order.
func (pq *PriorityQueue[T]) Drain() []T {
	out := make([]T, 0, len(pq.heap))
	for {
		item, ok := pq.Pop()
		if !ok {
			return out
		}
		out = append(out, item.Value)
	}
}

// less returns true if item i should be dequeued before item j.
func (pq *PriorityQueue[T]) less(i, j int) bool {
	a, b := pq.heap[i], pq.heap[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Seq < b.Seq
}

func (pq *PriorityQueue[T]) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !pq.less(idx, parent) {
			break
		}
		pq.heap[idx], pq.heap[parent] = pq.heap[parent], pq.heap[idx]
		idx = parent
	}
}

func (pq *PriorityQueue[T]) siftDown(idx int) {
	n := len(pq.heap)
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2

		if left < n && pq.less(left, smallest) {
			smallest = left
		}
		if right < n && pq.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		pq.heap[idx], pq.heap[smallest] = pq.heap[smallest], pq.heap[idx]
		idx = smallest
	}
}
