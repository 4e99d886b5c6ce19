package client

import (
	"sync"

	"lifeline/pkg/types"
)

const defaultQueueCapacity = 100

// sendQueue buffers frames while the connection is down. Priority frames
// sit ahead of normal ones and are never evicted: when the queue is
// full, the oldest normal frame is dropped to admit a new one, and a
// queue holding only priority frames rejects new normal traffic
// outright.
type sendQueue struct {
	mu       sync.Mutex
	priority []*types.Frame
	normal   []*types.Frame
	capacity int
}

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &sendQueue{capacity: capacity}
}

// push enqueues a frame, reporting whether it was admitted.
func (q *sendQueue) push(frame *types.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if frame.IsPriority() {
		if q.len() >= q.capacity {
			if len(q.normal) == 0 {
				return false
			}
			q.normal = q.normal[1:]
		}
		q.priority = append(q.priority, frame)
		return true
	}

	if q.len() >= q.capacity {
		if len(q.normal) == 0 {
			return false
		}
		q.normal = q.normal[1:]
	}
	q.normal = append(q.normal, frame)
	return true
}

// pushFront re-inserts a frame at the head of its lane, preserving its
// FIFO position when a flush write fails after the dequeue.
func (q *sendQueue) pushFront(frame *types.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if frame.IsPriority() {
		q.priority = append([]*types.Frame{frame}, q.priority...)
		return
	}
	q.normal = append([]*types.Frame{frame}, q.normal...)
}

// pop dequeues the next frame, priority lane first.
func (q *sendQueue) pop() (*types.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.priority) > 0 {
		frame := q.priority[0]
		q.priority = q.priority[1:]
		return frame, true
	}
	if len(q.normal) > 0 {
		frame := q.normal[0]
		q.normal = q.normal[1:]
		return frame, true
	}
	return nil, false
}

func (q *sendQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

// len must be called with q.mu held.
func (q *sendQueue) len() int {
	return len(q.priority) + len(q.normal)
}
