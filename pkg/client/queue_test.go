package client

import (
	"fmt"
	"testing"

	"lifeline/pkg/types"
)

func normalFrame(n int) *types.Frame {
	frame, _ := types.NewFrame(types.FrameCrisisMessage, map[string]int{"n": n})
	return frame
}

func priorityFrame(n int) *types.Frame {
	frame, _ := types.NewPriorityFrame(types.FrameEmergencyEscalation, map[string]int{"n": n})
	return frame
}

func TestSendQueue_FIFOForNormalFrames(t *testing.T) {
	q := newSendQueue(10)

	for i := 0; i < 3; i++ {
		if !q.push(normalFrame(i)) {
			t.Fatalf("push %d rejected", i)
		}
	}

	for i := 0; i < 3; i++ {
		frame, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d returned empty", i)
		}
		var payload map[string]int
		_ = frame.Decode(&payload)
		if payload["n"] != i {
			t.Errorf("expected frame %d, got %d", i, payload["n"])
		}
	}

	if _, ok := q.pop(); ok {
		t.Error("queue should be empty")
	}
}

func TestSendQueue_PriorityPopsFirst(t *testing.T) {
	q := newSendQueue(10)

	q.push(normalFrame(1))
	q.push(priorityFrame(2))
	q.push(normalFrame(3))

	frame, _ := q.pop()
	if !frame.IsPriority() {
		t.Error("priority frame should pop ahead of earlier normal frames")
	}
}

func TestSendQueue_OverflowDropsOldestNormal(t *testing.T) {
	q := newSendQueue(3)

	q.push(normalFrame(0))
	q.push(normalFrame(1))
	q.push(normalFrame(2))

	if !q.push(normalFrame(3)) {
		t.Fatal("push into full queue should evict, not reject")
	}
	if q.size() != 3 {
		t.Fatalf("expected size 3 after eviction, got %d", q.size())
	}

	frame, _ := q.pop()
	var payload map[string]int
	_ = frame.Decode(&payload)
	if payload["n"] != 1 {
		t.Errorf("oldest normal frame should have been evicted; head is %d", payload["n"])
	}
}

func TestSendQueue_PriorityNeverEvicted(t *testing.T) {
	q := newSendQueue(3)

	q.push(priorityFrame(0))
	q.push(normalFrame(1))
	q.push(normalFrame(2))

	// Eviction must take the oldest normal frame, not the priority one.
	if !q.push(priorityFrame(3)) {
		t.Fatal("priority push should evict a normal frame")
	}

	priorities := 0
	for {
		frame, ok := q.pop()
		if !ok {
			break
		}
		if frame.IsPriority() {
			priorities++
		}
	}
	if priorities != 2 {
		t.Errorf("expected both priority frames to survive, got %d", priorities)
	}
}

func TestSendQueue_AllPriorityFullRejectsNewFrames(t *testing.T) {
	q := newSendQueue(2)

	q.push(priorityFrame(0))
	q.push(priorityFrame(1))

	if q.push(normalFrame(2)) {
		t.Error("normal push should be rejected when the queue holds only priority frames")
	}
	if q.push(priorityFrame(3)) {
		t.Error("priority push should be rejected when the queue holds only priority frames")
	}
	if q.size() != 2 {
		t.Errorf("rejections must not change the queue, size %d", q.size())
	}
}

func TestSendQueue_PushFrontRestoresPosition(t *testing.T) {
	q := newSendQueue(10)

	for i := 0; i < 3; i++ {
		q.push(normalFrame(i))
	}

	// Dequeue the head and put it back, as a failed flush write does;
	// the drain order must be unchanged.
	head, _ := q.pop()
	q.pushFront(head)

	for i := 0; i < 3; i++ {
		frame, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d returned empty", i)
		}
		var payload map[string]int
		_ = frame.Decode(&payload)
		if payload["n"] != i {
			t.Errorf("expected frame %d at position %d, got %d", i, i, payload["n"])
		}
	}

	// Same for the priority lane.
	q.push(priorityFrame(0))
	q.push(priorityFrame(1))
	head, _ = q.pop()
	q.pushFront(head)

	frame, _ := q.pop()
	var payload map[string]int
	_ = frame.Decode(&payload)
	if payload["n"] != 0 {
		t.Errorf("re-inserted priority frame lost its head position, got %d", payload["n"])
	}
}

func TestSendQueue_SizeTracksBothLanes(t *testing.T) {
	q := newSendQueue(10)
	for i := 0; i < 4; i++ {
		q.push(normalFrame(i))
	}
	q.push(priorityFrame(99))

	if got := q.size(); got != 5 {
		t.Errorf("expected size 5, got %d", got)
	}

	// Drain order: the priority frame, then normals in FIFO order.
	frame, _ := q.pop()
	if !frame.IsPriority() {
		t.Fatal("expected priority frame first")
	}
	for i := 0; i < 4; i++ {
		frame, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d returned empty", i)
		}
		var payload map[string]int
		_ = frame.Decode(&payload)
		if payload["n"] != i {
			t.Errorf("expected frame %d, got %d", i, payload["n"])
		}
	}
}

func TestSendQueue_ZeroCapacityUsesDefault(t *testing.T) {
	q := newSendQueue(0)
	for i := 0; i < defaultQueueCapacity; i++ {
		if !q.push(normalFrame(i)) {
			t.Fatalf("push %d rejected before default capacity", i)
		}
	}
	if q.size() != defaultQueueCapacity {
		t.Errorf("expected size %d, got %d", defaultQueueCapacity, q.size())
	}
}

func BenchmarkSendQueuePush(b *testing.B) {
	q := newSendQueue(1000)
	frames := make([]*types.Frame, 100)
	for i := range frames {
		frames[i], _ = types.NewFrame(types.FrameCrisisMessage, map[string]string{"content": fmt.Sprintf("msg %d", i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.push(frames[i%len(frames)])
		if i%2 == 0 {
			q.pop()
		}
	}
}
