package realtime

import (
	"sync"

	"github.com/voxfacile/voxfacile/pkg/audio"
)

// frameQueue is the bounded FIFO for outgoing audio frames. Frames are
// buffered while the connection is down and flushed in sequence order once
// it is back. On overflow the NEWEST frame is rejected — the earliest unsent
// context is the most valuable part of an utterance.
type frameQueue struct {
	mu       sync.Mutex
	frames   []audio.Frame
	bytes    int
	maxBytes int
}

func newFrameQueue(maxBytes int) *frameQueue {
	return &frameQueue{maxBytes: maxBytes}
}

// push appends a frame. Returns false when the frame would exceed the byte
// budget; the queue is left unchanged in that case.
func (q *frameQueue) push(f audio.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.bytes+len(f.Data) > q.maxBytes {
		return false
	}
	q.frames = append(q.frames, f)
	q.bytes += len(f.Data)
	return true
}

// requeue puts a frame back at the head of the queue. Used when a send
// failed after the frame was already popped; the frame was within budget
// before, so no budget check applies.
func (q *frameQueue) requeue(f audio.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append([]audio.Frame{f}, q.frames...)
	q.bytes += len(f.Data)
}

// pop removes and returns the oldest frame. ok is false when empty.
func (q *frameQueue) pop() (f audio.Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return audio.Frame{}, false
	}
	f = q.frames[0]
	q.frames = q.frames[1:]
	q.bytes -= len(f.Data)
	return f, true
}

// len returns the number of buffered frames.
func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// clear discards all buffered frames.
func (q *frameQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = nil
	q.bytes = 0
}
