package pipeline

import "sync"

// JitterBuffer is a bounded FIFO of encoded packets between intake and
// playback. Push and pop never block. A push onto a full buffer evicts the
// oldest packet first, so the newest audio is always kept.
type JitterBuffer struct {
	mu          sync.Mutex
	slots       []EncodedPacket
	head        int
	size        int
	lossPending bool
}

// NewJitterBuffer creates a buffer holding at most capacity packets. A
// capacity below one is raised to one.
func NewJitterBuffer(capacity int) *JitterBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &JitterBuffer{slots: make([]EncodedPacket, capacity)}
}

// TryPush appends p and reports whether the oldest packet was evicted to make room.
func (jb *JitterBuffer) TryPush(p EncodedPacket) (evicted bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.size == len(jb.slots) {
		jb.slots[jb.head] = EncodedPacket{}
		jb.head = (jb.head + 1) % len(jb.slots)
		jb.size--
		evicted = true
	}
	if jb.lossPending {
		p.AfterLoss = true
		jb.lossPending = false
	}
	jb.slots[(jb.head+jb.size)%len(jb.slots)] = p
	jb.size++
	return evicted
}

// TryPop removes the oldest packet. ok is false when the buffer is empty.
func (jb *JitterBuffer) TryPop() (p EncodedPacket, ok bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.size == 0 {
		return EncodedPacket{}, false
	}
	p = jb.slots[jb.head]
	jb.slots[jb.head] = EncodedPacket{}
	jb.head = (jb.head + 1) % len(jb.slots)
	jb.size--
	return p, true
}

// MarkLoss flags the next pushed packet as following a lost one.
func (jb *JitterBuffer) MarkLoss() {
	jb.mu.Lock()
	jb.lossPending = true
	jb.mu.Unlock()
}

// Len returns the number of queued packets.
func (jb *JitterBuffer) Len() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.size
}

// Cap returns the fixed capacity.
func (jb *JitterBuffer) Cap() int {
	return len(jb.slots)
}

// Flush drops every queued packet and returns how many were dropped.
func (jb *JitterBuffer) Flush() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	n := jb.size
	clear(jb.slots)
	jb.head = 0
	jb.size = 0
	jb.lossPending = false
	return n
}
