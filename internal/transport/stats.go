package transport

import (
	"sync"
	"time"
)

// Stats tracks inbound stream quality from RTP sequence numbers and arrival
// times.
type Stats struct {
	mu          sync.RWMutex
	frame       time.Duration
	received    uint64
	lost        uint64
	outOfOrder  uint64
	lastSeq     uint16
	initialized bool

	recentPackets uint64
	recentLost    uint64
	window        uint64

	lastArrival time.Time
	jitterSum   float64
	jitterCount int64
}

// NewStats expects one packet per frame.
func NewStats(frame time.Duration) *Stats {
	return &Stats{frame: frame, window: 1000}
}

// seqLess reports whether a precedes b in 16-bit serial number arithmetic.
func seqLess(a, b uint16) bool {
	return a != b && b-a < 0x8000
}

// Record registers packet seq arriving at now and returns how many packets
// were skipped since the previous one. Late packets return 0 and are counted
// as out of order.
func (s *Stats) Record(seq uint16, now time.Time) (lost int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		s.lastArrival = now
		s.received++
		s.recentPackets++
		return 0
	}

	if !seqLess(s.lastSeq, seq) {
		s.outOfOrder++
		return 0
	}

	lost = int(seq-s.lastSeq) - 1
	s.lost += uint64(lost)
	s.recentLost += uint64(lost)
	s.received++
	s.recentPackets++
	s.lastSeq = seq

	jitter := now.Sub(s.lastArrival) - s.frame
	if jitter < 0 {
		jitter = -jitter
	}
	s.jitterSum += jitter.Seconds()
	s.jitterCount++
	s.lastArrival = now

	if s.recentPackets > s.window {
		s.recentPackets = s.window
		s.recentLost = uint64(float64(s.recentLost) * 0.9)
	}
	return lost
}

// LossPercent is the recent loss rate, 0 to 100.
func (s *Stats) LossPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.recentPackets + s.recentLost
	if total == 0 {
		return 0
	}
	return float64(s.recentLost) / float64(total) * 100
}

func (s *Stats) Received() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received
}

func (s *Stats) Lost() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lost
}

func (s *Stats) OutOfOrder() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outOfOrder
}

// Jitter is the mean deviation of inter-arrival time from the frame period.
func (s *Stats) Jitter() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.jitterCount == 0 {
		return 0
	}
	return time.Duration(s.jitterSum / float64(s.jitterCount) * float64(time.Second))
}

// Quality buckets the loss rate into a human readable rating.
func (s *Stats) Quality() string {
	switch loss := s.LossPercent(); {
	case loss < 1:
		return "excellent"
	case loss < 3:
		return "good"
	case loss < 10:
		return "fair"
	default:
		return "poor"
	}
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received, s.lost, s.outOfOrder = 0, 0, 0
	s.lastSeq, s.initialized = 0, false
	s.recentPackets, s.recentLost = 0, 0
	s.lastArrival = time.Time{}
	s.jitterSum, s.jitterCount = 0, 0
}
