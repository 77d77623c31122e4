package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeqLess(t *testing.T) {
	tests := []struct {
		name     string
		a, b     uint16
		expected bool
	}{
		{"a < b", 100, 200, true},
		{"a > b", 200, 100, false},
		{"equal", 100, 100, false},
		{"zero then one", 0, 1, true},
		{"wraparound near max", 0xFFFE, 0x0001, true},
		{"wraparound max to zero", 0xFFFF, 0x0000, true},
		{"wraparound reversed", 0x0001, 0xFFFE, false},
		{"half range forward", 0, 0x7FFF, true},
		{"exactly half range", 0, 0x8000, false},
		{"exactly half range backward", 0x8000, 0, false},
		{"small wraparound gap", 0xFFFC, 0x0002, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seqLess(tt.a, tt.b); got != tt.expected {
				t.Errorf("seqLess(%d, %d) = %v, expected %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestSeqLessWrapTransitivity(t *testing.T) {
	seqs := []uint16{0xFFFD, 0xFFFE, 0xFFFF, 0, 1, 2}
	for i := 0; i < len(seqs)-1; i++ {
		if !seqLess(seqs[i], seqs[i+1]) {
			t.Errorf("expected %d < %d", seqs[i], seqs[i+1])
		}
	}
}

func TestStatsRecord(t *testing.T) {
	s := NewStats(20 * time.Millisecond)
	t0 := time.Unix(0, 0)

	assert.Equal(t, 0, s.Record(0xFFFE, t0))
	assert.Equal(t, 0, s.Record(0xFFFF, t0.Add(20*time.Millisecond)))
	assert.Equal(t, 2, s.Record(2, t0.Add(40*time.Millisecond)), "0 and 1 lost across wrap")
	assert.Equal(t, 0, s.Record(1, t0.Add(45*time.Millisecond)), "late packet")

	assert.Equal(t, uint64(3), s.Received())
	assert.Equal(t, uint64(2), s.Lost())
	assert.Equal(t, uint64(1), s.OutOfOrder())
	assert.InDelta(t, 40.0, s.LossPercent(), 0.001)
	assert.Equal(t, "poor", s.Quality())
	assert.Equal(t, time.Duration(0), s.Jitter())

	s.Reset()
	assert.Equal(t, uint64(0), s.Received())
	assert.Equal(t, "excellent", s.Quality())
}

func TestStatsJitter(t *testing.T) {
	s := NewStats(20 * time.Millisecond)
	t0 := time.Unix(0, 0)
	s.Record(1, t0)
	s.Record(2, t0.Add(30*time.Millisecond))
	s.Record(3, t0.Add(40*time.Millisecond))
	assert.InDelta(t, float64(10*time.Millisecond), float64(s.Jitter()), float64(time.Microsecond))
}
