package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/zokiio/halfduplex-voice/internal/conditioner"
)

// SchedulingMode selects how Run drives the two schedulers.
type SchedulingMode string

const (
	// Cooperative runs both ticks from one goroutine.
	Cooperative SchedulingMode = "cooperative"
	// Concurrent runs playback and capture on separate goroutines, with
	// capture locked to its own OS thread.
	Concurrent SchedulingMode = "concurrent"
)

// IntakeConfig is the size window inbound packets must fall in.
type IntakeConfig struct {
	// DTXMaxBytes: packets this size or smaller are silence markers.
	DTXMaxBytes    int
	MinPacketBytes int
	MaxPacketBytes int
}

// PlaybackConfig tunes the playback scheduler.
type PlaybackConfig struct {
	Period time.Duration
	// KeepWarm is how long after the last real frame an underrun still
	// writes silence to keep the output stream running.
	KeepWarm time.Duration
	// ExtremeThreshold is the magnitude above which a decoded sample counts
	// as extreme. Zero disables artifact suppression.
	ExtremeThreshold int
	Smoothing        bool
	FEC              bool
	Filter           conditioner.Filter
}

// ArbiterConfig holds the hysteresis thresholds and handoff settle time.
type ArbiterConfig struct {
	NoiseFloor    int
	ConfirmFrames int
	SilenceFrames int
	Settle        time.Duration
	// CountUnderruns feeds a silent observation to the arbiter on every
	// empty playback tick while speaking, so a remote side that stops
	// sending still returns the device to listening.
	CountUnderruns bool
}

// CaptureConfig tunes the capture scheduler.
type CaptureConfig struct {
	Period      time.Duration
	SuppressDTX bool
	DTXMaxBytes int
	Filter      conditioner.Filter
}

// Config fixes the frame geometry and every tunable of a pipeline for its
// lifetime.
type Config struct {
	SampleRate     int
	FrameSamples   int
	BufferCapacity int
	Intake         IntakeConfig
	Playback       PlaybackConfig
	Arbiter        ArbiterConfig
	Capture        CaptureConfig
	Mode           SchedulingMode
}

// DefaultConfig returns a 16 kHz, 20 ms pipeline with a 20 packet buffer
// and the stock hysteresis thresholds.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		FrameSamples:   320,
		BufferCapacity: 20,
		Intake: IntakeConfig{
			DTXMaxBytes:    3,
			MinPacketBytes: 10,
			MaxPacketBytes: 400,
		},
		Playback: PlaybackConfig{
			Period:           20 * time.Millisecond,
			KeepWarm:         200 * time.Millisecond,
			ExtremeThreshold: 20000,
			Smoothing:        true,
			FEC:              true,
			Filter:           conditioner.Filter{Gain: 1.0},
		},
		Arbiter: ArbiterConfig{
			NoiseFloor:     1,
			ConfirmFrames:  3,
			SilenceFrames:  25,
			Settle:         10 * time.Millisecond,
			CountUnderruns: true,
		},
		Capture: CaptureConfig{
			Period:      20 * time.Millisecond,
			SuppressDTX: true,
			DTXMaxBytes: 3,
			Filter:      conditioner.Filter{Gain: 1.0},
		},
		Mode: Concurrent,
	}
}

// FrameDuration is the real-time length of one frame.
func (c Config) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

// Validate checks c and returns every problem found joined into one error.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSamples < 2 {
		errs = append(errs, fmt.Errorf("frame samples must be at least 2, got %d", c.FrameSamples))
	}
	if c.BufferCapacity < 1 {
		errs = append(errs, fmt.Errorf("buffer capacity must be positive, got %d", c.BufferCapacity))
	}
	if c.Intake.MinPacketBytes > c.Intake.MaxPacketBytes {
		errs = append(errs, fmt.Errorf("intake window [%d, %d] is empty", c.Intake.MinPacketBytes, c.Intake.MaxPacketBytes))
	}
	if c.Playback.Period <= 0 || c.Capture.Period <= 0 {
		errs = append(errs, errors.New("playback and capture periods must be positive"))
	}
	if c.Arbiter.ConfirmFrames < 1 || c.Arbiter.SilenceFrames < 1 {
		errs = append(errs, errors.New("arbiter confirm and silence frames must be at least 1"))
	}
	if c.Arbiter.Settle < 0 {
		errs = append(errs, errors.New("arbiter settle must not be negative"))
	}
	switch c.Mode {
	case Cooperative, Concurrent:
	default:
		errs = append(errs, fmt.Errorf("unknown scheduling mode %q", c.Mode))
	}
	return errors.Join(errs...)
}
