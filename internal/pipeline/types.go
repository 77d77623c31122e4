// Package pipeline is the half-duplex voice core. It validates inbound
// packets into a bounded jitter buffer, decodes and plays them on a fixed
// cadence, captures and encodes microphone frames on a second cadence, and
// arbitrates the single shared transducer between the two directions.
//
// A Pipeline can be driven by an external fixed-rate loop through
// RunPlaybackTick and RunCaptureTick, or run its own loops with Run.
package pipeline

import (
	"errors"
	"time"
)

var (
	ErrNotInitialized = errors.New("pipeline: not initialized")
	ErrCaptureInit    = errors.New("pipeline: capture init failed")
	ErrDecoderInit    = errors.New("pipeline: decoder init failed")
	ErrEncoderInit    = errors.New("pipeline: encoder init failed")
)

// DeviceMode is which direction currently owns the transducer.
type DeviceMode int32

const (
	// Listening means the microphone is active and the speaker is not.
	Listening DeviceMode = iota
	// Speaking means the speaker is active and the microphone is not.
	Speaking
)

func (m DeviceMode) String() string {
	switch m {
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EncodedPacket is one compressed frame as received from the transport.
type EncodedPacket struct {
	Data    []byte
	Arrival time.Time
	// AfterLoss is set when the packet directly preceding this one was lost,
	// which lets playback recover that frame from this packet's FEC data.
	AfterLoss bool
}

// ActivityState is a snapshot of the arbiter's hysteresis counters.
type ActivityState struct {
	ConsecutiveSilentFrames int
	ConsecutiveActiveFrames int
	Mode                    DeviceMode
}

type InputDevice interface {
	// ReadInputFrame fills pcm with exactly one frame from the microphone.
	ReadInputFrame(pcm []int16) error
}

type OutputDevice interface {
	// WriteOutputFrame plays one frame on the speaker.
	WriteOutputFrame(pcm []int16) error
}

// Switch turns the two transducer paths on and off. Every call is
// idempotent and is expected to return within a few tens of milliseconds.
type Switch interface {
	ActivateInput() error
	DeactivateInput() error
	ActivateOutput() error
	DeactivateOutput() error
}

// Device is the audio hardware collaborator.
type Device interface {
	InputDevice
	OutputDevice
	Switch
}

// Sink receives every encoded outbound packet. The slice is only valid for
// the duration of the call.
type Sink interface {
	SendOutboundAudio(pkt []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(pkt []byte) error

func (f SinkFunc) SendOutboundAudio(pkt []byte) error { return f(pkt) }
