package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureSendsMicFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.input = 700

	assert.Equal(t, CaptureSent, h.p.RunCaptureTick())
	assert.Equal(t, 1, h.dev.Reads())
	require.Len(t, h.sink.Packets(), 1)
	assert.Len(t, h.sink.Packets()[0], 40)
	assert.Equal(t, int16(700), h.codecs.enc.last[0])
}

func TestCaptureSilenceWhileSpeaking(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.input = 700
	h.speak(t)

	assert.Equal(t, CaptureSentSilence, h.p.RunCaptureTick())
	assert.Equal(t, 0, h.dev.Reads(), "mic must not be read while the speaker owns the device")
	assert.Equal(t, make([]int16, 320), h.codecs.enc.last)
	assert.Len(t, h.sink.Packets(), 1)
}

func TestCaptureReadFailureSubstitutesSilence(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.readErr = errors.New("overrun")

	assert.Equal(t, CaptureSubstituted, h.p.RunCaptureTick())
	assert.Equal(t, make([]int16, 320), h.codecs.enc.last)
	assert.Len(t, h.sink.Packets(), 1)
}

func TestCaptureSuppressesDTX(t *testing.T) {
	h := newHarness(t, nil)
	h.codecs.enc.size = 3
	assert.Equal(t, CaptureSuppressed, h.p.RunCaptureTick())
	assert.Empty(t, h.sink.Packets())

	h.codecs.enc.size = 4
	assert.Equal(t, CaptureSent, h.p.RunCaptureTick())
	assert.Len(t, h.sink.Packets(), 1)
}

func TestCaptureForwardsDTXWhenNotSuppressing(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Capture.SuppressDTX = false })
	h.codecs.enc.size = 1
	assert.Equal(t, CaptureSent, h.p.RunCaptureTick())
	assert.Len(t, h.sink.Packets(), 1)
}

func TestCaptureEncodeFailureDropsFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.codecs.enc.err = errors.New("boom")
	assert.Equal(t, CaptureEncodeFailed, h.p.RunCaptureTick())
	assert.Empty(t, h.sink.Packets())

	h.codecs.enc.err = nil
	assert.Equal(t, CaptureSent, h.p.RunCaptureTick())
}

func TestCaptureSendFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.err = errors.New("closed")
	assert.Equal(t, CaptureSendFailed, h.p.RunCaptureTick())
	h.sink.err = nil
	assert.Equal(t, CaptureSent, h.p.RunCaptureTick())
}

func TestCaptureConditioning(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Capture.Filter.GateEnergy = 320 * 100 * 100
		c.Capture.Filter.Gain = 2
	})
	h.dev.input = 50
	h.p.RunCaptureTick()
	assert.Equal(t, make([]int16, 320), h.codecs.enc.last)

	h.dev.input = 200
	h.p.RunCaptureTick()
	assert.Equal(t, int16(400), h.codecs.enc.last[0])
}
