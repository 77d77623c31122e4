package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/zokiio/halfduplex-voice/internal/codec"
)

// CaptureResult is the outcome of one capture tick.
type CaptureResult int

const (
	CaptureNotReady CaptureResult = iota
	CaptureSent
	// CaptureSentSilence: the speaker owned the transducer, silence was sent.
	CaptureSentSilence
	// CaptureSubstituted: the microphone read failed, silence was sent.
	CaptureSubstituted
	// CaptureSuppressed: the encoder produced a DTX marker that was not forwarded.
	CaptureSuppressed
	CaptureEncodeFailed
	CaptureSendFailed
	captureResultCount
)

func (r CaptureResult) String() string {
	switch r {
	case CaptureNotReady:
		return "not_ready"
	case CaptureSent:
		return "sent"
	case CaptureSentSilence:
		return "sent_silence"
	case CaptureSubstituted:
		return "substituted"
	case CaptureSuppressed:
		return "suppressed"
	case CaptureEncodeFailed:
		return "encode_failed"
	case CaptureSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

type capture struct {
	cfg  CaptureConfig
	in   InputDevice
	enc  codec.Encoder
	sink Sink
	arb  *Arbiter
	log  zerolog.Logger

	pcm []int16
	out []byte
}

func newCapture(cfg Config, in InputDevice, enc codec.Encoder, sink Sink, arb *Arbiter) *capture {
	return &capture{
		cfg:  cfg.Capture,
		in:   in,
		enc:  enc,
		sink: sink,
		arb:  arb,
		pcm:  make([]int16, cfg.FrameSamples),
		out:  make([]byte, codec.MaxPacketBytes),
	}
}

func (c *capture) tick() CaptureResult {
	var (
		speaking bool
		readErr  error
	)
	c.arb.Exclusive(func(mode DeviceMode) {
		if mode == Speaking {
			speaking = true
			return
		}
		readErr = c.in.ReadInputFrame(c.pcm)
	})

	result := CaptureSent
	switch {
	case speaking:
		clear(c.pcm)
		result = CaptureSentSilence
	case readErr != nil:
		c.log.Warn().Err(readErr).Msg("mic read failed, sending silence")
		clear(c.pcm)
		result = CaptureSubstituted
	default:
		c.cfg.Filter.Apply(c.pcm)
	}

	n, err := c.enc.Encode(c.pcm, c.out)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode failed, dropping frame")
		return CaptureEncodeFailed
	}
	if c.cfg.SuppressDTX && n <= c.cfg.DTXMaxBytes {
		return CaptureSuppressed
	}
	if err := c.sink.SendOutboundAudio(c.out[:n]); err != nil {
		c.log.Warn().Err(err).Int("size", n).Msg("send failed")
		return CaptureSendFailed
	}
	return result
}
