package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/zokiio/halfduplex-voice/internal/codec"
	"github.com/zokiio/halfduplex-voice/internal/conditioner"
	"github.com/zokiio/halfduplex-voice/internal/metrics"
)

// PlaybackResult is the outcome of one playback tick.
type PlaybackResult int

const (
	PlaybackNotReady PlaybackResult = iota
	// PlaybackIdle: buffer empty and nothing written.
	PlaybackIdle
	// PlaybackSilence: buffer empty, keep-warm silence written.
	PlaybackSilence
	PlaybackPlayed
	// PlaybackRecovered: a lost frame was rebuilt from FEC data and played.
	PlaybackRecovered
	PlaybackDecodeFailed
	// PlaybackDiscarded: decoded frame looked corrupt and was dropped.
	PlaybackDiscarded
	// PlaybackGated: frame decoded and observed but the speaker is not
	// active, so nothing was written.
	PlaybackGated
	PlaybackWriteFailed
	// PlaybackConcealed: a lost frame with no usable FEC data was replaced
	// by loss concealment and played.
	PlaybackConcealed
	playbackResultCount
)

func (r PlaybackResult) String() string {
	switch r {
	case PlaybackNotReady:
		return "not_ready"
	case PlaybackIdle:
		return "idle"
	case PlaybackSilence:
		return "silence"
	case PlaybackPlayed:
		return "played"
	case PlaybackRecovered:
		return "recovered"
	case PlaybackDecodeFailed:
		return "decode_failed"
	case PlaybackDiscarded:
		return "discarded"
	case PlaybackGated:
		return "gated"
	case PlaybackWriteFailed:
		return "write_failed"
	case PlaybackConcealed:
		return "concealed"
	default:
		return "unknown"
	}
}

type playback struct {
	cfg        PlaybackConfig
	countEmpty bool
	jb         *JitterBuffer
	dec        codec.Decoder
	out        OutputDevice
	arb        *Arbiter
	now        func() time.Time
	log        zerolog.Logger
	metrics    *metrics.Metrics

	// arenas sized once at init
	pcm     []int16
	silence []int16

	held       EncodedPacket
	hasHeld    bool
	lastPlayed time.Time
}

func newPlayback(cfg Config, jb *JitterBuffer, dec codec.Decoder, out OutputDevice, arb *Arbiter) *playback {
	return &playback{
		cfg:        cfg.Playback,
		countEmpty: cfg.Arbiter.CountUnderruns,
		jb:         jb,
		dec:        dec,
		out:        out,
		arb:        arb,
		pcm:        make([]int16, cfg.FrameSamples),
		silence:    make([]int16, cfg.FrameSamples),
	}
}

func (pb *playback) next() (EncodedPacket, bool) {
	if pb.hasHeld {
		pb.hasHeld = false
		p := pb.held
		pb.held = EncodedPacket{}
		return p, true
	}
	return pb.jb.TryPop()
}

func (pb *playback) tick() PlaybackResult {
	pkt, ok := pb.next()
	if !ok {
		return pb.underrun()
	}

	pcm := pb.pcm
	start := time.Now()
	n, result, err := pb.decode(pkt)
	pb.metrics.RecordDecode(time.Since(start))
	if err != nil || n <= 0 {
		pb.log.Warn().Err(err).Int("samples", n).Int("size", len(pkt.Data)).Msg("decode failed")
		return PlaybackDecodeFailed
	}
	n = min(n, len(pcm))
	clear(pcm[n:])

	decoded := pcm[:n]
	if conditioner.Corrupt(decoded, pb.cfg.ExtremeThreshold) {
		pb.log.Warn().Int("extreme", conditioner.CountExtreme(decoded, pb.cfg.ExtremeThreshold)).
			Int("samples", n).Msg("discarding corrupt frame")
		return PlaybackDiscarded
	}
	if pb.cfg.Smoothing {
		conditioner.Smooth(decoded)
	}

	mode := pb.arb.Observe(pcm)
	pb.cfg.Filter.Apply(pcm)
	if mode != Speaking {
		return PlaybackGated
	}

	if err := pb.out.WriteOutputFrame(pcm); err != nil {
		pb.log.Warn().Err(err).Msg("output write failed")
		return PlaybackWriteFailed
	}
	pb.lastPlayed = pb.now()
	return result
}

// decode fills pb.pcm from pkt and returns the result a successful write
// reports. A packet that follows a loss first stands in for the lost frame,
// rebuilt through FEC or else concealed, and is then held so the next tick
// decodes it normally.
func (pb *playback) decode(pkt EncodedPacket) (int, PlaybackResult, error) {
	if pkt.AfterLoss {
		if pb.cfg.FEC {
			n, err := pb.dec.DecodeFEC(pkt.Data, pb.pcm)
			if err == nil && n > 0 {
				pb.hold(pkt)
				return n, PlaybackRecovered, nil
			}
			pb.log.Debug().Err(err).Msg("fec recovery failed, concealing")
		}
		n, err := pb.dec.DecodePLC(pb.pcm)
		if err == nil && n > 0 {
			pb.hold(pkt)
			return n, PlaybackConcealed, nil
		}
		pb.log.Debug().Err(err).Msg("concealment failed, decoding packet directly")
	}
	n, err := pb.dec.Decode(pkt.Data, pb.pcm)
	return n, PlaybackPlayed, err
}

func (pb *playback) hold(pkt EncodedPacket) {
	pkt.AfterLoss = false
	pb.held = pkt
	pb.hasHeld = true
}

func (pb *playback) underrun() PlaybackResult {
	mode := pb.arb.Mode()
	if mode == Speaking && pb.countEmpty {
		mode = pb.arb.Observe(pb.silence)
	}
	if mode != Speaking || pb.lastPlayed.IsZero() || pb.now().Sub(pb.lastPlayed) > pb.cfg.KeepWarm {
		return PlaybackIdle
	}
	if err := pb.out.WriteOutputFrame(pb.silence); err != nil {
		pb.log.Warn().Err(err).Msg("keep-warm write failed")
		return PlaybackWriteFailed
	}
	return PlaybackSilence
}
