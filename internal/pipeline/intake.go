package pipeline

import (
	"time"

	"github.com/rs/zerolog"
)

// Verdict is what intake did with an inbound buffer.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	// VerdictEvicted means the packet was accepted and the oldest queued
	// packet was dropped to make room.
	VerdictEvicted
	VerdictDTX
	VerdictTooSmall
	VerdictTooLarge
	verdictCount
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictEvicted:
		return "evicted"
	case VerdictDTX:
		return "dtx"
	case VerdictTooSmall:
		return "too_small"
	case VerdictTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Enqueued reports whether the packet made it into the buffer.
func (v Verdict) Enqueued() bool {
	return v == VerdictAccepted || v == VerdictEvicted
}

type intake struct {
	cfg IntakeConfig
	jb  *JitterBuffer
	now func() time.Time
	log zerolog.Logger
}

func (in *intake) classify(n int) Verdict {
	switch {
	case n <= in.cfg.DTXMaxBytes:
		return VerdictDTX
	case n < in.cfg.MinPacketBytes:
		return VerdictTooSmall
	case n > in.cfg.MaxPacketBytes:
		return VerdictTooLarge
	default:
		return VerdictAccepted
	}
}

// accept validates data and copies it into the jitter buffer. Rejections are
// silent apart from a sampled debug line.
func (in *intake) accept(data []byte) Verdict {
	v := in.classify(len(data))
	switch v {
	case VerdictDTX:
		return v
	case VerdictTooSmall, VerdictTooLarge:
		// a corrupt packet is a lost frame as far as the decoder is concerned
		in.jb.MarkLoss()
		in.log.Debug().Int("size", len(data)).Stringer("verdict", v).Msg("dropped inbound packet")
		return v
	}

	pkt := EncodedPacket{
		Data:    append([]byte(nil), data...),
		Arrival: in.now(),
	}
	if in.jb.TryPush(pkt) {
		in.log.Debug().Int("capacity", in.jb.Cap()).Msg("jitter buffer full, evicted oldest packet")
		return VerdictEvicted
	}
	return VerdictAccepted
}
