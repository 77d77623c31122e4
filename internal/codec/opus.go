//go:build cgo

package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

func init() {
	register(BackendOpus, func(cfg Config) Factory { return opusFactory{cfg: cfg} })
}

type opusFactory struct {
	cfg Config
}

func (f opusFactory) NewEncoder() (Encoder, error) {
	enc, err := opus.NewEncoder(f.cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus: new encoder: %w", err)
	}
	if f.cfg.Bitrate > 0 {
		if err := enc.SetBitrate(f.cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("opus: set bitrate %d: %w", f.cfg.Bitrate, err)
		}
	}
	if err := enc.SetComplexity(f.cfg.Complexity); err != nil {
		return nil, fmt.Errorf("opus: set complexity %d: %w", f.cfg.Complexity, err)
	}
	if err := enc.SetDTX(f.cfg.DTX); err != nil {
		return nil, fmt.Errorf("opus: set dtx: %w", err)
	}
	if err := enc.SetInBandFEC(f.cfg.InBandFEC); err != nil {
		return nil, fmt.Errorf("opus: set inband fec: %w", err)
	}
	if f.cfg.InBandFEC && f.cfg.PacketLossPercent > 0 {
		if err := enc.SetPacketLossPerc(f.cfg.PacketLossPercent); err != nil {
			return nil, fmt.Errorf("opus: set packet loss: %w", err)
		}
	}
	return &opusEncoder{enc: enc, frame: f.cfg.FrameSamples}, nil
}

func (f opusFactory) NewDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(f.cfg.SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: new decoder: %w", err)
	}
	return &opusDecoder{dec: dec, frame: f.cfg.FrameSamples}, nil
}

type opusEncoder struct {
	enc   *opus.Encoder
	frame int
}

func (e *opusEncoder) Encode(pcm []int16, out []byte) (int, error) {
	if e.enc == nil {
		return 0, errClosed
	}
	if len(pcm) != e.frame {
		return 0, fmt.Errorf("opus: encode %d samples, want %d", len(pcm), e.frame)
	}
	return e.enc.Encode(pcm, out)
}

// Close drops the encoder state. libopus memory is owned by the Go heap in
// this binding, so there is nothing else to release.
func (e *opusEncoder) Close() error {
	e.enc = nil
	return nil
}

type opusDecoder struct {
	dec   *opus.Decoder
	frame int
}

func (d *opusDecoder) Decode(pkt []byte, pcm []int16) (int, error) {
	if d.dec == nil {
		return 0, errClosed
	}
	return d.dec.Decode(pkt, pcm[:d.frame])
}

func (d *opusDecoder) DecodeFEC(pkt []byte, pcm []int16) (int, error) {
	if d.dec == nil {
		return 0, errClosed
	}
	if err := d.dec.DecodeFEC(pkt, pcm[:d.frame]); err != nil {
		return 0, err
	}
	return d.frame, nil
}

func (d *opusDecoder) DecodePLC(pcm []int16) (int, error) {
	if d.dec == nil {
		return 0, errClosed
	}
	if err := d.dec.DecodePLC(pcm[:d.frame]); err != nil {
		return 0, err
	}
	return d.frame, nil
}

func (d *opusDecoder) Close() error {
	d.dec = nil
	return nil
}
