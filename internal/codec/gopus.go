//go:build cgo

package codec

import (
	"fmt"

	"layeh.com/gopus"
)

func init() {
	register(BackendGopus, func(cfg Config) Factory { return gopusFactory{cfg: cfg} })
}

// gopusFactory is the alternative binding. It has no DTX or complexity
// controls, so only bitrate is applied.
type gopusFactory struct {
	cfg Config
}

func (f gopusFactory) NewEncoder() (Encoder, error) {
	enc, err := gopus.NewEncoder(f.cfg.SampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("gopus: new encoder: %w", err)
	}
	if f.cfg.Bitrate > 0 {
		enc.SetBitrate(f.cfg.Bitrate)
	}
	return &gopusEncoder{enc: enc, frame: f.cfg.FrameSamples}, nil
}

func (f gopusFactory) NewDecoder() (Decoder, error) {
	dec, err := gopus.NewDecoder(f.cfg.SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("gopus: new decoder: %w", err)
	}
	return &gopusDecoder{dec: dec, frame: f.cfg.FrameSamples}, nil
}

type gopusEncoder struct {
	enc   *gopus.Encoder
	frame int
}

func (e *gopusEncoder) Encode(pcm []int16, out []byte) (int, error) {
	if e.enc == nil {
		return 0, errClosed
	}
	data, err := e.enc.Encode(pcm, e.frame, len(out))
	if err != nil {
		return 0, err
	}
	return copy(out, data), nil
}

func (e *gopusEncoder) Close() error {
	e.enc = nil
	return nil
}

type gopusDecoder struct {
	dec   *gopus.Decoder
	frame int
}

func (d *gopusDecoder) Decode(pkt []byte, pcm []int16) (int, error) {
	return d.decode(pkt, pcm, false)
}

func (d *gopusDecoder) DecodeFEC(pkt []byte, pcm []int16) (int, error) {
	return d.decode(pkt, pcm, true)
}

// DecodePLC passes no packet, which libopus treats as a lost frame.
func (d *gopusDecoder) DecodePLC(pcm []int16) (int, error) {
	return d.decode(nil, pcm, false)
}

func (d *gopusDecoder) decode(pkt []byte, pcm []int16, fec bool) (int, error) {
	if d.dec == nil {
		return 0, errClosed
	}
	out, err := d.dec.Decode(pkt, d.frame, fec)
	if err != nil {
		return 0, err
	}
	return copy(pcm, out), nil
}

func (d *gopusDecoder) Close() error {
	d.dec = nil
	return nil
}
