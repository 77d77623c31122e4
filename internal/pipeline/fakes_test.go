package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/zokiio/halfduplex-voice/internal/codec"
)

type fakeDevice struct {
	mu     sync.Mutex
	calls  []string
	writes [][]int16
	reads  int

	input    int16
	readErr  error
	writeErr error

	deactivateInputErr error
	activateOutputErr  error
}

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDevice) ReadInputFrame(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.readErr != nil {
		return d.readErr
	}
	for i := range pcm {
		pcm[i] = d.input
	}
	return nil
}

func (d *fakeDevice) WriteOutputFrame(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.writes = append(d.writes, append([]int16(nil), pcm...))
	return nil
}

func (d *fakeDevice) ActivateInput() error { d.record("ActivateInput"); return nil }

func (d *fakeDevice) DeactivateInput() error {
	d.record("DeactivateInput")
	return d.deactivateInputErr
}

func (d *fakeDevice) ActivateOutput() error {
	d.record("ActivateOutput")
	return d.activateOutputErr
}

func (d *fakeDevice) DeactivateOutput() error { d.record("DeactivateOutput"); return nil }

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) resetCalls() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}

func (d *fakeDevice) Writes() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int16(nil), d.writes...)
}

func (d *fakeDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// fakeDecoder turns a packet into a constant frame whose amplitude is
// 100 * the first payload byte, so tests can script loud or silent frames
// through packet contents. A first byte of 0xFF fails the decode.
// Concealed frames have amplitude plcAmp.
type fakeDecoder struct {
	mu      sync.Mutex
	decodes int
	fecs    int
	plcs    int
	closed  bool
	extreme bool
	// samples, when set, is how many samples a decode produces
	samples int
	fecErr  error
	plcErr  error
}

const plcAmp = 700

func (d *fakeDecoder) produced(pcm []int16) []int16 {
	if d.samples > 0 && d.samples < len(pcm) {
		return pcm[:d.samples]
	}
	return pcm
}

func (d *fakeDecoder) fill(pkt []byte, pcm []int16) (int, error) {
	if len(pkt) == 0 || pkt[0] == 0xFF {
		return 0, errors.New("bad packet")
	}
	out := d.produced(pcm)
	v := int16(pkt[0]) * 100
	for i := range out {
		out[i] = v
	}
	if d.extreme {
		for i := 0; i < len(out)/2; i++ {
			out[i] = 30000
		}
	}
	return len(out), nil
}

func (d *fakeDecoder) Decode(pkt []byte, pcm []int16) (int, error) {
	d.mu.Lock()
	d.decodes++
	d.mu.Unlock()
	return d.fill(pkt, pcm)
}

func (d *fakeDecoder) DecodeFEC(pkt []byte, pcm []int16) (int, error) {
	d.mu.Lock()
	d.fecs++
	d.mu.Unlock()
	if d.fecErr != nil {
		return 0, d.fecErr
	}
	return d.fill(pkt, pcm)
}

func (d *fakeDecoder) DecodePLC(pcm []int16) (int, error) {
	d.mu.Lock()
	d.plcs++
	d.mu.Unlock()
	if d.plcErr != nil {
		return 0, d.plcErr
	}
	out := d.produced(pcm)
	for i := range out {
		out[i] = plcAmp
	}
	return len(out), nil
}

func (d *fakeDecoder) Close() error { d.closed = true; return nil }

func (d *fakeDecoder) Decodes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decodes
}

type fakeEncoder struct {
	size   int
	err    error
	closed bool
	last   []int16
}

func (e *fakeEncoder) Encode(pcm []int16, out []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.last = append(e.last[:0], pcm...)
	for i := 0; i < e.size; i++ {
		out[i] = byte(i)
	}
	return e.size, nil
}

func (e *fakeEncoder) Close() error { e.closed = true; return nil }

type fakeCodecs struct {
	enc    *fakeEncoder
	dec    *fakeDecoder
	encErr error
	decErr error
}

func newFakeCodecs() *fakeCodecs {
	return &fakeCodecs{enc: &fakeEncoder{size: 40}, dec: &fakeDecoder{}}
}

func (f *fakeCodecs) NewEncoder() (codec.Encoder, error) {
	if f.encErr != nil {
		return nil, f.encErr
	}
	return f.enc, nil
}

func (f *fakeCodecs) NewDecoder() (codec.Decoder, error) {
	if f.decErr != nil {
		return nil, f.decErr
	}
	return f.dec, nil
}

type fakeSink struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (s *fakeSink) SendOutboundAudio(pkt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.packets = append(s.packets, append([]byte(nil), pkt...))
	return nil
}

func (s *fakeSink) Packets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.packets...)
}

// fakeClock is a manually advanced clock. Sleeps advance it.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// packet builds a valid-size inbound packet whose decode amplitude is amp*100.
func packet(amp byte, size int) []byte {
	p := make([]byte, size)
	p[0] = amp
	return p
}

func silentPacket() []byte { return packet(0, 60) }

func activePacket() []byte { return packet(10, 60) }
