package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zokiio/halfduplex-voice/internal/codec"
	"github.com/zokiio/halfduplex-voice/internal/logging"
	"github.com/zokiio/halfduplex-voice/internal/metrics"
)

// Pipeline is the process-owned context holding every piece of pipeline
// state: codec handles, arenas, the jitter buffer and the arbiter.
type Pipeline struct {
	cfg     Config
	dev     Device
	sink    Sink
	codecs  codec.Factory
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(time.Duration)

	jb     *JitterBuffer
	arb    *Arbiter
	intake *intake

	initMu sync.Mutex
	enc    codec.Encoder
	dec    codec.Decoder
	pb     *playback
	cp     *capture
	input  bool

	shutdown atomic.Bool
	// held by Run for its whole lifetime so Cleanup can wait for it
	runMu sync.Mutex

	intakeCounts   [verdictCount]atomic.Uint64
	playbackCounts [playbackResultCount]atomic.Uint64
	captureCounts  [captureResultCount]atomic.Uint64
	transitions    atomic.Uint64
}

type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock replaces the wall clock used for arrival stamps and keep-warm
// timing, and the sleep used for the handoff settle interval.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New builds a pipeline. Nothing is allocated for the codecs or devices
// until the Init calls.
func New(cfg Config, dev Device, sink Sink, codecs codec.Factory, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if dev == nil || sink == nil || codecs == nil {
		return nil, fmt.Errorf("pipeline: device, sink and codec factory are required")
	}

	p := &Pipeline{
		cfg:    cfg,
		dev:    dev,
		sink:   sink,
		codecs: codecs,
		log:    zerolog.Nop(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.jb = NewJitterBuffer(cfg.BufferCapacity)
	p.arb = NewArbiter(cfg.Arbiter, dev, p.component("arbiter"))
	p.arb.sleep = p.sleep
	p.arb.OnTransition = func(_, to DeviceMode) {
		p.transitions.Add(1)
		p.metrics.RecordTransition(to.String())
	}
	p.intake = &intake{
		cfg: cfg.Intake,
		jb:  p.jb,
		now: p.now,
		log: p.sampled("intake"),
	}
	return p, nil
}

func (p *Pipeline) component(name string) zerolog.Logger {
	return p.log.With().Str("component", name).Logger()
}

func (p *Pipeline) sampled(name string) zerolog.Logger {
	return logging.Sampled(p.component(name), 100)
}

// Init runs the three init steps in order and stops at the first failure.
func (p *Pipeline) Init() error {
	if err := p.InitCapture(); err != nil {
		return err
	}
	if err := p.InitDecoder(); err != nil {
		return err
	}
	return p.InitEncoder()
}

// InitCapture puts the transducer in its initial listening state: speaker
// off, microphone on.
func (p *Pipeline) InitCapture() error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.input {
		return nil
	}
	if err := p.dev.DeactivateOutput(); err != nil {
		return fmt.Errorf("%w: deactivate output: %w", ErrCaptureInit, err)
	}
	if err := p.dev.ActivateInput(); err != nil {
		return fmt.Errorf("%w: activate input: %w", ErrCaptureInit, err)
	}
	p.input = true
	p.log.Info().Int("sample_rate", p.cfg.SampleRate).Int("frame", p.cfg.FrameSamples).Msg("capture ready")
	return nil
}

// InitDecoder creates the decoder and the playback scheduler around it.
func (p *Pipeline) InitDecoder() error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.dec != nil {
		return nil
	}
	dec, err := p.codecs.NewDecoder()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecoderInit, err)
	}
	p.dec = dec
	p.pb = newPlayback(p.cfg, p.jb, dec, p.dev, p.arb)
	p.pb.now = p.now
	p.pb.log = p.component("playback")
	p.pb.metrics = p.metrics
	p.log.Info().Msg("decoder ready")
	return nil
}

// InitEncoder creates the encoder and the capture scheduler around it.
func (p *Pipeline) InitEncoder() error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.enc != nil {
		return nil
	}
	enc, err := p.codecs.NewEncoder()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderInit, err)
	}
	p.enc = enc
	p.cp = newCapture(p.cfg, p.dev, enc, p.sink, p.arb)
	p.cp.log = p.component("capture")
	p.log.Info().Msg("encoder ready")
	return nil
}

func (p *Pipeline) ready() bool {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	return p.input && p.pb != nil && p.cp != nil
}

// OnInboundAudio is the transport callback. It never blocks and never fails.
func (p *Pipeline) OnInboundAudio(data []byte) Verdict {
	v := p.intake.accept(data)
	p.intakeCounts[v].Add(1)
	p.metrics.RecordIntake(v.String())
	if v == VerdictEvicted {
		p.metrics.RecordEviction()
	}
	if v.Enqueued() {
		p.metrics.RecordDepth(p.jb.Len())
	}
	return v
}

// NoteLoss tells the pipeline the transport detected a gap before the next
// packet, so playback can try FEC recovery.
func (p *Pipeline) NoteLoss() {
	p.jb.MarkLoss()
}

// RunPlaybackTick runs one playback step. It never returns an error: every
// failure is logged and reflected in the result.
func (p *Pipeline) RunPlaybackTick() PlaybackResult {
	p.initMu.Lock()
	pb := p.pb
	p.initMu.Unlock()
	if pb == nil || p.shutdown.Load() {
		return PlaybackNotReady
	}
	r := pb.tick()
	p.playbackCounts[r].Add(1)
	p.metrics.RecordPlayback(r.String())
	return r
}

// RunCaptureTick runs one capture step.
func (p *Pipeline) RunCaptureTick() CaptureResult {
	p.initMu.Lock()
	cp := p.cp
	p.initMu.Unlock()
	if cp == nil || p.shutdown.Load() {
		return CaptureNotReady
	}
	r := cp.tick()
	p.captureCounts[r].Add(1)
	p.metrics.RecordCapture(r.String())
	return r
}

// Run drives both schedulers until ctx is done or Stop is called. It
// refuses to start before Init has fully succeeded.
func (p *Pipeline) Run(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.ready() {
		return ErrNotInitialized
	}

	p.log.Info().Str("mode", string(p.cfg.Mode)).Dur("playback_period", p.cfg.Playback.Period).
		Dur("capture_period", p.cfg.Capture.Period).Msg("pipeline running")

	if p.cfg.Mode == Cooperative {
		return p.runCooperative(ctx)
	}
	return p.runConcurrent(ctx)
}

func (p *Pipeline) runCooperative(ctx context.Context) error {
	play := time.NewTicker(p.cfg.Playback.Period)
	defer play.Stop()
	capt := time.NewTicker(p.cfg.Capture.Period)
	defer capt.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-play.C:
			if p.shutdown.Load() {
				return nil
			}
			p.RunPlaybackTick()
		case <-capt.C:
			if p.shutdown.Load() {
				return nil
			}
			p.RunCaptureTick()
		}
	}
}

func (p *Pipeline) runConcurrent(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.loop(ctx, p.cfg.Playback.Period, func() { p.RunPlaybackTick() })
		return nil
	})
	g.Go(func() error {
		// capture gets a thread of its own so encode timing does not queue
		// behind decode or network work
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		p.loop(ctx, p.cfg.Capture.Period, func() { p.RunCaptureTick() })
		return nil
	})
	return g.Wait()
}

func (p *Pipeline) loop(ctx context.Context, period time.Duration, tick func()) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if p.shutdown.Load() {
				return
			}
			tick()
		}
	}
}

// Stop raises the shutdown flag. Loops exit at their next tick boundary.
func (p *Pipeline) Stop() {
	p.shutdown.Store(true)
}

// Cleanup stops the loops, waits for Run to return, and releases every
// resource that was acquired. Each release is independent, so it is safe
// after a partial init and safe to call more than once.
func (p *Pipeline) Cleanup() {
	p.Stop()
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.enc != nil {
		if err := p.enc.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close encoder")
		}
		p.enc = nil
	}
	if p.dec != nil {
		if err := p.dec.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close decoder")
		}
		p.dec = nil
	}
	p.pb = nil
	p.cp = nil

	if p.input {
		if err := p.dev.DeactivateInput(); err != nil {
			p.log.Warn().Err(err).Msg("deactivate input")
		}
		if err := p.dev.DeactivateOutput(); err != nil {
			p.log.Warn().Err(err).Msg("deactivate output")
		}
		p.input = false
	}
	if n := p.jb.Flush(); n > 0 {
		p.log.Debug().Int("packets", n).Msg("flushed jitter buffer")
	}
}

func (p *Pipeline) Mode() DeviceMode {
	return p.arb.Mode()
}

func (p *Pipeline) Activity() ActivityState {
	return p.arb.State()
}

func (p *Pipeline) Buffer() *JitterBuffer {
	return p.jb
}
