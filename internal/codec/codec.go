// Package codec adapts the opus compressor to the pipeline's fixed frame
// geometry: one mono frame of FrameSamples samples in, one packet out.
package codec

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// MaxPacketBytes is the largest opus packet one frame can produce.
const MaxPacketBytes = 1276

const (
	BackendOpus  = "opus"
	BackendGopus = "gopus"
)

var (
	ErrUnknownBackend = errors.New("codec: unknown backend")
	// ErrUnavailable is returned when a known backend was not compiled in,
	// which happens for every backend in builds without cgo.
	ErrUnavailable = errors.New("codec: backend not available in this build")

	errClosed = errors.New("codec: closed")
)

// Encoder compresses one PCM frame into out and returns the packet length.
type Encoder interface {
	Encode(pcm []int16, out []byte) (int, error)
	Close() error
}

// Decoder expands packets into caller-owned PCM frames.
type Decoder interface {
	// Decode writes the frame carried by pkt into pcm and returns the number
	// of samples produced.
	Decode(pkt []byte, pcm []int16) (int, error)
	// DecodeFEC reconstructs the frame that preceded pkt from the redundancy
	// pkt carries. Used when that preceding packet never arrived.
	DecodeFEC(pkt []byte, pcm []int16) (int, error)
	// DecodePLC conceals one missing frame from decoder state alone, for a
	// loss with no redundancy to recover from.
	DecodePLC(pcm []int16) (int, error)
	Close() error
}

// Factory builds the single encoder and decoder a pipeline owns.
type Factory interface {
	NewEncoder() (Encoder, error)
	NewDecoder() (Decoder, error)
}

type Config struct {
	Backend           string
	SampleRate        int
	FrameSamples      int
	Bitrate           int
	Complexity        int
	DTX               bool
	InBandFEC         bool
	PacketLossPercent int
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func(Config) Factory{}
)

func register(name string, fn func(Config) Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// SampleRates are the rates the opus codec accepts.
var SampleRates = []int{8000, 12000, 16000, 24000, 48000}

// frame lengths opus can code, in tenths of a millisecond
var frameTenthsMs = []int{25, 50, 100, 200, 400, 600}

// CheckGeometry reports whether rate and frame samples form a frame opus can
// code.
func CheckGeometry(rate, frameSamples int) error {
	if !slices.Contains(SampleRates, rate) {
		return fmt.Errorf("codec: sample rate %d not supported; valid values: %v", rate, SampleRates)
	}
	if frameSamples <= 0 || frameSamples*10000%rate != 0 || !slices.Contains(frameTenthsMs, frameSamples*10000/rate) {
		return fmt.Errorf("codec: %d samples at %d Hz is not a valid opus frame", frameSamples, rate)
	}
	return nil
}

// New returns the factory for cfg.Backend.
func New(cfg Config) (Factory, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendOpus
	}
	if err := CheckGeometry(cfg.SampleRate, cfg.FrameSamples); err != nil {
		return nil, err
	}
	registryMu.RLock()
	fn, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if ok {
		return fn(cfg), nil
	}
	switch cfg.Backend {
	case BackendOpus, BackendGopus:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, cfg.Backend)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}

// Backends lists the backends compiled into this binary.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
