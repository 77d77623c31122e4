//go:build cgo

package device

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudio is a mono blocking-stream device with separate input and output
// streams. It satisfies pipeline.Device.
type PortAudio struct {
	cfg Config
	log zerolog.Logger

	inMu   sync.Mutex
	in     *portaudio.Stream
	inBuf  []int16
	inLive bool

	outMu   sync.Mutex
	out     *portaudio.Stream
	outBuf  []int16
	outLive bool

	closeOnce sync.Once
}

// Open initialises PortAudio and opens both streams stopped.
func Open(cfg Config, log zerolog.Logger) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	d := &PortAudio{
		cfg:    cfg,
		log:    log,
		inBuf:  make([]int16, cfg.FrameSamples),
		outBuf: make([]int16, cfg.FrameSamples),
	}

	inDev, err := resolveInput(cfg.InputLabel)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	d.in, err = d.openStream(inDev, true)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	outDev, err := resolveOutput(cfg.OutputLabel, inDev)
	if err != nil {
		d.in.Close()
		portaudio.Terminate()
		return nil, err
	}
	d.out, err = d.openStream(outDev, false)
	if err != nil {
		d.in.Close()
		portaudio.Terminate()
		return nil, err
	}

	log.Info().Str("input", inDev.Name).Str("output", outDev.Name).
		Int("sample_rate", cfg.SampleRate).Int("frame", cfg.FrameSamples).Msg("audio device opened")
	return d, nil
}

// openStream tries low latency first and falls back to high latency.
func (d *PortAudio) openStream(dev *portaudio.DeviceInfo, input bool) (*portaudio.Stream, error) {
	params := portaudio.StreamParameters{
		SampleRate:      float64(d.cfg.SampleRate),
		FramesPerBuffer: d.cfg.FrameSamples,
	}
	low, high := dev.DefaultLowOutputLatency, dev.DefaultHighOutputLatency
	buf := d.outBuf
	if input {
		low, high = dev.DefaultLowInputLatency, dev.DefaultHighInputLatency
		buf = d.inBuf
	}

	var lastErr error
	for _, latency := range []time.Duration{low, high} {
		sp := portaudio.StreamDeviceParameters{Device: dev, Channels: 1, Latency: latency}
		if input {
			params.Input = sp
		} else {
			params.Output = sp
		}
		stream, err := portaudio.OpenStream(params, buf)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		d.log.Warn().Err(err).Str("device", dev.Name).Bool("input", input).Dur("latency", latency).Msg("open stream failed")
	}
	return nil, fmt.Errorf("open stream on %q (tried low and high latency): %w", dev.Name, lastErr)
}

func (d *PortAudio) ReadInputFrame(pcm []int16) error {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if !d.inLive {
		return ErrInactive
	}
	if err := d.in.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return fmt.Errorf("read input: %w", err)
	}
	copy(pcm, d.inBuf)
	return nil
}

func (d *PortAudio) WriteOutputFrame(pcm []int16) error {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if !d.outLive {
		return ErrInactive
	}
	n := copy(d.outBuf, pcm)
	clear(d.outBuf[n:])
	if err := d.out.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (d *PortAudio) ActivateInput() error {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if d.inLive {
		return nil
	}
	if err := d.in.Start(); err != nil {
		return fmt.Errorf("start input: %w", err)
	}
	d.inLive = true
	return nil
}

func (d *PortAudio) DeactivateInput() error {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	if !d.inLive {
		return nil
	}
	if err := d.in.Stop(); err != nil {
		return fmt.Errorf("stop input: %w", err)
	}
	d.inLive = false
	return nil
}

func (d *PortAudio) ActivateOutput() error {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if d.outLive {
		return nil
	}
	if err := d.out.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	d.outLive = true
	return nil
}

func (d *PortAudio) DeactivateOutput() error {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if !d.outLive {
		return nil
	}
	if err := d.out.Stop(); err != nil {
		return fmt.Errorf("stop output: %w", err)
	}
	d.outLive = false
	return nil
}

// Close stops and closes both streams and terminates PortAudio.
func (d *PortAudio) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		errs = append(errs, d.DeactivateInput(), d.DeactivateOutput())
		if d.in != nil {
			errs = append(errs, d.in.Close())
		}
		if d.out != nil {
			errs = append(errs, d.out.Close())
		}
		errs = append(errs, portaudio.Terminate())
	})
	return errors.Join(errs...)
}

// ListInputs returns the labels of every capture device, default first.
func ListInputs() ([]string, error) {
	return list(true)
}

// ListOutputs returns the labels of every playback device, default first.
func ListOutputs() ([]string, error) {
	return list(false)
}

func list(input bool) ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := candidates(input)
	if err != nil {
		return nil, err
	}
	return append([]string{DefaultLabel}, labels(hostDevices(devs))...), nil
}

func candidates(input bool) ([]*portaudio.DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]*portaudio.DeviceInfo, 0, len(all))
	for _, dev := range all {
		if (input && dev.MaxInputChannels > 0) || (!input && dev.MaxOutputChannels > 0) {
			out = append(out, dev)
		}
	}
	if input && runtime.GOOS == "windows" {
		if wasapi := filterByHost(out, "WASAPI"); len(wasapi) > 0 {
			out = wasapi
		}
	}
	return out, nil
}

func hostDevices(devs []*portaudio.DeviceInfo) []hostDevice {
	out := make([]hostDevice, len(devs))
	for i, dev := range devs {
		out[i] = hostDevice{Name: dev.Name, Host: hostName(dev)}
	}
	return out
}

func filterByHost(devs []*portaudio.DeviceInfo, host string) []*portaudio.DeviceInfo {
	host = strings.ToLower(host)
	out := make([]*portaudio.DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		if strings.Contains(strings.ToLower(hostName(dev)), host) {
			out = append(out, dev)
		}
	}
	return out
}

func hostName(dev *portaudio.DeviceInfo) string {
	if dev == nil || dev.HostApi == nil {
		return ""
	}
	return dev.HostApi.Name
}

func byLabel(label string, input bool) (*portaudio.DeviceInfo, error) {
	devs, err := candidates(input)
	if err != nil {
		return nil, err
	}
	for i, l := range labels(hostDevices(devs)) {
		if l == label {
			return devs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, label)
}

func resolveInput(label string) (*portaudio.DeviceInfo, error) {
	if label == "" || label == DefaultLabel {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return dev, nil
	}
	return byLabel(label, true)
}

// resolveOutput prefers a labelled device, then an output on the same host
// API as the input, then the default output.
func resolveOutput(label string, input *portaudio.DeviceInfo) (*portaudio.DeviceInfo, error) {
	if label != "" && label != DefaultLabel {
		if dev, err := byLabel(label, false); err == nil {
			return dev, nil
		}
	}
	if input != nil && input.HostApi != nil {
		devs, err := candidates(false)
		if err == nil {
			for _, dev := range devs {
				if dev.HostApi == input.HostApi {
					return dev, nil
				}
			}
		}
	}
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("default output device: %w", err)
	}
	return dev, nil
}
