// Package config holds the YAML configuration for the voice client.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zokiio/halfduplex-voice/internal/codec"
	"github.com/zokiio/halfduplex-voice/internal/conditioner"
	"github.com/zokiio/halfduplex-voice/internal/device"
	"github.com/zokiio/halfduplex-voice/internal/logging"
	"github.com/zokiio/halfduplex-voice/internal/pipeline"
	"github.com/zokiio/halfduplex-voice/internal/transport"
)

const appDir = "halfduplex-voice"

type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	Intake     IntakeConfig     `yaml:"intake"`
	Jitter     JitterConfig     `yaml:"jitter"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Arbiter    ArbiterConfig    `yaml:"arbiter"`
	Capture    CaptureConfig    `yaml:"capture"`
	Codec      CodecConfig      `yaml:"codec"`
	Device     DeviceConfig     `yaml:"device"`
	Transport  TransportConfig  `yaml:"transport"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	FrameSamples int `yaml:"frame_samples"`
}

type IntakeConfig struct {
	DTXMaxBytes    int `yaml:"dtx_max_bytes"`
	MinPacketBytes int `yaml:"min_packet_bytes"`
	MaxPacketBytes int `yaml:"max_packet_bytes"`
}

type JitterConfig struct {
	Capacity int `yaml:"capacity"`
}

// Condition is the gate and gain applied to a direction of audio.
type Condition struct {
	GateEnergy int64   `yaml:"gate_energy"`
	Gain       float64 `yaml:"gain"`
}

type PlaybackConfig struct {
	Period           time.Duration `yaml:"period"`
	KeepWarm         time.Duration `yaml:"keep_warm"`
	ExtremeThreshold int           `yaml:"extreme_threshold"`
	Smoothing        bool          `yaml:"smoothing"`
	FEC              bool          `yaml:"fec"`
	Condition        Condition     `yaml:"condition"`
}

type ArbiterConfig struct {
	NoiseFloor     int           `yaml:"noise_floor"`
	ConfirmFrames  int           `yaml:"confirm_frames"`
	SilenceFrames  int           `yaml:"silence_frames"`
	Settle         time.Duration `yaml:"settle"`
	CountUnderruns bool          `yaml:"count_underruns"`
}

type CaptureConfig struct {
	Period      time.Duration `yaml:"period"`
	SuppressDTX bool          `yaml:"suppress_dtx"`
	DTXMaxBytes int           `yaml:"dtx_max_bytes"`
	Condition   Condition     `yaml:"condition"`
}

type CodecConfig struct {
	Backend           string `yaml:"backend"`
	Bitrate           int    `yaml:"bitrate"`
	Complexity        int    `yaml:"complexity"`
	DTX               bool   `yaml:"dtx"`
	InBandFEC         bool   `yaml:"inband_fec"`
	PacketLossPercent int    `yaml:"packet_loss_percent"`
}

type DeviceConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

type TransportConfig struct {
	Kind         string        `yaml:"kind"`
	Server       string        `yaml:"server"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	URL          string        `yaml:"url"`
	UPnP         bool          `yaml:"upnp"`
	STUN         bool          `yaml:"stun"`
	STUNServers  []string      `yaml:"stun_servers,omitempty"`
	AuthTimeout  time.Duration `yaml:"auth_timeout"`
	AuthAttempts int           `yaml:"auth_attempts"`
}

type SchedulingConfig struct {
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	p := pipeline.DefaultConfig()
	logFile := ""
	if dir, err := Dir(); err == nil {
		logFile = filepath.Join(dir, "logs", "client.log")
	}
	return &Config{
		Audio: AudioConfig{SampleRate: p.SampleRate, FrameSamples: p.FrameSamples},
		Intake: IntakeConfig{
			DTXMaxBytes:    p.Intake.DTXMaxBytes,
			MinPacketBytes: p.Intake.MinPacketBytes,
			MaxPacketBytes: p.Intake.MaxPacketBytes,
		},
		Jitter: JitterConfig{Capacity: p.BufferCapacity},
		Playback: PlaybackConfig{
			Period:           p.Playback.Period,
			KeepWarm:         p.Playback.KeepWarm,
			ExtremeThreshold: p.Playback.ExtremeThreshold,
			Smoothing:        p.Playback.Smoothing,
			FEC:              p.Playback.FEC,
			Condition:        Condition{Gain: 1.0},
		},
		Arbiter: ArbiterConfig{
			NoiseFloor:     p.Arbiter.NoiseFloor,
			ConfirmFrames:  p.Arbiter.ConfirmFrames,
			SilenceFrames:  p.Arbiter.SilenceFrames,
			Settle:         p.Arbiter.Settle,
			CountUnderruns: p.Arbiter.CountUnderruns,
		},
		Capture: CaptureConfig{
			Period:      p.Capture.Period,
			SuppressDTX: p.Capture.SuppressDTX,
			DTXMaxBytes: p.Capture.DTXMaxBytes,
			Condition:   Condition{Gain: 1.0},
		},
		Codec: CodecConfig{
			Backend:           codec.BackendOpus,
			Bitrate:           30000,
			Complexity:        0,
			InBandFEC:         true,
			PacketLossPercent: 10,
		},
		Device: DeviceConfig{Input: device.DefaultLabel, Output: device.DefaultLabel},
		Transport: TransportConfig{
			Kind:         transport.KindUDP,
			Server:       "localhost",
			Port:         24454,
			AuthTimeout:  5 * time.Second,
			AuthAttempts: 3,
		},
		Scheduling: SchedulingConfig{Mode: string(p.Mode)},
		Log:        LogConfig{Level: "info", File: logFile, Console: true},
	}
}

// SplitServer parses "host" or "host:port", using defaultPort when the port
// is omitted.
func SplitServer(addr string, defaultPort int) (string, int, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0, errors.New("server address is empty")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// no port, or a bare IPv6 address
		return strings.Trim(addr, "[]"), defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// Dir is the per-user directory holding the config file and logs.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// Path is the default config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. Unknown keys are errors.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: encode yaml: %w", err)
	}
	return data, nil
}

// Validate returns every problem found in cfg joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if err := codec.CheckGeometry(cfg.Audio.SampleRate, cfg.Audio.FrameSamples); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Jitter.Capacity < 8 || cfg.Jitter.Capacity > 20 {
		errs = append(errs, fmt.Errorf("jitter.capacity %d is out of range [8, 20]", cfg.Jitter.Capacity))
	}
	if cfg.Playback.Condition.Gain < 0 || cfg.Capture.Condition.Gain < 0 {
		errs = append(errs, errors.New("condition gain must not be negative"))
	}
	switch cfg.Codec.Backend {
	case codec.BackendOpus, codec.BackendGopus:
	default:
		errs = append(errs, fmt.Errorf("codec.backend %q is invalid; valid values: opus, gopus", cfg.Codec.Backend))
	}
	if cfg.Codec.PacketLossPercent < 0 || cfg.Codec.PacketLossPercent > 100 {
		errs = append(errs, fmt.Errorf("codec.packet_loss_percent %d is out of range [0, 100]", cfg.Codec.PacketLossPercent))
	}
	if cfg.Codec.Complexity < 0 || cfg.Codec.Complexity > 10 {
		errs = append(errs, fmt.Errorf("codec.complexity %d is out of range [0, 10]", cfg.Codec.Complexity))
	}

	switch cfg.Transport.Kind {
	case transport.KindUDP:
		if cfg.Transport.Server == "" {
			errs = append(errs, errors.New("transport.server is required for udp"))
		}
		if cfg.Transport.Port <= 0 || cfg.Transport.Port > 65535 {
			errs = append(errs, fmt.Errorf("transport.port %d is invalid", cfg.Transport.Port))
		}
	case transport.KindWebSocket:
		if cfg.Transport.URL == "" {
			errs = append(errs, errors.New("transport.url is required for websocket"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is invalid; valid values: udp, websocket", cfg.Transport.Kind))
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if err := cfg.Pipeline().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Pipeline converts the audio sections into a pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		SampleRate:     c.Audio.SampleRate,
		FrameSamples:   c.Audio.FrameSamples,
		BufferCapacity: c.Jitter.Capacity,
		Intake: pipeline.IntakeConfig{
			DTXMaxBytes:    c.Intake.DTXMaxBytes,
			MinPacketBytes: c.Intake.MinPacketBytes,
			MaxPacketBytes: c.Intake.MaxPacketBytes,
		},
		Playback: pipeline.PlaybackConfig{
			Period:           c.Playback.Period,
			KeepWarm:         c.Playback.KeepWarm,
			ExtremeThreshold: c.Playback.ExtremeThreshold,
			Smoothing:        c.Playback.Smoothing,
			FEC:              c.Playback.FEC,
			Filter:           c.Playback.Condition.filter(),
		},
		Arbiter: pipeline.ArbiterConfig{
			NoiseFloor:     c.Arbiter.NoiseFloor,
			ConfirmFrames:  c.Arbiter.ConfirmFrames,
			SilenceFrames:  c.Arbiter.SilenceFrames,
			Settle:         c.Arbiter.Settle,
			CountUnderruns: c.Arbiter.CountUnderruns,
		},
		Capture: pipeline.CaptureConfig{
			Period:      c.Capture.Period,
			SuppressDTX: c.Capture.SuppressDTX,
			DTXMaxBytes: c.Capture.DTXMaxBytes,
			Filter:      c.Capture.Condition.filter(),
		},
		Mode: pipeline.SchedulingMode(c.Scheduling.Mode),
	}
}

func (c Condition) filter() conditioner.Filter {
	return conditioner.Filter{GateEnergy: c.GateEnergy, Gain: c.Gain}
}

func (c *Config) CodecConfig() codec.Config {
	return codec.Config{
		Backend:           c.Codec.Backend,
		SampleRate:        c.Audio.SampleRate,
		FrameSamples:      c.Audio.FrameSamples,
		Bitrate:           c.Codec.Bitrate,
		Complexity:        c.Codec.Complexity,
		DTX:               c.Codec.DTX,
		InBandFEC:         c.Codec.InBandFEC,
		PacketLossPercent: c.Codec.PacketLossPercent,
	}
}

func (c *Config) DeviceConfig() device.Config {
	return device.Config{
		SampleRate:   c.Audio.SampleRate,
		FrameSamples: c.Audio.FrameSamples,
		InputLabel:   c.Device.Input,
		OutputLabel:  c.Device.Output,
	}
}

func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Kind:         c.Transport.Kind,
		Server:       c.Transport.Server,
		Port:         c.Transport.Port,
		Username:     c.Transport.Username,
		URL:          c.Transport.URL,
		UPnP:         c.Transport.UPnP,
		STUN:         c.Transport.STUN,
		STUNServers:  c.Transport.STUNServers,
		AuthTimeout:  c.Transport.AuthTimeout,
		AuthAttempts: c.Transport.AuthAttempts,
		SampleRate:   c.Audio.SampleRate,
		FrameSamples: c.Audio.FrameSamples,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, File: c.Log.File, Console: c.Log.Console}
}
