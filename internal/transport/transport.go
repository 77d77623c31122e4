// Package transport carries encoded audio between the pipeline and a voice
// server. Two transports are provided: a UDP client with RTP framing, an
// authentication handshake and optional NAT traversal, and a WebSocket
// client that sends one packet per binary message.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zokiio/halfduplex-voice/internal/metrics"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrAuthRejected = errors.New("transport: authentication rejected")
)

const (
	KindUDP       = "udp"
	KindWebSocket = "websocket"
)

// Transport moves encoded packets to and from the voice server.
type Transport interface {
	Connect(ctx context.Context) error
	SendOutboundAudio(pkt []byte) error
	// OnAudio registers the inbound packet handler. Call before Connect.
	OnAudio(fn func(pkt []byte))
	// OnLoss registers a handler told how many packets went missing
	// before the next delivered one.
	OnLoss(fn func(n int))
	Close() error
}

type Config struct {
	Kind     string
	Server   string
	Port     int
	Username string
	URL      string

	UPnP        bool
	STUN        bool
	STUNServers []string

	AuthTimeout  time.Duration
	AuthAttempts int
	PayloadType  uint8
	SampleRate   int
	FrameSamples int
}

// New builds the transport selected by cfg.Kind.
func New(cfg Config, m *metrics.Metrics, log zerolog.Logger) (Transport, error) {
	switch cfg.Kind {
	case KindUDP, "":
		return NewUDP(cfg, m, log), nil
	case KindWebSocket:
		return NewWebSocket(cfg, m, log), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}

// handlers holds the callbacks shared by both transports.
type handlers struct {
	audio atomic.Pointer[func([]byte)]
	loss  atomic.Pointer[func(int)]
}

func (h *handlers) OnAudio(fn func([]byte)) { h.audio.Store(&fn) }

func (h *handlers) OnLoss(fn func(int)) { h.loss.Store(&fn) }

func (h *handlers) deliver(pkt []byte) {
	if fn := h.audio.Load(); fn != nil && *fn != nil {
		(*fn)(pkt)
	}
}

func (h *handlers) lost(n int) {
	if n <= 0 {
		return
	}
	if fn := h.loss.Load(); fn != nil && *fn != nil {
		(*fn)(n)
	}
}
