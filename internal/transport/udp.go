package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/zokiio/halfduplex-voice/internal/logging"
	"github.com/zokiio/halfduplex-voice/internal/metrics"
)

// UDP is the voice server client. Audio travels as RTP packets prefixed by
// the packet type and the client id.
type UDP struct {
	handlers

	cfg     Config
	id      uuid.UUID
	ssrc    uint32
	log     zerolog.Logger
	metrics *metrics.Metrics
	stats   *Stats

	mu     sync.Mutex
	conn   *net.UDPConn
	server *net.UDPAddr
	nat    *NATTraversal
	natInf *NATInfo

	connected atomic.Bool
	rxDone    chan struct{}

	sendMu  sync.Mutex
	seq     uint16
	ts      uint32
	sendBuf []byte
}

// NewUDP creates an unconnected client with a fresh client id. Zero auth
// timeout, attempts and payload type take their defaults.
func NewUDP(cfg Config, m *metrics.Metrics, log zerolog.Logger) *UDP {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.AuthAttempts <= 0 {
		cfg.AuthAttempts = 3
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 111
	}
	id := uuid.New()
	frame := time.Duration(0)
	if cfg.SampleRate > 0 {
		frame = time.Duration(cfg.FrameSamples) * time.Second / time.Duration(cfg.SampleRate)
	}
	return &UDP{
		cfg:     cfg,
		id:      id,
		ssrc:    binary.BigEndian.Uint32(id[:4]),
		log:     log,
		metrics: m,
		stats:   NewStats(frame),
		seq:     uint16(id[4])<<8 | uint16(id[5]),
		sendBuf: make([]byte, 1500),
	}
}

func (u *UDP) ClientID() uuid.UUID { return u.id }

func (u *UDP) Stats() *Stats { return u.stats }

// NAT returns what traversal learned about the network, or nil.
func (u *UDP) NAT() *NATInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.natInf
}

// Connect opens the socket, optionally maps a port, authenticates with
// retry and starts the receive loop.
func (u *UDP) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.connected.Load() {
		return errors.New("transport: already connected")
	}

	server, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.cfg.Server, fmt.Sprint(u.cfg.Port)))
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("create UDP socket: %w", err)
	}
	localPort := conn.LocalAddr().(*net.UDPAddr).Port
	u.log.Info().Str("server", server.String()).Int("local_port", localPort).Str("user", u.cfg.Username).Msg("connecting")

	if u.cfg.UPnP || u.cfg.STUN {
		nat, info, err := SetupNAT(ctx, conn, "halfduplex-voice", u.cfg.UPnP, u.cfg.STUN, u.cfg.STUNServers, u.log)
		if err != nil {
			conn.Close()
			return err
		}
		u.nat, u.natInf = nat, info
	}

	u.conn, u.server = conn, server
	if err := u.authenticate(ctx); err != nil {
		u.teardownLocked()
		return err
	}
	conn.SetReadDeadline(time.Time{})

	u.stats.Reset()
	u.connected.Store(true)
	u.rxDone = make(chan struct{})
	go u.receiveLoop()
	return nil
}

func (u *UDP) authenticate(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= u.cfg.AuthAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(math.Pow(2, float64(attempt-2))) * time.Second
			u.log.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying authentication")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if _, err := u.conn.WriteToUDP(authPacket(u.id, u.cfg.Username), u.server); err != nil {
			lastErr = err
			continue
		}
		u.conn.SetReadDeadline(time.Now().Add(u.cfg.AuthTimeout))
		err := u.waitForAck()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("server did not acknowledge authentication after %d attempts: %w", u.cfg.AuthAttempts, lastErr)
}

func (u *UDP) waitForAck() error {
	buf := make([]byte, 512)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		id, accepted, message, ok := parseAuthAck(buf[:n])
		if !ok || id != u.id {
			continue
		}
		if !accepted {
			return fmt.Errorf("%w: %s", ErrAuthRejected, message)
		}
		u.log.Info().Str("message", message).Msg("server acknowledged connection")
		return nil
	}
}

func (u *UDP) receiveLoop() {
	defer close(u.rxDone)

	buf := make([]byte, 2048)
	sampled := logging.Sampled(u.log, 100)
	var pkt rtp.Packet
	for u.connected.Load() {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.connected.Load() {
				u.log.Warn().Err(err).Msg("receive error")
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if n <= audioHeader || buf[0] != packetAudio {
			continue
		}
		if err := pkt.Unmarshal(buf[audioHeader:n]); err != nil {
			sampled.Debug().Err(err).Msg("dropping malformed RTP packet")
			continue
		}
		u.metrics.RecordTransport("in")
		u.lost(u.stats.Record(pkt.SequenceNumber, time.Now()))
		sampled.Debug().Uint16("seq", pkt.SequenceNumber).Int("size", len(pkt.Payload)).Msg("received audio")
		u.deliver(pkt.Payload)
	}
}

// SendOutboundAudio wraps pkt in an RTP header and sends it. pkt is not
// retained.
func (u *UDP) SendOutboundAudio(pkt []byte) error {
	if !u.connected.Load() {
		return ErrNotConnected
	}

	u.sendMu.Lock()
	defer u.sendMu.Unlock()

	p := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    u.cfg.PayloadType,
			SequenceNumber: u.seq,
			Timestamp:      u.ts,
			SSRC:           u.ssrc,
		},
		Payload: pkt,
	}
	u.seq++
	u.ts += uint32(u.cfg.FrameSamples)

	u.sendBuf[0] = packetAudio
	copy(u.sendBuf[1:audioHeader], u.id[:])
	n, err := p.MarshalTo(u.sendBuf[audioHeader:])
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	if _, err := u.conn.WriteToUDP(u.sendBuf[:audioHeader+n], u.server); err != nil {
		return err
	}
	u.metrics.RecordTransport("out")
	return nil
}

// Close sends a disconnect, stops the receive loop and removes any port
// mapping. Safe to call when not connected.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.connected.Swap(false) {
		return nil
	}
	if _, err := u.conn.WriteToUDP(disconnectPacket(u.id), u.server); err != nil {
		u.log.Warn().Err(err).Msg("send disconnect")
	}
	u.teardownLocked()

	select {
	case <-u.rxDone:
	case <-time.After(time.Second):
		u.log.Warn().Msg("receive loop did not exit")
	}
	u.log.Info().Msg("disconnected from voice server")
	return nil
}

func (u *UDP) teardownLocked() {
	if u.conn != nil {
		u.conn.Close()
	}
	if u.nat != nil {
		if err := u.nat.RemovePortMapping(); err != nil {
			u.log.Warn().Err(err).Msg("remove port mapping")
		}
		u.nat, u.natInf = nil, nil
	}
}
