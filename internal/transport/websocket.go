package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/zokiio/halfduplex-voice/internal/codec"
	"github.com/zokiio/halfduplex-voice/internal/logging"
	"github.com/zokiio/halfduplex-voice/internal/metrics"
)

const wsWriteTimeout = 100 * time.Millisecond

// WebSocket sends each encoded packet as one binary message. The stream is
// reliable so no loss is ever reported.
type WebSocket struct {
	handlers

	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	rxDone chan struct{}

	connected atomic.Bool
}

func NewWebSocket(cfg Config, m *metrics.Metrics, log zerolog.Logger) *WebSocket {
	return &WebSocket{cfg: cfg, log: log, metrics: m}
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected.Load() {
		return errors.New("transport: already connected")
	}
	if w.cfg.URL == "" {
		return errors.New("transport: websocket url is empty")
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.authTimeout())
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.cfg.URL, err)
	}
	conn.SetReadLimit(codec.MaxPacketBytes * 2)

	w.conn = conn
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.rxDone = make(chan struct{})
	w.connected.Store(true)
	go w.receiveLoop()

	w.log.Info().Str("url", w.cfg.URL).Msg("websocket connected")
	return nil
}

func (w *WebSocket) authTimeout() time.Duration {
	if w.cfg.AuthTimeout > 0 {
		return w.cfg.AuthTimeout
	}
	return 5 * time.Second
}

func (w *WebSocket) receiveLoop() {
	defer close(w.rxDone)

	sampled := logging.Sampled(w.log, 100)
	for {
		typ, data, err := w.conn.Read(w.ctx)
		if err != nil {
			if w.connected.Load() && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				w.log.Warn().Err(err).Msg("websocket read failed")
			}
			w.connected.Store(false)
			return
		}
		if typ != websocket.MessageBinary {
			sampled.Debug().Msg("ignoring text message")
			continue
		}
		w.metrics.RecordTransport("in")
		w.deliver(data)
	}
}

func (w *WebSocket) SendOutboundAudio(pkt []byte) error {
	if !w.connected.Load() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(w.ctx, wsWriteTimeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	w.metrics.RecordTransport("out")
	return nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	open := w.connected.Swap(false)
	err := w.conn.Close(websocket.StatusNormalClosure, "client closing")
	w.cancel()
	<-w.rxDone
	w.conn = nil
	w.log.Info().Msg("websocket closed")
	if !open {
		// the server already ended the session
		return nil
	}
	return err
}
