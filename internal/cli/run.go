package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zokiio/halfduplex-voice/internal/codec"
	"github.com/zokiio/halfduplex-voice/internal/config"
	"github.com/zokiio/halfduplex-voice/internal/device"
	"github.com/zokiio/halfduplex-voice/internal/logging"
	"github.com/zokiio/halfduplex-voice/internal/metrics"
	"github.com/zokiio/halfduplex-voice/internal/pipeline"
	"github.com/zokiio/halfduplex-voice/internal/transport"
)

const statsInterval = 10 * time.Second

var (
	runScheduling string
	runServer     string
	runUsername   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the voice server and run the audio pipeline",
	Long: `Open the audio device, connect to the voice server and run playback and
capture until interrupted. Flags override the matching config keys.

Examples:
  halfduplex-voice run
  halfduplex-voice run --server voice.example.com:24454 --username alice
  halfduplex-voice run --scheduling cooperative`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runVoice(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runScheduling, "scheduling", "", "scheduling mode: cooperative or concurrent")
	runCmd.Flags().StringVar(&runServer, "server", "", "voice server host, optionally host:port")
	runCmd.Flags().StringVar(&runUsername, "username", "", "name announced to the server")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cfg *config.Config) error {
	if runScheduling != "" {
		cfg.Scheduling.Mode = runScheduling
	}
	if runServer != "" {
		host, port, err := config.SplitServer(runServer, cfg.Transport.Port)
		if err != nil {
			return err
		}
		cfg.Transport.Server, cfg.Transport.Port = host, port
	}
	if runUsername != "" {
		cfg.Transport.Username = runUsername
	}
	return config.Validate(cfg)
}

func runVoice(ctx context.Context, cfg *config.Config) error {
	closeLog, err := logging.Init(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer closeLog()
	log := logging.Component("main")

	shutdownMetrics, err := metrics.InitProvider("halfduplex-voice", Version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown")
		}
	}()
	m := metrics.Default()

	codecs, err := codec.New(cfg.CodecConfig())
	if err != nil {
		return err
	}

	dev, err := device.Open(cfg.DeviceConfig(), logging.Component("device"))
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn().Err(err).Msg("close audio device")
		}
	}()

	tr, err := transport.New(cfg.TransportConfig(), m, logging.Component("transport"))
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg.Pipeline(), dev, tr, codecs,
		pipeline.WithLogger(logging.Component("pipeline")),
		pipeline.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer p.Cleanup()

	tr.OnAudio(func(pkt []byte) { p.OnInboundAudio(pkt) })
	tr.OnLoss(func(int) { p.NoteLoss() })

	if err := p.Init(); err != nil {
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer tr.Close()
	logConnection(log, tr)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return p.Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, logging.Component("metrics"))
		})
	}
	g.Go(func() error {
		reportStats(gctx, p, tr, log)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}

// logConnection records the client identity and what NAT traversal found.
func logConnection(log zerolog.Logger, tr transport.Transport) {
	u, ok := tr.(*transport.UDP)
	if !ok {
		return
	}
	ev := log.Info().Str("client_id", u.ClientID().String())
	if nat := u.NAT(); nat != nil {
		ev = ev.Str("nat", string(nat.Type)).
			Str("public", fmt.Sprintf("%s:%d", nat.PublicIP, nat.PublicPort)).
			Bool("upnp_mapped", nat.UPnPMapped)
	}
	ev.Msg("connected")
}

// reportStats logs a pipeline and network summary until ctx is done.
func reportStats(ctx context.Context, p *pipeline.Pipeline, tr transport.Transport, log zerolog.Logger) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s := p.Stats()
		ev := log.Info().
			Str("mode", s.Mode.String()).
			Int("buffer", s.BufferDepth).
			Uint64("transitions", s.Transitions).
			Interface("intake", s.Intake).
			Interface("playback", s.Playback)
		if u, ok := tr.(*transport.UDP); ok {
			ns := u.Stats()
			ev = ev.Str("quality", ns.Quality()).
				Float64("loss_pct", ns.LossPercent()).
				Dur("jitter", ns.Jitter())
		}
		ev.Msg("stats")
	}
}
