package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/moqplay/internal/api"
	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/internal/decode"
	"github.com/zsiec/moqplay/internal/decode/reference"
	"github.com/zsiec/moqplay/internal/demux"
	"github.com/zsiec/moqplay/internal/demux/fmp4"
	"github.com/zsiec/moqplay/internal/health"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
	"github.com/zsiec/moqplay/internal/player"
	"github.com/zsiec/moqplay/internal/session"
	"github.com/zsiec/moqplay/internal/transport"
	"github.com/zsiec/moqplay/internal/transport/moq"
	"github.com/zsiec/moqplay/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting moqplay")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Playback ended with error")
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	store, redisClient := openStore(ctx, cfg.Store, log)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()
	}

	plog := logger.NewLogrusAdapter(logrus.NewEntry(log))

	backoff := transport.NewExponentialBackoff(cfg.Transport.RetryInitialDelay, cfg.Transport.RetryMaxDelay, 2, cfg.Transport.DialRetries)
	sess, err := transport.Retry(ctx, backoff, plog.WithField("addr", cfg.Transport.Addr), func(ctx context.Context) (*moq.Session, error) {
		return moq.Dial(ctx, cfg.Transport, plog)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer sess.Close()

	p := player.New(cfg.Player, player.Deps{
		Session:    sess,
		NewDemuxer: func() demux.Demuxer { return fmp4.New(plog) },
		NewDecoder: func() decode.Decoder { return reference.New(cfg.Decoder.ReorderDepth, plog) },
		Sink:       renderLogger(plog),
	}, plog)

	if cfg.API.Enabled {
		srv := api.New(&cfg.API, log, p, store)
		srv.RegisterChecker(health.NewSessionChecker(sess))
		if redisClient != nil {
			srv.RegisterChecker(health.NewRedisChecker(redisClient))
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.WithError(err).Error("Status API error")
			}
		}()
	}

	id, err := p.Play(ctx, startPosition(cfg.Player))
	if err != nil {
		return err
	}

	var playErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case playErr = <-p.Err():
	case <-sess.Done():
		playErr = fmt.Errorf("relay session closed")
	}

	pauseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Pause(pauseCtx); err != nil {
		log.WithError(err).Warn("Failed to pause cleanly")
	}

	if summary, ok := p.Summary(); ok {
		log.WithFields(logrus.Fields{
			"session_id":         id,
			"avg_latency_ms":     summary.AvgLatencyMs,
			"avg_buffering_ms":   summary.AvgBufferingMs,
			"buffering_events":   summary.TotalBufferingEvents,
			"received_kbits":     summary.TotalReceivedKbits,
			"frames_dropped":     summary.TotalFramesDropped,
			"frames_rendered":    summary.FramesRendered,
			"avg_received_kbps":  summary.AvgReceivedKbps,
			"frames_received_by": summary.FramesReceivedByType,
		}).Info("Session summary")

		if err := store.Save(pauseCtx, summary); err != nil {
			log.WithError(err).Warn("Failed to save session summary")
		}
	}
	return playErr
}

// openStore returns the Redis session store when enabled and reachable at
// startup, and an in-process store otherwise.
func openStore(ctx context.Context, cfg config.StoreConfig, log *logrus.Logger) (session.Store, *redis.Client) {
	if !cfg.Enabled {
		return session.NewMemoryStore(), nil
	}

	client := session.NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Session store unavailable, keeping summaries in memory")
		_ = client.Close()
		return session.NewMemoryStore(), nil
	}
	log.Info("Connected to Redis session store")

	return session.NewRedisStore(client, logger.ForComponent(log, "session_store"), cfg.KeyPrefix, cfg.TTL), client
}

func startPosition(cfg config.PlayerConfig) transport.StartAt {
	if cfg.StartAt == config.StartFuture {
		return transport.FromGroup(cfg.StartGroup)
	}
	return transport.Live()
}

// renderLogger is the render sink used without a display: it logs a
// sample of rendered frames.
func renderLogger(log logger.Logger) player.RenderSink {
	sampled := logger.NewSampledLogger(log.WithField("component", "render")).
		WithSampler(logger.CategoryFrameRendered, time.Second, 1)
	return player.RenderFunc(func(f *media.Frame) {
		sampled.Log(logrus.InfoLevel, logger.CategoryFrameRendered, "Frame rendered", map[string]interface{}{
			"class":         f.Class.String(),
			"pts":           f.PTS,
			"media_time_us": f.MediaTime(),
		})
	})
}

func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
