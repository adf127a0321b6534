package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/namikmesic/chatkit/internal/config"
	"github.com/namikmesic/chatkit/internal/echo"
	"github.com/namikmesic/chatkit/internal/jetstream"
	"github.com/namikmesic/chatkit/internal/processor"
	"github.com/namikmesic/chatkit/internal/storage"
	"github.com/namikmesic/chatkit/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := server.NewRouter()
	if err := router.Register(echo.DeploymentID, echo.Deployment()); err != nil {
		log.Fatal().Err(err).Msg("failed to register deployment")
	}

	srvCfg := server.Config{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	var opts []server.Option
	var cleanup []func()

	if cfg.RecordingEnabled {
		pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		cleanup = append(cleanup, pool.Close)

		if err := storage.RunMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}

		natsServer, err := jetstream.NewServer(jetstream.Options{
			StoreDir: cfg.NATSStoreDir,
			MaxStore: cfg.NATSMaxStoreBytes,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded NATS")
		}
		cleanup = append(cleanup, natsServer.Shutdown)

		nc, js, err := natsServer.Open("chatkit")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open exchange stream")
		}
		cleanup = append(cleanup, func() { _ = nc.Drain() })

		writer := storage.NewBatchWriter(pool, storage.WriterConfig{
			BufferSize:    cfg.WriterBufferSize,
			BatchSize:     cfg.WriterBatchSize,
			FlushInterval: time.Duration(cfg.WriterFlushMs) * time.Millisecond,
		})
		cleanup = append(cleanup, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := writer.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("write queue not drained at shutdown")
			}
			stats := writer.Stats()
			log.Info().
				Int64("written", stats.Written).
				Int64("failed", stats.Failed).
				Int64("dropped", stats.Dropped).
				Msg("batch writer stopped")
		})

		proc := processor.New(writer, cfg.PendingTTL)
		g.Go(func() error { return proc.StartConsumer(gctx, js) })

		pub := jetstream.NewPublisher(js)
		cleanup = append(cleanup, func() {
			if !pub.Wait(cfg.ShutdownTimeout) {
				log.Warn().Msg("unacknowledged exchange records at shutdown")
			}
		})
		opts = append(opts, server.WithTap(pub))
	} else {
		log.Warn().Msg("exchange recording disabled")
	}

	srv := server.New(srvCfg, router, opts...)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down...")
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	log.Info().Msg("shutdown complete")
}
