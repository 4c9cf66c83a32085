package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/net"
	"fenrir/internal/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the matching engine, the TCP server and the debug server.
	eng := engine.New(engine.WithLogger(log.Logger))
	eng.SetReporter(engine.LogReporter{Logger: log.Logger})
	srv := net.New(cfg.Address, cfg.Port, eng,
		net.WithWorkers(cfg.Workers),
		net.WithReadTimeout(cfg.ReadTimeout),
	)
	dbg := server.NewServer(1, cfg.Address, uint16(cfg.HTTPPort), eng)

	// Either server failing takes the other one down.
	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return srv.Run(ctx) })
	t.Go(func() error { return dbg.Run(ctx) })

	// Block on running the servers.
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
