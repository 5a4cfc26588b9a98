// Command huginnd runs the matching engine as a standalone daemon:
// durable storage, the in-memory book and ledger, the event publisher,
// and the TCP wire server, all wired from a single YAML config file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"huginn/internal/config"
	"huginn/internal/engine"
	"huginn/internal/ledger"
	"huginn/internal/money"
	"huginn/internal/publish"
	"huginn/internal/settlement"
	"huginn/internal/storage"
	"huginn/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/huginn.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	configureLogging(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open durable store")
	}

	feeRate, err := money.Parse(cfg.FeeRate)
	if err != nil {
		log.Fatal().Err(err).Str("fee_rate", cfg.FeeRate).Msg("invalid fee_rate")
	}

	l := ledger.New()
	hub := publish.NewHub(log.Logger)
	go hub.Run(ctx.Done())

	settler := settlement.New(l, store, feeRate)

	engCfg := engine.Config{
		Algorithm:     algorithmFor(cfg.MatchingAlgorithm),
		SnapshotDepth: cfg.BookSnapshotDefaultDepth,
	}
	for _, p := range cfg.SupportedPairs {
		engCfg.SupportedPairs = append(engCfg.SupportedPairs, p.Pair())
	}

	eng := engine.New(engCfg, l, store, hub, settler, log.Logger)

	srv := transport.New(cfg.Transport.ListenAddress, eng, log.Logger)

	engineDone := make(chan struct{})
	var engineErr error
	go func() {
		engineErr = eng.Run(ctx)
		close(engineDone)
	}()

	transportDone := make(chan struct{})
	var transportErr error
	go func() {
		transportErr = srv.Run(ctx)
		close(transportDone)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case <-engineDone:
		if engineErr != nil {
			log.Error().Err(engineErr).Msg("engine stopped unexpectedly")
		}
		stop()
	case <-transportDone:
		if transportErr != nil {
			log.Error().Err(transportErr).Msg("transport server stopped unexpectedly")
		}
		stop()
	}

	srv.Shutdown()
	<-transportDone
	<-engineDone
}

func algorithmFor(name string) engine.MatchAlgorithm {
	switch strings.ToLower(name) {
	case "prorata", "pro_rata":
		return engine.ProRata
	default:
		return engine.FIFO
	}
}

func configureLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(os.Stderr)
}
