// Command collabd runs a single collaboration-engine node: the WebSocket
// event dispatcher, the three-tier cache, and the write-behind worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yongtao-wang/collab-todo/internal/config"
	"github.com/yongtao-wang/collab-todo/internal/repository"
	"github.com/yongtao-wang/collab-todo/internal/server"
	"github.com/yongtao-wang/collab-todo/internal/sharedstore"
)

func main() {
	root := &cobra.Command{
		Use:   "collabd",
		Short: "collab node: WebSocket event dispatcher + three-tier cache",
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("fatal init failure")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.With().Str("env", cfg.Env).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.Open(cfg.DurableStorePath)
	if err != nil {
		return err
	}
	defer repo.Close()

	shared, err := sharedstore.Open(ctx, cfg.SharedStoreURL, cfg.PubSubChannel)
	if err != nil {
		return err
	}
	defer shared.Close()

	srv := server.New(&server.Config{
		CORSOrigins:   cfg.CORSOrigins,
		ShutdownDrain: cfg.ShutdownDrain(),
	}, repo, shared, cfg.AuthSecret, cfg.WriterQueueSize)

	log.Info().Str("addr", cfg.Addr()).Msg("starting collab node")
	return srv.Run(ctx, cfg.Addr())
}
