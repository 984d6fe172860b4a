package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/reshuffle/internal/cachemanager"
	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/log"
	"github.com/zjrosen/reshuffle/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the section pipeline over HTTP and WebSocket",
	Long: `Run the pipeline headless behind an HTTP server.

  GET  /ws                   sections/completed frames per generation
  POST /api/refresh          request a refresh
  GET  /api/sections         latest section list
  GET  /api/generations/:id  a recent generation
  GET  /healthz              503 once the pipeline has halted`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := checkConfig(); err != nil {
		return err
	}

	if cfg.Debug {
		closeLog, err := setupLogging(cfg, false)
		if err != nil {
			return err
		}
		defer closeLog()
	} else {
		log.InitWriter(cmd.ErrOrStderr())
		log.SetMinLevel(log.LevelInfo)
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.shutdown(context.Background())

	generations := cachemanager.NewInMemoryCacheManager[string, dispatch.Update](
		"generations", cfg.Serve.CacheTTL, cachemanager.DefaultCleanupInterval)
	srv := server.New(p.dispatcher, cfg.Serve, generations)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
