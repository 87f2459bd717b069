package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /process_video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.Flags().Int("workers", 1, "Concurrent runs")
	return cmd
}

func serve(cmd *cobra.Command) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}
	workers, _ := cmd.Flags().GetInt("workers")

	ctx := cmd.Context()
	p, err := pipeline.New(ctx, pipelineConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.Token == "" {
		logger.Warn("TOKEN is not set; protected endpoints will answer 500")
	}
	srv := server.New(p, server.Options{
		Addr:    cfg.ListenAddr,
		Token:   cfg.Token,
		Workers: workers,
		Logger:  logger,
	})
	if runs := p.Runs(); runs != nil {
		srv.SetRunLookup(runs)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
