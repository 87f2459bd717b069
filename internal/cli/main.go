package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/config"
	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/ports/adapters/asd"
	"github.com/forPelevin/clipper/internal/ports/adapters/cos"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clipper",
		Short:        "Cut vertical, subtitled short clips from long videos",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().String("config", "", "Path to clipper.yaml (default: $CLIPPER_CONFIG, ./clipper.yaml)")

	root.AddCommand(newServeCmd(), newRunCmd())
	return root
}

func loadSettings(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, used, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger)
	if used != "" {
		logger.Info("config loaded", "path", used)
	}
	return cfg, logger, nil
}

func pipelineConfig(cfg *config.Config, logger *slog.Logger) pipeline.Config {
	return pipeline.Config{
		WorkDir:          cfg.WorkDir,
		MaxClips:         cfg.MaxClips,
		SubtitleMaxWords: cfg.SubtitleMaxWords,
		ChunkMaxWords:    cfg.ChunkMaxWords,
		FrameRate:        cfg.FrameRate,
		Logger:           logger,

		FFmpegPath:   cfg.Tools.FFmpeg,
		FFprobePath:  cfg.Tools.FFprobe,
		WhisperBin:   cfg.Tools.WhisperBin,
		WhisperModel: cfg.Tools.WhisperModel,
		ASD:          asdConfig(cfg.Tools),

		LLMProvider:     cfg.LLM.Provider,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		TokensPerMinute: cfg.LLM.TokensPerMinute,
		MaxBucket:       cfg.LLM.MaxBucket,

		GeminiAPIKey:  cfg.LLM.Gemini.APIKey,
		GeminiBaseURL: cfg.LLM.Gemini.BaseURL,
		GeminiModel:   cfg.LLM.Gemini.Model,

		OpenRouterAPIKey:       cfg.LLM.OpenRouter.APIKey,
		OpenRouterModel:        cfg.LLM.OpenRouter.Model,
		OpenRouterBaseURL:      cfg.LLM.OpenRouter.BaseURL,
		OpenRouterAllowedHosts: cfg.LLM.OpenRouter.AllowedHosts,

		Storage: cfg.Storage.Backend,
		COS: cos.Config{
			BucketURL: cfg.Storage.BucketURL,
			SecretID:  cfg.Storage.SecretID,
			SecretKey: cfg.Storage.SecretKey,
		},
		CacheBucketURL:  cfg.Storage.CacheBucketURL,
		LocalStorageDir: cfg.Storage.LocalDir,

		MomentsCache: cfg.MomentsCache.Backend,
		RedisAddr:    cfg.MomentsCache.RedisAddr,
		RedisTTL:     cfg.MomentsCache.RedisTTL,

		RunsDB: cfg.RunsDB,
	}
}

func asdConfig(t config.ToolsConfig) asd.Config {
	return asd.Config{Dir: t.ASDDir, Python: t.ASDPython, Script: t.ASDScript, Model: t.ASDModel}
}
