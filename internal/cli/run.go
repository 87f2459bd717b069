package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/config"
	"github.com/forPelevin/clipper/internal/domain/transcript"
	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/types"
)

const runTimeout = 3 * time.Hour

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <key>",
		Short: "Process one stored video and print the run result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}
	cmd.Flags().Int("clips", 0, "Max clips (overrides MAX_CLIPS)")
	cmd.Flags().String("local-dir", "", "Read and write objects under this directory instead of COS")
	cmd.Flags().String("transcript", "", "JSON word list to use instead of transcribing")
	return cmd
}

func run(cmd *cobra.Command, key string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("clips") {
		cfg.MaxClips, _ = cmd.Flags().GetInt("clips")
	}
	if dir, _ := cmd.Flags().GetString("local-dir"); dir != "" {
		cfg.Storage.Backend = config.StorageLocal
		cfg.Storage.LocalDir = dir
	}

	var words []types.Word
	if path, _ := cmd.Flags().GetString("transcript"); path != "" {
		if words, err = readTranscript(path, logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	p, err := pipeline.New(ctx, pipelineConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Process(ctx, pipeline.Request{SourceKey: key, Words: words})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readTranscript(path string, logger *slog.Logger) ([]types.Word, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	words, dropped, err := transcript.ParseWords(f)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		logger.Warn("dropped incomplete transcript words", "dropped", dropped, "kept", len(words))
	}
	return words, nil
}
