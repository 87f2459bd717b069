package subtitles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

type Renderer struct {
	video    ports.VideoTool
	style    Style
	maxWords int
	log      *slog.Logger
}

func NewRenderer(video ports.VideoTool, maxWords int, logger *slog.Logger) *Renderer {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{video: video, style: DefaultStyle(), maxWords: maxWords, log: logger}
}

// Render captions inMP4 with the words overlapping [clipStart, clipEnd) and
// writes outMP4. Without any cue the input is copied through unchanged.
func (r *Renderer) Render(ctx context.Context, words []types.Word, clipStart, clipEnd float64, inMP4, outMP4 string) (int, error) {
	cues := BuildCues(words, clipStart, clipEnd, r.maxWords)
	if len(cues) == 0 {
		r.log.Info("no subtitle cues; copying video through")
		if err := copyFile(inMP4, outMP4); err != nil {
			return 0, fmt.Errorf("copy uncaptioned video: %w", err)
		}
		return 0, nil
	}

	assPath := filepath.Join(filepath.Dir(outMP4), "temp_subtitles.ass")
	if err := os.WriteFile(assPath, []byte(RenderASS(cues, r.style)), 0o644); err != nil {
		return 0, fmt.Errorf("write subtitles: %w", err)
	}
	if err := r.video.BurnSubtitles(ctx, inMP4, assPath, outMP4); err != nil {
		return 0, err
	}
	return len(cues), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
