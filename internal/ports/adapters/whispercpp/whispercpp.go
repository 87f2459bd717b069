// Package whispercpp transcribes audio with the whisper.cpp CLI.
package whispercpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

const stderrTailLines = 20

// ErrModelMissing is returned before launching whisper when the model file is absent.
var ErrModelMissing = errors.New("whisper model not found")

type Adapter struct {
	bin   string
	model string
}

func New(binPath, modelPath string) *Adapter {
	return &Adapter{bin: binPath, model: modelPath}
}

// Transcribe runs whisper.cpp with word timestamps and returns the words in
// start order. The JSON report is written under cacheDir next to the audio name.
func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) ([]types.Word, error) {
	if _, err := os.Stat(a.model); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelMissing, a.model)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("whisper cache dir: %w", err)
	}
	report := filepath.Join(cacheDir, strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))+".whisper")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.bin, "-m", a.model, "-f", wavPath, "-oj", "-owts", "-of", report)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper.cpp: %w\n%s", err, tail(stderr.String(), stderrTailLines))
	}

	f, err := os.Open(report + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper report: %w", err)
	}
	defer f.Close()
	return decodeReport(f)
}

type report struct {
	Segments []struct {
		Words []struct {
			Word  *string  `json:"word"`
			Start *float64 `json:"start"`
			End   *float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// decodeReport flattens segments. Words without text or timing are dropped.
func decodeReport(r io.Reader) ([]types.Word, error) {
	var rep report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}
	var words []types.Word
	for _, seg := range rep.Segments {
		for _, w := range seg.Words {
			if w.Word == nil || w.Start == nil || w.End == nil {
				continue
			}
			if text := strings.TrimSpace(*w.Word); text != "" {
				words = append(words, types.Word{Word: text, Start: *w.Start, End: *w.End})
			}
		}
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })
	return words, nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
