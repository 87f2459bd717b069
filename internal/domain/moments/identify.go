// Package moments proposes and ranks candidate clip windows with a
// text-generation model in two phases: one map call per transcript chunk and a
// single reduce call over the pooled candidates.
package moments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/forPelevin/clipper/internal/domain/transcript"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

const (
	DefaultModel           = "gemini-2.5-flash"
	DefaultMaxOutputTokens = 512

	maxReduceCandidates = 20
	reduceFallbackCount = 3
	fallbackLength      = 55.0
	fallbackMinLength   = 45.0
	fallbackSummary     = "Auto clip (fallback)"
	fallbackScore       = 50
)

type Limiter interface {
	Acquire(ctx context.Context, tokens int) error
}

type Config struct {
	Model           string
	MaxOutputTokens int
	ChunkMaxWords   int
	Logger          *slog.Logger
}

type Identifier struct {
	gen     ports.TextGenerator
	limiter Limiter
	cfg     Config
	log     *slog.Logger
}

func NewIdentifier(gen ports.TextGenerator, limiter Limiter, cfg Config) *Identifier {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.ChunkMaxWords <= 0 {
		cfg.ChunkMaxWords = transcript.DefaultMaxWords
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Identifier{gen: gen, limiter: limiter, cfg: cfg, log: logger}
}

// Identify returns the raw ranked-moments text. The result is left unparsed
// so callers apply one validation path to fresh and cached moments alike.
// Only context cancellation is reported as an error.
func (id *Identifier) Identify(ctx context.Context, words []types.Word) (string, error) {
	chunks := transcript.Chunk(words, id.cfg.ChunkMaxWords)
	if len(chunks) == 0 {
		return "[]", nil
	}

	cands, err := id.mapChunks(ctx, chunks)
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		id.log.Info("map step empty; using fallback clip from transcript bounds")
		return fallbackMoment(words)
	}
	return id.reduce(ctx, cands)
}

func (id *Identifier) mapChunks(ctx context.Context, chunks []types.Chunk) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, c := range chunks {
		prompt := mapPrompt(c)
		if err := id.limiter.Acquire(ctx, EstimateTokens(prompt)); err != nil {
			return nil, err
		}
		resp, err := id.gen.Generate(ctx, ports.GenerateRequest{
			Model:           id.cfg.Model,
			Prompt:          prompt,
			MaxOutputTokens: id.cfg.MaxOutputTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			id.log.Warn("map step failed", "chunk_start", c.Start, "chunk_end", c.End, "error", err)
			continue
		}
		parsed := ParseJSONBlock(resp.Text)
		id.log.Debug("map response", "chunk_start", c.Start, "chunk_end", c.End, "raw", truncate(resp.Text, 200))
		if len(parsed) == 0 {
			id.log.Info("map step returned no clips", "chunk_start", c.Start, "chunk_end", c.End)
			continue
		}
		out = append(out, parsed...)
	}
	return out, nil
}

func (id *Identifier) reduce(ctx context.Context, cands []json.RawMessage) (string, error) {
	limited := cands
	if len(limited) > maxReduceCandidates {
		limited = limited[:maxReduceCandidates]
	}
	fallback := func() (string, error) {
		top := limited
		if len(top) > reduceFallbackCount {
			top = top[:reduceFallbackCount]
		}
		b, err := json.Marshal(top)
		if err != nil {
			return "", fmt.Errorf("marshal reduce fallback: %w", err)
		}
		return string(b), nil
	}

	candsJSON, err := json.Marshal(limited)
	if err != nil {
		return fallback()
	}
	prompt := reducePrompt(candsJSON)
	if err := id.limiter.Acquire(ctx, EstimateTokens(prompt)); err != nil {
		return "", err
	}
	resp, err := id.gen.Generate(ctx, ports.GenerateRequest{
		Model:           id.cfg.Model,
		Prompt:          prompt,
		MaxOutputTokens: id.cfg.MaxOutputTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		id.log.Warn("reduce step failed; keeping first candidates", "error", err)
		return fallback()
	}
	if resp.Text == "" {
		id.log.Warn("reduce step returned empty text; keeping first candidates")
		return fallback()
	}
	id.log.Info("identified moments", "raw", truncate(resp.Text, 400))
	return resp.Text, nil
}

func fallbackMoment(words []types.Word) (string, error) {
	if len(words) == 0 {
		return "[]", nil
	}
	start := max(0, words[0].Start)
	end := min(words[len(words)-1].End, start+fallbackLength)
	if end <= start {
		end = start + fallbackMinLength
	}
	b, err := json.Marshal([]types.Moment{{
		Start:      start,
		End:        end,
		Summary:    fallbackSummary,
		ViralScore: fallbackScore,
	}})
	if err != nil {
		return "", fmt.Errorf("marshal fallback moment: %w", err)
	}
	return string(b), nil
}

func mapPrompt(c types.Chunk) string {
	return fmt.Sprintf(`You are a professional editor of viral short-form vertical video.
The transcript below is a chunk of the FULL video covering %.2fs to %.2fs.
Propose up to 2 candidate clips that would perform well.

Rules:
- Each clip is 30-60 seconds long.
- Open on a strong hook.
- The clip must stand on its own (beginning, middle, end).
- Use ABSOLUTE timestamps on the original video timeline, not offsets within this chunk.
- Return ONLY a JSON array of objects with fields: start (float), end (float), summary (string), viral_score (integer 1-100).
- If nothing qualifies, return [].
Example: [{"start": 120.5, "end": 155.0, "summary": "Why AI will replace coders", "viral_score": 95}]

Transcript:
`, c.Start, c.End) + c.Text
}

func reducePrompt(candsJSON []byte) string {
	return `You are ranking candidate clips for a short-form edit.
Pick the top 3 clips by viral_score and tighten start/end to the strongest hook within 30-60 seconds.
Return a STRICT JSON array of objects with fields: start, end, summary, viral_score (1-100).
Candidates (JSON): ` + string(candsJSON) + "\n"
}
