package transcript

import (
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

// DefaultMaxWords keeps a single map request comfortably inside the model context.
const DefaultMaxWords = 3000

// Chunk splits words into windows of at most maxWords words. Words with empty
// text are skipped. Each chunk spans its first and last included word.
func Chunk(words []types.Word, maxWords int) []types.Chunk {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	var (
		out   []types.Chunk
		parts []string
		cur   types.Chunk
	)
	for _, w := range words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		if len(parts) == 0 {
			cur.Start = w.Start
		}
		cur.End = w.End
		parts = append(parts, text)
		if len(parts) >= maxWords {
			cur.Text = strings.Join(parts, " ")
			out = append(out, cur)
			parts = parts[:0]
			cur = types.Chunk{}
		}
	}
	if len(parts) > 0 {
		cur.Text = strings.Join(parts, " ")
		out = append(out, cur)
	}
	return out
}
