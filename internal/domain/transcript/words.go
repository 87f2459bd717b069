package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

type wireWord struct {
	Word  *string  `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// ParseWords decodes a JSON array of {word,start,end} records. Records
// missing any field, or with blank text, are dropped; dropped reports how many.
func ParseWords(r io.Reader) (words []types.Word, dropped int, err error) {
	var raw []wireWord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("decode transcript: %w", err)
	}
	words = make([]types.Word, 0, len(raw))
	for _, w := range raw {
		if w.Word == nil || w.Start == nil || w.End == nil || strings.TrimSpace(*w.Word) == "" {
			dropped++
			continue
		}
		words = append(words, types.Word{Word: strings.TrimSpace(*w.Word), Start: *w.Start, End: *w.End})
	}
	return words, dropped, nil
}
