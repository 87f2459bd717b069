package moments

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	fencedRE  = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
	bracketRE = regexp.MustCompile(`(?s)\[.*\]`)
)

// ParseJSONBlock leniently extracts a JSON array from a model response. It
// strips fenced code blocks, falls back to the outermost bracketed span, and
// wraps a lone object into a one-element list. Anything unparseable yields nil.
func ParseJSONBlock(raw string) []json.RawMessage {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}
	if m := fencedRE.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	} else if m := bracketRE.FindString(cleaned); m != "" {
		cleaned = strings.TrimSpace(m)
	}

	if strings.HasPrefix(cleaned, "{") && strings.HasSuffix(cleaned, "}") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
			return []json.RawMessage{json.RawMessage(cleaned)}
		}
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &arr); err != nil {
		return nil
	}
	return arr
}

// EstimateTokens approximates prompt cost at four characters per token.
func EstimateTokens(text string) int {
	return max(1, utf8.RuneCountInString(text)/4)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
