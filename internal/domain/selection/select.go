// Package selection turns raw ranked-moment text into validated, ordered
// clip windows and keeps the per-source moments cache.
package selection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/forPelevin/clipper/internal/domain/moments"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

type Selector struct {
	cache ports.MomentCache
	log   *slog.Logger
}

// New returns a Selector. A nil cache disables caching.
func New(cache ports.MomentCache, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{cache: cache, log: logger}
}

// Cached returns the cached moments text for sourceKey. Any cache failure,
// and an empty cached list, count as a miss.
func (s *Selector) Cached(ctx context.Context, sourceKey string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	b, err := s.cache.Get(ctx, sourceKey)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			s.log.Warn("moments cache read failed", "source_key", sourceKey, "error", err)
		}
		return "", false
	}
	if len(moments.ParseJSONBlock(string(b))) == 0 {
		return "", false
	}
	return string(b), true
}

// Select parses raw, drops malformed records, orders by viral score and, for
// fresh results, writes the validated list to the cache.
func (s *Selector) Select(ctx context.Context, sourceKey, raw string, fromCache bool) []types.Moment {
	items := moments.ParseJSONBlock(raw)
	if len(items) == 0 {
		s.log.Warn("no moments in response", "raw", truncate(raw, 200))
	}

	valid, sortable := s.validate(items)
	if sortable {
		sort.SliceStable(valid, func(i, j int) bool { return valid[i].ViralScore > valid[j].ViralScore })
	} else {
		s.log.Warn("moments have non-numeric viral_score; keeping response order")
	}

	if len(valid) > 0 && !fromCache && s.cache != nil {
		b, err := json.Marshal(valid)
		if err == nil {
			err = s.cache.Put(ctx, sourceKey, b)
		}
		if err != nil {
			s.log.Warn("moments cache write failed", "source_key", sourceKey, "error", err)
		}
	}
	return valid
}

func (s *Selector) validate(items []json.RawMessage) ([]types.Moment, bool) {
	out := make([]types.Moment, 0, len(items))
	sortable := true
	for _, it := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(it, &obj); err != nil || obj == nil {
			s.log.Warn("skipping malformed moment", "moment", truncate(string(it), 200))
			continue
		}
		startRaw, okStart := obj["start"]
		endRaw, okEnd := obj["end"]
		if !okStart || !okEnd {
			s.log.Warn("skipping moment without start/end", "moment", truncate(string(it), 200))
			continue
		}
		start, err1 := parseSeconds(startRaw)
		end, err2 := parseSeconds(endRaw)
		if err := errors.Join(err1, err2); err != nil {
			s.log.Warn("skipping moment with invalid timestamps", "moment", truncate(string(it), 200), "error", err)
			continue
		}

		m := types.Moment{Start: start, End: end}
		if v, ok := obj["summary"]; ok {
			_ = json.Unmarshal(v, &m.Summary)
		}
		if v, ok := obj["viral_score"]; ok {
			var score float64
			if err := json.Unmarshal(v, &score); err != nil {
				sortable = false
			} else {
				m.ViralScore = int(math.Round(score))
			}
		}
		out = append(out, m)
	}
	return out, sortable
}

// parseSeconds accepts a JSON number or a numeric string.
func parseSeconds(raw json.RawMessage) (float64, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return 0, errors.New("timestamp is null")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.New("timestamp is not a number")
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
