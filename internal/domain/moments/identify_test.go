package moments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

type fakeGen struct {
	calls   []ports.GenerateRequest
	respond func(call int, req ports.GenerateRequest) (string, error)
}

func (f *fakeGen) Generate(_ context.Context, req ports.GenerateRequest) (ports.GenerateResponse, error) {
	f.calls = append(f.calls, req)
	text, err := f.respond(len(f.calls)-1, req)
	return ports.GenerateResponse{Text: text}, err
}

type recordingLimiter struct{ acquired []int }

func (l *recordingLimiter) Acquire(_ context.Context, n int) error {
	l.acquired = append(l.acquired, n)
	return nil
}

func words(n int, start, step float64) []types.Word {
	out := make([]types.Word, 0, n)
	for i := 0; i < n; i++ {
		s := start + float64(i)*step
		out = append(out, types.Word{Word: fmt.Sprintf("w%d", i), Start: s, End: s + step/2})
	}
	return out
}

func decodeMoments(t *testing.T, raw string) []types.Moment {
	t.Helper()
	var out []types.Moment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}

func TestIdentify_FallbackWhenMapEmpty(t *testing.T) {
	gen := &fakeGen{respond: func(int, ports.GenerateRequest) (string, error) { return "[]", nil }}
	id := NewIdentifier(gen, &recordingLimiter{}, Config{})

	tr := []types.Word{
		{Word: "first", Start: 10, End: 11},
		{Word: "middle", Start: 100, End: 101},
		{Word: "last", Start: 199, End: 200},
	}
	raw, err := id.Identify(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeMoments(t, raw)
	if len(got) != 1 {
		t.Fatalf("expected one fallback moment, got %d", len(got))
	}
	m := got[0]
	if m.Start != 10 || m.End != 65 || m.ViralScore != 50 || m.Summary != "Auto clip (fallback)" {
		t.Fatalf("unexpected fallback moment: %+v", m)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected only the map call, got %d calls", len(gen.calls))
	}
}

func TestIdentify_FallbackClampedToTranscriptEnd(t *testing.T) {
	gen := &fakeGen{respond: func(int, ports.GenerateRequest) (string, error) { return "nope", nil }}
	id := NewIdentifier(gen, &recordingLimiter{}, Config{})
	raw, err := id.Identify(context.Background(), []types.Word{{Word: "a", Start: 2, End: 3}, {Word: "b", Start: 20, End: 30}})
	if err != nil {
		t.Fatal(err)
	}
	got := decodeMoments(t, raw)
	if got[0].Start != 2 || got[0].End != 30 {
		t.Fatalf("unexpected fallback bounds: %+v", got[0])
	}
}

func TestIdentify_EmptyTranscript(t *testing.T) {
	gen := &fakeGen{respond: func(int, ports.GenerateRequest) (string, error) { return "", errors.New("unused") }}
	raw, err := NewIdentifier(gen, &recordingLimiter{}, Config{}).Identify(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if raw != "[]" || len(gen.calls) != 0 {
		t.Fatalf("expected [] with no calls, got %q after %d calls", raw, len(gen.calls))
	}
}

func TestIdentify_MapFailureIsolatedPerChunk(t *testing.T) {
	gen := &fakeGen{respond: func(call int, req ports.GenerateRequest) (string, error) {
		switch {
		case call == 0:
			return "", errors.New("429 rate limited")
		case strings.Contains(req.Prompt, "Candidates (JSON)"):
			return `[{"start": 31, "end": 70, "viral_score": 90}]`, nil
		default:
			return "```json\n[{\"start\": 31, \"end\": 70, \"summary\": \"s\", \"viral_score\": 80}]\n```", nil
		}
	}}
	lim := &recordingLimiter{}
	id := NewIdentifier(gen, lim, Config{ChunkMaxWords: 5, MaxOutputTokens: 256, Model: "m"})

	raw, err := id.Identify(context.Background(), words(10, 0, 10))
	if err != nil {
		t.Fatal(err)
	}
	if raw != `[{"start": 31, "end": 70, "viral_score": 90}]` {
		t.Fatalf("expected raw reduce text to pass through, got %q", raw)
	}
	if len(gen.calls) != 3 {
		t.Fatalf("expected 2 map calls + 1 reduce call, got %d", len(gen.calls))
	}
	if len(lim.acquired) != 3 {
		t.Fatalf("expected a limiter acquire per call, got %d", len(lim.acquired))
	}
	for i, c := range gen.calls {
		if c.MaxOutputTokens != 256 || c.Model != "m" {
			t.Fatalf("call %d used unexpected settings: %+v", i, c)
		}
		if lim.acquired[i] != EstimateTokens(c.Prompt) {
			t.Fatalf("call %d acquired %d tokens, want %d", i, lim.acquired[i], EstimateTokens(c.Prompt))
		}
	}
	if !strings.Contains(gen.calls[1].Prompt, "50.00s to 95.00s") {
		t.Fatalf("expected absolute chunk bounds in map prompt:\n%s", gen.calls[1].Prompt)
	}
}

func TestIdentify_ReduceFailureKeepsFirstThree(t *testing.T) {
	gen := &fakeGen{respond: func(call int, req ports.GenerateRequest) (string, error) {
		if strings.Contains(req.Prompt, "Candidates (JSON)") {
			return "", errors.New("boom")
		}
		return `[{"start": 1, "end": 40, "viral_score": 10}, {"start": 50, "end": 90, "viral_score": 20}]`, nil
	}}
	id := NewIdentifier(gen, &recordingLimiter{}, Config{ChunkMaxWords: 2})
	raw, err := id.Identify(context.Background(), words(4, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	got := decodeMoments(t, raw)
	if len(got) != 3 {
		t.Fatalf("expected 3 fallback moments, got %d", len(got))
	}
	if got[0].ViralScore != 10 || got[1].ViralScore != 20 || got[2].ViralScore != 10 {
		t.Fatalf("expected first three map candidates in order, got %+v", got)
	}
}

func TestIdentify_ReduceSeesAtMostTwentyCandidates(t *testing.T) {
	var reducePrompt string
	gen := &fakeGen{respond: func(call int, req ports.GenerateRequest) (string, error) {
		if strings.Contains(req.Prompt, "Candidates (JSON)") {
			reducePrompt = req.Prompt
			return "[]", nil
		}
		return fmt.Sprintf(`[{"start": %d, "end": %d}, {"start": %d, "end": %d}]`, call*100, call*100+40, call*100+50, call*100+90), nil
	}}
	id := NewIdentifier(gen, &recordingLimiter{}, Config{ChunkMaxWords: 1})
	if _, err := id.Identify(context.Background(), words(15, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(reducePrompt, `"start"`); n != 20 {
		t.Fatalf("expected 20 candidates in reduce prompt, got %d", n)
	}
}

func TestIdentify_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &fakeGen{respond: func(int, ports.GenerateRequest) (string, error) { return "", context.Canceled }}
	_, err := NewIdentifier(gen, &recordingLimiter{}, Config{}).Identify(ctx, words(3, 0, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
