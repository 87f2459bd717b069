package subtitles

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

type burnRecorder struct {
	ports.VideoTool
	ass string
	in  string
	out string
}

func (b *burnRecorder) BurnSubtitles(_ context.Context, in, assPath, out string) error {
	data, err := os.ReadFile(assPath)
	if err != nil {
		return err
	}
	b.ass, b.in, b.out = string(data), in, out
	return os.WriteFile(out, []byte("burned"), 0o644)
}

func TestRenderer_BurnsCues(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "video_out_vertical.mp4")
	out := filepath.Join(dir, "video_with_subtitles.mp4")
	if err := os.WriteFile(in, []byte("vertical"), 0o644); err != nil {
		t.Fatal(err)
	}
	video := &burnRecorder{}
	words := []types.Word{
		{Word: "one", Start: 2, End: 2.4},
		{Word: "two", Start: 2.5, End: 3},
		{Word: "three", Start: 3.1, End: 3.5},
	}
	n, err := NewRenderer(video, 2, nil).Render(context.Background(), words, 2, 10, in, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cues, got %d", n)
	}
	if video.in != in || video.out != out {
		t.Fatalf("unexpected burn paths %q -> %q", video.in, video.out)
	}
	if !strings.Contains(video.ass, ",HormoziStyle,,0,0,0,,ONE TWO") || !strings.Contains(video.ass, ",HormoziStyle,,0,0,0,,THREE") {
		t.Fatalf("unexpected script:\n%s", video.ass)
	}
}

func TestRenderer_NoCuesCopiesThrough(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(in, []byte("original bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	video := &burnRecorder{}
	words := []types.Word{{Word: "late", Start: 50, End: 51}}
	n, err := NewRenderer(video, 0, nil).Render(context.Background(), words, 0, 10, in, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || video.out != "" {
		t.Fatalf("expected no burn, got %d cues and burn to %q", n, video.out)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original bytes" {
		t.Fatalf("expected byte-identical copy, got %q", got)
	}
}
