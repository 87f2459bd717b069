package reframe

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/forPelevin/clipper/internal/types"
)

// halves is a 16:9 frame, red on the left and blue on the right.
func halves() image.Image {
	img := imaging.New(640, 360, color.NRGBA{R: 255, A: 255})
	blue := imaging.New(320, 360, color.NRGBA{B: 255, A: 255})
	return imaging.Paste(img, blue, image.Pt(320, 0))
}

func TestCompose_ModeFromActiveFace(t *testing.T) {
	src := halves()
	tests := []struct {
		name   string
		score  float64
		want   Mode
		active bool
	}{
		{"slightly negative", -0.1, ModeResize, false},
		{"zero", 0, ModeCrop, true},
		{"positive", 0.7, ModeCrop, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			face, ok := ActiveFace([]types.FaceCandidate{{Score: tt.score, X: 320}})
			if ok != tt.active {
				t.Fatalf("active = %v, want %v", ok, tt.active)
			}
			out, mode := Compose(src, face.X, ok)
			if mode != tt.want {
				t.Fatalf("mode = %s, want %s", mode, tt.want)
			}
			if b := out.Bounds(); b.Dx() != TargetWidth || b.Dy() != TargetHeight {
				t.Fatalf("unexpected output size %v", b)
			}
		})
	}
}

func TestComposeCrop_ClampsToFrame(t *testing.T) {
	src := halves()
	left, ok := ComposeCrop(src, 0)
	if !ok {
		t.Fatal("expected crop")
	}
	if c := left.NRGBAAt(10, 10); c.R < 200 || c.B > 50 {
		t.Fatalf("expected left crop to start on red, got %+v", c)
	}
	right, ok := ComposeCrop(src, 640)
	if !ok {
		t.Fatal("expected crop")
	}
	if c := right.NRGBAAt(TargetWidth-10, 10); c.B < 200 || c.R > 50 {
		t.Fatalf("expected right crop to end on blue, got %+v", c)
	}
}

func TestComposeCrop_NarrowSourceFallsBack(t *testing.T) {
	portrait := imaging.New(300, 640, color.NRGBA{G: 255, A: 255})
	if _, ok := ComposeCrop(portrait, 150); ok {
		t.Fatal("expected crop to refuse a frame narrower than the target")
	}
	_, mode := Compose(portrait, 150, true)
	if mode != ModeResize {
		t.Fatalf("expected resize fallback, got %s", mode)
	}
}

func TestComposeResize_ForegroundCentred(t *testing.T) {
	out := ComposeResize(halves())
	// 640x360 scales to 1080x608, placed at y=656.
	if c := out.NRGBAAt(10, TargetHeight/2); c.R < 200 || c.B > 50 {
		t.Fatalf("expected sharp red foreground at left centre, got %+v", c)
	}
	if c := out.NRGBAAt(TargetWidth-10, TargetHeight/2); c.B < 200 || c.R > 50 {
		t.Fatalf("expected sharp blue foreground at right centre, got %+v", c)
	}
}
