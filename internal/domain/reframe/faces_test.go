package reframe

import (
	"math"
	"testing"

	"github.com/forPelevin/clipper/internal/types"
)

func track(first, n int, x float64) types.FaceTrack {
	tr := types.FaceTrack{}
	for i := 0; i < n; i++ {
		tr.Frames = append(tr.Frames, first+i)
		tr.Positions = append(tr.Positions, types.TrackPosition{X: x, Y: 100, Scale: 50})
	}
	return tr
}

func constScores(n int, v float64) types.ActivityScores {
	s := make(types.ActivityScores, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestSmoothedScore_Window(t *testing.T) {
	sc := make(types.ActivityScores, 100)
	for i := range sc {
		sc[i] = float64(i)
	}
	tests := []struct {
		name string
		i    int
		want float64
	}{
		{"start clamps low end", 0, 14.5},   // mean of 0..29
		{"middle", 50, 49.5},                // mean of 20..79
		{"end clamps high end", 99, 84},     // mean of 69..99
		{"past the array is empty", 140, 0}, // [110,100)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := smoothedScore(sc, tt.i); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("smoothedScore(%d) = %v, want %v", tt.i, got, tt.want)
			}
		})
	}
}

func TestAssignFaces(t *testing.T) {
	tracks := []types.FaceTrack{
		track(0, 5, 100),
		track(3, 5, 900), // frames 3..7, 5..7 are out of range
		track(0, 2, 500), // no scores
	}
	scores := []types.ActivityScores{constScores(5, 1), constScores(5, -2)}

	faces := AssignFaces(tracks, scores, 5, nil)
	if len(faces) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(faces))
	}
	for f, want := range []int{1, 1, 1, 2, 2} {
		if len(faces[f]) != want {
			t.Fatalf("frame %d: expected %d faces, got %+v", f, want, faces[f])
		}
	}
	got := faces[3][1]
	if got.Track != 1 || got.Score != -2 || got.X != 900 {
		t.Fatalf("unexpected candidate: %+v", got)
	}
}

func TestActiveFace_ModeSelection(t *testing.T) {
	tests := []struct {
		name  string
		cands []types.FaceCandidate
		want  bool
		track int
	}{
		{"negative max is silence", []types.FaceCandidate{{Track: 0, Score: -0.1}}, false, 0},
		{"zero counts as speaking", []types.FaceCandidate{{Track: 0, Score: 0}}, true, 0},
		{"positive", []types.FaceCandidate{{Track: 0, Score: 0.4}}, true, 0},
		{"highest wins", []types.FaceCandidate{{Track: 0, Score: -1}, {Track: 1, Score: 2}, {Track: 2, Score: 1}}, true, 1},
		{"first max wins ties", []types.FaceCandidate{{Track: 4, Score: 1}, {Track: 5, Score: 1}}, true, 4},
		{"no faces", nil, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			face, ok := ActiveFace(tt.cands)
			if ok != tt.want {
				t.Fatalf("active = %v, want %v", ok, tt.want)
			}
			if ok && face.Track != tt.track {
				t.Fatalf("picked track %d, want %d", face.Track, tt.track)
			}
		})
	}
}
