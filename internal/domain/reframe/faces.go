// Package reframe turns wide frames plus active-speaker tracks into a
// 1080x1920 vertical video, cropping on the speaking face when there is one
// and letterboxing over a blurred background when there is not.
package reframe

import (
	"log/slog"

	"github.com/forPelevin/clipper/internal/types"
)

// smoothRadius is the half-width of the score averaging window in track frames.
const smoothRadius = 30

// AssignFaces returns, for each of nFrames output frames, the faces present on
// it with their smoothed activity score. Tracks without a score array and
// samples pointing outside [0, nFrames) are ignored.
func AssignFaces(tracks []types.FaceTrack, scores []types.ActivityScores, nFrames int, log *slog.Logger) [][]types.FaceCandidate {
	if log == nil {
		log = slog.Default()
	}
	faces := make([][]types.FaceCandidate, nFrames)
	for ti, tr := range tracks {
		if ti >= len(scores) {
			log.Warn("skipping track without scores", "track", ti)
			continue
		}
		sc := scores[ti]
		for i, frame := range tr.Frames {
			if frame < 0 || frame >= nFrames {
				log.Debug("ignoring out-of-range frame", "track", ti, "frame", frame)
				continue
			}
			if i >= len(tr.Positions) {
				break
			}
			pos := tr.Positions[i]
			faces[frame] = append(faces[frame], types.FaceCandidate{
				Track: ti,
				Score: smoothedScore(sc, i),
				X:     pos.X,
				Y:     pos.Y,
				Scale: pos.Scale,
			})
		}
	}
	return faces
}

// smoothedScore averages sc over [i-smoothRadius, i+smoothRadius) clamped to
// the array; an empty window scores 0.
func smoothedScore(sc types.ActivityScores, i int) float64 {
	lo := max(i-smoothRadius, 0)
	hi := min(i+smoothRadius, len(sc))
	if hi <= lo {
		return 0
	}
	var sum float64
	for _, v := range sc[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}

// ActiveFace picks the highest-scoring face. The first maximum wins on ties.
// A negative maximum means nobody is speaking.
func ActiveFace(cands []types.FaceCandidate) (types.FaceCandidate, bool) {
	if len(cands) == 0 {
		return types.FaceCandidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	if best.Score < 0 {
		return types.FaceCandidate{}, false
	}
	return best, true
}
