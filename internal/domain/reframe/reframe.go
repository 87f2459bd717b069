package reframe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

var ErrNoFrames = errors.New("no frames")

const DefaultFrameRate = 25

// Job describes one clip to reframe.
type Job struct {
	FramesDir string
	Tracks    []types.FaceTrack
	Scores    []types.ActivityScores
	AudioPath string
	// VideoOnlyPath receives the silent intermediate stream.
	VideoOnlyPath string
	OutputPath    string
}

type Reframer struct {
	video ports.VideoTool
	fps   int
	log   *slog.Logger
}

func New(video ports.VideoTool, fps int, logger *slog.Logger) *Reframer {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reframer{video: video, fps: fps, log: logger}
}

func (r *Reframer) Reframe(ctx context.Context, job Job) error {
	frames, err := filepath.Glob(filepath.Join(job.FramesDir, "*.jpg"))
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w in %s", ErrNoFrames, job.FramesDir)
	}
	sort.Strings(frames)

	faces := AssignFaces(job.Tracks, job.Scores, len(frames), r.log)

	w, err := r.video.OpenFrameWriter(ctx, job.VideoOnlyPath, TargetWidth, TargetHeight, r.fps)
	if err != nil {
		return err
	}
	var written, cropped int
	for i, path := range frames {
		img, err := imaging.Open(path)
		if err != nil {
			r.log.Warn("skipping unreadable frame", "frame", filepath.Base(path), "error", err)
			continue
		}
		face, active := ActiveFace(faces[i])
		out, mode := Compose(img, face.X, active)
		if err := w.WriteFrame(out); err != nil {
			_ = w.Close()
			return fmt.Errorf("write frame %d: %w", i, err)
		}
		written++
		if mode == ModeCrop {
			cropped++
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if written == 0 {
		return fmt.Errorf("%w: all %d frames unreadable", ErrNoFrames, len(frames))
	}
	r.log.Info("reframed", "frames", written, "crop", cropped, "resize", written-cropped)

	return r.video.MuxAudio(ctx, job.VideoOnlyPath, job.AudioPath, job.OutputPath)
}
