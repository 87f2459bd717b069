package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

var ErrSegmentMissing = errors.New("segment missing")

const minClipSeconds = 0.5

// ClampWindow fits [start, end] into the source. A non-positive duration is
// treated as unknown. ok is false when less than half a second remains.
func ClampWindow(start, end, duration float64) (float64, float64, bool) {
	if duration > 0 {
		start = max(0, min(start, duration))
		end = max(start, min(end, duration))
	} else {
		start = max(0, start)
		end = max(start, end)
	}
	return start, end, end-start >= minClipSeconds
}

// Segmenter cuts one window out of the source and shepherds the cut file
// through the speaker tracker.
type Segmenter struct {
	video   ports.VideoTool
	tracker ports.SpeakerTracker
	log     *slog.Logger
}

func NewSegmenter(video ports.VideoTool, tracker ports.SpeakerTracker, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{video: video, tracker: tracker, log: logger}
}

// Cut stream-copies [start, end) of source into the window's segment, backs
// it up, extracts its audio and stages the tracker input.
func (s *Segmenter) Cut(ctx context.Context, source string, l Layout, start, end float64) error {
	for _, dir := range []string{l.Dir(), l.Work(), l.Frames(), l.AV()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := s.video.CutCopy(ctx, source, seconds(start), seconds(end-start), l.Segment()); err != nil {
		return err
	}
	if !nonEmpty(l.Segment()) {
		return fmt.Errorf("%w after cut: %s", ErrSegmentMissing, l.Segment())
	}
	if err := copyFile(l.Segment(), l.Backup()); err != nil {
		s.log.Warn("segment backup failed", "error", err)
	}
	if err := s.video.ExtractAudioMono16k(ctx, l.Segment(), l.Audio()); err != nil {
		return err
	}
	if err := copyFile(l.Segment(), l.TrackerInput()); err != nil {
		return fmt.Errorf("stage tracker input: %w", err)
	}
	return nil
}

// Track runs the speaker tracker and repairs what it may have removed: the
// segment is restored from the backup and the audio re-extracted.
func (s *Segmenter) Track(ctx context.Context, l Layout) ([]types.FaceTrack, []types.ActivityScores, error) {
	if !nonEmpty(l.Segment()) {
		return nil, nil, fmt.Errorf("%w before tracking: %s", ErrSegmentMissing, l.Segment())
	}
	started := time.Now()
	tracks, scores, err := s.tracker.Track(ctx, l.Base, l.Name)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("speaker tracking done", "tracks", len(tracks), "took", time.Since(started).Round(time.Millisecond))

	if !nonEmpty(l.Segment()) {
		if !nonEmpty(l.Backup()) {
			return nil, nil, fmt.Errorf("%w after tracking and no backup: %s", ErrSegmentMissing, l.Segment())
		}
		s.log.Warn("segment removed by tracker; restoring from backup")
		if err := os.MkdirAll(l.Dir(), 0o755); err != nil {
			return nil, nil, err
		}
		if err := copyFile(l.Backup(), l.Segment()); err != nil {
			return nil, nil, fmt.Errorf("restore segment: %w", err)
		}
	}
	if !nonEmpty(l.Audio()) {
		s.log.Warn("audio removed by tracker; extracting again")
		if err := os.MkdirAll(l.AV(), 0o755); err != nil {
			return nil, nil, err
		}
		if err := s.video.ExtractAudioMono16k(ctx, l.Segment(), l.Audio()); err != nil {
			return nil, nil, err
		}
	}
	return tracks, scores, nil
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func nonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
