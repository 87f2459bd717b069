package ports

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	"github.com/forPelevin/clipper/internal/types"
)

// ErrNotFound is returned by stores and caches for absent keys.
var ErrNotFound = errors.New("not found")

type VideoTool interface {
	ExtractAudioMono16k(ctx context.Context, inMP4, outWav string) error
	ProbeDuration(ctx context.Context, inMP4 string) (time.Duration, error)
	CutCopy(ctx context.Context, inMP4 string, start, dur time.Duration, outMP4 string) error
	ExtractFrames(ctx context.Context, inMP4, framesDir string, fps int) error
	OpenFrameWriter(ctx context.Context, outMP4 string, width, height, fps int) (FrameWriter, error)
	MuxAudio(ctx context.Context, videoMP4, audioWav, outMP4 string) error
	BurnSubtitles(ctx context.Context, inMP4, assPath, outMP4 string) error
}

// FrameWriter accepts composed frames and encodes them into a video-only stream.
type FrameWriter interface {
	WriteFrame(img *image.NRGBA) error
	Close() error
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) ([]types.Word, error)
}

type GenerateRequest struct {
	Model           string
	Prompt          string
	MaxOutputTokens int
}

type GenerateResponse struct {
	Text string
}

type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// SpeakerTracker runs active-speaker detection for one clip and returns the
// face tracks with their index-aligned activity scores.
type SpeakerTracker interface {
	Track(ctx context.Context, baseDir, clipName string) ([]types.FaceTrack, []types.ActivityScores, error)
}

type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key, path string) error
	Upload(ctx context.Context, key, path, contentType string) error
}

type MomentCache interface {
	Get(ctx context.Context, sourceKey string) ([]byte, error)
	Put(ctx context.Context, sourceKey string, b []byte) error
}

type RunRecorder interface {
	RecordRun(ctx context.Context, res types.RunResult, runErr error) error
}
