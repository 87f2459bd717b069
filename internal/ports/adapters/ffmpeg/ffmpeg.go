package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/clipper/internal/ports"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (a *Adapter) run(ctx context.Context, what string, args ...string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg, append([]string{"-y"}, args...)...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w\n%s", what, err, string(b))
	}
	return nil
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, inMP4, outWav string) error {
	return a.run(ctx, "extract audio",
		"-i", inMP4,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
}

// CutCopy cuts without re-encoding, so the cut snaps to the nearest keyframe.
func (a *Adapter) CutCopy(ctx context.Context, inMP4 string, start, dur time.Duration, outMP4 string) error {
	return a.run(ctx, "cut segment",
		"-ss", fmtSeconds(start),
		"-t", fmtSeconds(dur),
		"-i", inMP4,
		"-c", "copy",
		outMP4,
	)
}

func (a *Adapter) ExtractFrames(ctx context.Context, inMP4, framesDir string, fps int) error {
	return a.run(ctx, "extract frames",
		"-i", inMP4,
		"-vf", "fps="+strconv.Itoa(fps),
		"-qscale:v", "2",
		filepath.Join(framesDir, "%06d.jpg"),
	)
}

func (a *Adapter) MuxAudio(ctx context.Context, videoMP4, audioWav, outMP4 string) error {
	return a.run(ctx, "mux audio",
		"-i", videoMP4,
		"-i", audioWav,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		outMP4,
	)
}

func (a *Adapter) BurnSubtitles(ctx context.Context, inMP4, assPath, outMP4 string) error {
	return a.run(ctx, "burn subtitles",
		"-i", inMP4,
		"-vf", "ass="+escapeFilterPath(assPath),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "copy",
		outMP4,
	)
}

func (a *Adapter) ProbeDuration(ctx context.Context, inMP4 string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inMP4,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, string(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// OpenFrameWriter starts an encoder reading raw RGBA frames of exactly
// width x height from stdin.
func (a *Adapter) OpenFrameWriter(ctx context.Context, outMP4 string, width, height, fps int) (ports.FrameWriter, error) {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", "mpeg4",
		"-qscale:v", "2",
		"-pix_fmt", "yuv420p",
		outMP4,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	fw := &frameWriter{cmd: cmd, stdin: stdin, width: width, height: height}
	cmd.Stdout = &fw.out
	cmd.Stderr = &fw.out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg encode frames: %w", err)
	}
	return fw, nil
}

type frameWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    bytes.Buffer
	width  int
	height int

	waited  bool
	waitErr error
}

func (w *frameWriter) WriteFrame(img *image.NRGBA) error {
	b := img.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", b.Dx(), b.Dy(), w.width, w.height)
	}
	row := w.width * 4
	for y := 0; y < w.height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		if _, err := w.stdin.Write(img.Pix[off : off+row]); err != nil {
			// The encoder is gone; its output is only safe to read after Wait.
			if werr := w.wait(); werr != nil {
				return werr
			}
			return fmt.Errorf("ffmpeg encode frames: %w\n%s", err, w.out.String())
		}
	}
	return nil
}

func (w *frameWriter) Close() error {
	return w.wait()
}

// wait closes stdin and reaps the encoder once. Later calls return the
// first result.
func (w *frameWriter) wait() error {
	if w.waited {
		return w.waitErr
	}
	w.waited = true
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		w.waitErr = fmt.Errorf("ffmpeg encode frames: %w\n%s", err, w.out.String())
	}
	return w.waitErr
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	return p
}
