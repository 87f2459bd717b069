package usecase

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/forPelevin/clipper/internal/domain/reframe"
	"github.com/forPelevin/clipper/internal/domain/subtitles"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

const (
	DefaultMaxClips = 3
	clipContentType = "video/mp4"
)

type Deps struct {
	Video     ports.VideoTool
	Tracker   ports.SpeakerTracker
	Store     ports.ObjectStore
	Reframer  *reframe.Reframer
	Subtitles *subtitles.Renderer
	Logger    *slog.Logger
}

type Config struct {
	MaxClips  int
	FrameRate int
}

// Orchestrator produces one uploaded vertical clip per selected moment.
// Windows run one after another and a failing window never stops the rest.
type Orchestrator struct {
	d   Deps
	cfg Config
	seg *Segmenter
	log *slog.Logger
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.MaxClips <= 0 {
		cfg.MaxClips = DefaultMaxClips
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = reframe.DefaultFrameRate
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		d:   d,
		cfg: cfg,
		seg: NewSegmenter(d.Video, d.Tracker, logger),
		log: logger,
	}
}

type Input struct {
	SourceKey  string
	SourcePath string
	// BaseDir is the run directory; the caller removes it afterwards.
	BaseDir string
	// Duration of the source, zero when unknown.
	Duration time.Duration
	Words    []types.Word
	Moments  []types.Moment
}

// Run processes the top MaxClips moments in rank order and reports a status
// per window.
func (o *Orchestrator) Run(ctx context.Context, in Input) []types.WindowStatus {
	moments := in.Moments
	if len(moments) > o.cfg.MaxClips {
		moments = moments[:o.cfg.MaxClips]
	}
	out := make([]types.WindowStatus, 0, len(moments))
	for i, m := range moments {
		out = append(out, o.runWindow(ctx, in, types.Window{Index: i, Moment: m}))
	}
	return out
}

type stage struct {
	state types.WindowState
	run   func() error
}

func (o *Orchestrator) runWindow(ctx context.Context, in Input, w types.Window) types.WindowStatus {
	log := o.log.With("clip", w.Index)
	st := types.WindowStatus{
		Index:      w.Index,
		Start:      w.Moment.Start,
		End:        w.Moment.End,
		ViralScore: w.Moment.ViralScore,
		State:      types.StateSegmenting,
	}
	if err := ctx.Err(); err != nil {
		return failed(log, st, err)
	}

	start, end, ok := ClampWindow(w.Moment.Start, w.Moment.End, in.Duration.Seconds())
	if !ok {
		log.Info("skipping window shorter than half a second", "start", start, "end", end)
		st.State = types.StateSkipped
		st.Error = "window too short after clamping"
		return st
	}
	st.Start, st.End = start, end
	log.Info("processing window", "start", start, "end", end, "viral_score", w.Moment.ViralScore)

	var (
		l      = NewLayout(in.BaseDir, w)
		tracks []types.FaceTrack
		scores []types.ActivityScores
		key    = OutputKey(in.SourceKey, w)
	)
	stages := []stage{
		{types.StateSegmenting, func() error {
			return o.seg.Cut(ctx, in.SourcePath, l, start, end)
		}},
		{types.StateTracking, func() (err error) {
			tracks, scores, err = o.seg.Track(ctx, l)
			return err
		}},
		{types.StateReframing, func() error {
			if err := os.MkdirAll(l.Frames(), 0o755); err != nil {
				return err
			}
			if err := o.d.Video.ExtractFrames(ctx, l.Segment(), l.Frames(), o.cfg.FrameRate); err != nil {
				return err
			}
			return o.d.Reframer.Reframe(ctx, reframe.Job{
				FramesDir:     l.Frames(),
				Tracks:        tracks,
				Scores:        scores,
				AudioPath:     l.Audio(),
				VideoOnlyPath: l.VideoOnly(),
				OutputPath:    l.Vertical(),
			})
		}},
		{types.StateSubtitling, func() error {
			n, err := o.d.Subtitles.Render(ctx, in.Words, start, end, l.Vertical(), l.Subtitled())
			if err == nil {
				log.Info("subtitles rendered", "cues", n)
			}
			return err
		}},
		{types.StateUploading, func() error {
			return o.d.Store.Upload(ctx, key, l.Subtitled(), clipContentType)
		}},
	}
	for _, s := range stages {
		st.State = s.state
		if err := s.run(); err != nil {
			return failed(log, st, err)
		}
	}
	st.State = types.StateDone
	st.OutputKey = key
	log.Info("clip uploaded", "key", key)
	return st
}

func failed(log *slog.Logger, st types.WindowStatus, err error) types.WindowStatus {
	log.Error("window failed", "stage", st.State, "error", err)
	st.FailedAt = st.State
	st.State = types.StateFailed
	st.Error = err.Error()
	return st
}
