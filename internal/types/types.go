package types

import (
	"fmt"
	"time"
)

// Word is one aligned transcript word. Start and End are absolute seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Chunk struct {
	Text  string
	Start float64
	End   float64
}

// Moment is a candidate clip as proposed or ranked by the text generator.
type Moment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Summary    string  `json:"summary,omitempty"`
	ViralScore int     `json:"viral_score"`
}

// Window is a selected moment bound to its clip index.
type Window struct {
	Index  int
	Moment Moment
}

// Name is the clip's base name, used for its work dir and its upload key.
func (w Window) Name() string { return fmt.Sprintf("clip_%d", w.Index) }

// TrackPosition is the processed face box for one frame of a track.
type TrackPosition struct {
	X     float64
	Y     float64
	Scale float64
}

// FaceTrack is one tracked face over a contiguous range of frames.
// Frames and Positions are index-aligned.
type FaceTrack struct {
	Frames    []int
	Positions []TrackPosition
}

// ActivityScores holds per-frame speaking scores, index-aligned with a FaceTrack.
type ActivityScores []float64

// FaceCandidate is a face present on one output frame with its smoothed score.
type FaceCandidate struct {
	Track int
	Score float64
	X     float64
	Y     float64
	Scale float64
}

// Cue is one caption in clip-relative seconds.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

type WindowState string

const (
	StateSegmenting WindowState = "segmenting"
	StateTracking   WindowState = "tracking"
	StateReframing  WindowState = "reframing"
	StateSubtitling WindowState = "subtitling"
	StateUploading  WindowState = "uploading"
	StateDone       WindowState = "done"
	StateSkipped    WindowState = "skipped"
	StateFailed     WindowState = "failed"
)

type WindowStatus struct {
	Index      int         `json:"index"`
	Start      float64     `json:"start"`
	End        float64     `json:"end"`
	ViralScore int         `json:"viral_score"`
	State      WindowState `json:"state"`
	FailedAt   WindowState `json:"failed_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	OutputKey  string      `json:"output_key,omitempty"`
}

type RunResult struct {
	RunID         string         `json:"run_id"`
	SourceKey     string         `json:"source_key"`
	MomentsCached bool           `json:"moments_cached"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Windows       []WindowStatus `json:"windows"`
}
