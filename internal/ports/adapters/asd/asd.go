// Package asd runs the external active-speaker detection script for one clip
// and loads the face tracks and activity scores it leaves behind.
package asd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/forPelevin/clipper/internal/types"
)

var ErrArtifactsMissing = errors.New("tracker artifacts missing")

const (
	TracksFile = "tracks.json"
	ScoresFile = "scores.json"
)

type Config struct {
	// Dir is the working directory the script runs in.
	Dir    string
	Python string
	Script string
	Model  string
}

type Adapter struct{ cfg Config }

func New(cfg Config) *Adapter {
	if cfg.Dir == "" {
		cfg.Dir = "/asd"
	}
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	if cfg.Script == "" {
		cfg.Script = "Columbia_test.py"
	}
	if cfg.Model == "" {
		cfg.Model = "weight/finetuning_TalkSet.model"
	}
	return &Adapter{cfg: cfg}
}

// Track expects <baseDir>/<clipName>.mp4 and reads the results from
// <baseDir>/<clipName>/pywork.
func (a *Adapter) Track(ctx context.Context, baseDir, clipName string) ([]types.FaceTrack, []types.ActivityScores, error) {
	cmd := exec.CommandContext(ctx, a.cfg.Python, a.cfg.Script,
		"--videoName", clipName,
		"--videoFolder", baseDir,
		"--pretrainModel", a.cfg.Model,
	)
	cmd.Dir = a.cfg.Dir
	b, err := cmd.CombinedOutput()
	if err != nil {
		return nil, nil, fmt.Errorf("speaker tracker: %w\n%s", err, truncateTail(string(b), 2000))
	}
	return Load(filepath.Join(baseDir, clipName, "pywork"))
}

type wireTrack struct {
	Track struct {
		Frame []int `json:"frame"`
	} `json:"track"`
	ProcTrack struct {
		S []float64 `json:"s"`
		X []float64 `json:"x"`
		Y []float64 `json:"y"`
	} `json:"proc_track"`
}

// Load reads tracks.json and scores.json from a pywork directory.
func Load(workDir string) ([]types.FaceTrack, []types.ActivityScores, error) {
	tb, err := os.ReadFile(filepath.Join(workDir, TracksFile))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrArtifactsMissing, err)
	}
	sb, err := os.ReadFile(filepath.Join(workDir, ScoresFile))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrArtifactsMissing, err)
	}

	var wt []wireTrack
	if err := json.Unmarshal(tb, &wt); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", TracksFile, err)
	}
	var scores []types.ActivityScores
	if err := json.Unmarshal(sb, &scores); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", ScoresFile, err)
	}

	tracks := make([]types.FaceTrack, 0, len(wt))
	for _, w := range wt {
		n := min(len(w.Track.Frame), len(w.ProcTrack.S), len(w.ProcTrack.X), len(w.ProcTrack.Y))
		tr := types.FaceTrack{
			Frames:    append([]int(nil), w.Track.Frame[:n]...),
			Positions: make([]types.TrackPosition, n),
		}
		for i := 0; i < n; i++ {
			tr.Positions[i] = types.TrackPosition{X: w.ProcTrack.X[i], Y: w.ProcTrack.Y[i], Scale: w.ProcTrack.S[i]}
		}
		tracks = append(tracks, tr)
	}
	return tracks, scores, nil
}

func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
