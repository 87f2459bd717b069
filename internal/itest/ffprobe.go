//go:build integration

package itest

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

type videoInfo struct {
	Width    int
	Height   int
	Duration float64
}

func probeVideo(mp4Path string) (videoInfo, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		mp4Path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return videoInfo{}, fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	var out struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return videoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return videoInfo{}, fmt.Errorf("no video stream in %s", mp4Path)
	}
	sec, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return videoInfo{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}
	return videoInfo{Width: out.Streams[0].Width, Height: out.Streams[0].Height, Duration: sec}, nil
}
