package usecase

import (
	"path"
	"path/filepath"

	"github.com/forPelevin/clipper/internal/types"
)

// Layout names every file one window produces under the run directory.
type Layout struct {
	Base string
	Name string
}

func NewLayout(base string, w types.Window) Layout {
	return Layout{Base: base, Name: w.Name()}
}

func (l Layout) Dir() string { return filepath.Join(l.Base, l.Name) }

func (l Layout) Segment() string { return filepath.Join(l.Dir(), l.Name+"_segment.mp4") }

// Backup lives outside Dir so it survives the tracker clearing the clip directory.
func (l Layout) Backup() string { return filepath.Join(l.Base, l.Name+"_segment_backup.mp4") }

// TrackerInput is where the speaker tracker expects the clip video.
func (l Layout) TrackerInput() string { return filepath.Join(l.Base, l.Name+".mp4") }

func (l Layout) Work() string      { return filepath.Join(l.Dir(), "pywork") }
func (l Layout) Frames() string    { return filepath.Join(l.Dir(), "pyframes") }
func (l Layout) AV() string        { return filepath.Join(l.Dir(), "pyavi") }
func (l Layout) Audio() string     { return filepath.Join(l.AV(), "audio.wav") }
func (l Layout) VideoOnly() string { return filepath.Join(l.AV(), "video_only.mp4") }
func (l Layout) Vertical() string  { return filepath.Join(l.AV(), "video_out_vertical.mp4") }
func (l Layout) Subtitled() string { return filepath.Join(l.AV(), "video_with_subtitles.mp4") }

// OutputKey places the window's clip next to the source object.
func OutputKey(sourceKey string, w types.Window) string {
	name := w.Name() + ".mp4"
	dir := path.Dir(sourceKey)
	if dir == "." || dir == "" {
		return name
	}
	return path.Join(dir, name)
}
