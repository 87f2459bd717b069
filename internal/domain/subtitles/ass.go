// Package subtitles groups transcript words into caption cues and burns them
// into a clip as an ASS script.
package subtitles

import (
	"fmt"
	"math"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

const (
	DefaultMaxWords = 3
	StyleName       = "HormoziStyle"
)

// Style is the single caption style written into every script.
type Style struct {
	Font         string
	Size         int
	Primary      string
	Secondary    string
	Outline      string
	Back         string
	OutlineWidth int
	Shadow       int
	Alignment    int
	MarginV      int
	PlayResX     int
	PlayResY     int
}

// DefaultStyle is bold yellow caps anchored near the bottom of a 1080x1920 frame.
func DefaultStyle() Style {
	return Style{
		Font:         "Anton",
		Size:         80,
		Primary:      "&H0000FFFF",
		Secondary:    "&H000000FF",
		Outline:      "&H00000000",
		Back:         "&H80000000",
		OutlineWidth: 4,
		Shadow:       0,
		Alignment:    2,
		MarginV:      550,
		PlayResX:     1080,
		PlayResY:     1920,
	}
}

// BuildCues groups the words overlapping [clipStart, clipEnd) into cues of at
// most maxWords words, in clip-relative time.
func BuildCues(words []types.Word, clipStart, clipEnd float64, maxWords int) []types.Cue {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	length := clipEnd - clipStart

	var (
		out   []types.Cue
		cur   types.Cue
		parts []string
	)
	flush := func() {
		if len(parts) == 0 {
			return
		}
		cur.Text = strings.Join(parts, " ")
		out = append(out, cur)
		parts = nil
	}
	for _, w := range words {
		if w.End <= clipStart || w.Start >= clipEnd {
			continue
		}
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		// Event times are clip-local because each clip gets its own script.
		startRel := max(0, w.Start-clipStart)
		endRel := min(max(0, w.End-clipStart), length)
		if endRel <= 0 || endRel <= startRel {
			continue
		}
		if len(parts) >= maxWords {
			flush()
		}
		if len(parts) == 0 {
			cur = types.Cue{Start: startRel}
		}
		cur.End = endRel
		parts = append(parts, text)
	}
	flush()
	return out
}

// RenderASS writes an ASS script with one Dialogue line per cue.
func RenderASS(cues []types.Cue, st Style) string {
	var b strings.Builder
	b.WriteString(assHeader(st))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,%s,,0,0,0,,%s\n",
			assTime(c.Start), assTime(c.End), StyleName, sanitizeASS(strings.ToUpper(c.Text)))
	}
	return b.String()
}

func assHeader(st Style) string {
	return strings.Join([]string{
		"[Script Info]",
		"ScriptType: v4.00+",
		"WrapStyle: 0",
		"ScaledBorderAndShadow: yes",
		fmt.Sprintf("PlayResX: %d", st.PlayResX),
		fmt.Sprintf("PlayResY: %d", st.PlayResY),
		"",
		"[V4+ Styles]",
		"Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding",
		fmt.Sprintf("Style: %s,%s,%d,%s,%s,%s,%s,0,0,0,0,100,100,0,0,1,%d,%d,%d,0,0,%d,0",
			StyleName, st.Font, st.Size, st.Primary, st.Secondary, st.Outline, st.Back,
			st.OutlineWidth, st.Shadow, st.Alignment, st.MarginV),
	}, "\n")
}

// assTime formats seconds as H:MM:SS.CC, flooring to whole centiseconds.
func assTime(sec float64) string {
	cs := int64(math.Floor(sec * 100))
	if cs < 0 {
		cs = 0
	}
	h := cs / 360000
	m := (cs / 6000) % 60
	s := (cs / 100) % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return strings.TrimSpace(s)
}
