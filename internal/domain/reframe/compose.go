package reframe

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	TargetWidth  = 1080
	TargetHeight = 1920

	// blurSigma approximates a 121px Gaussian kernel.
	blurSigma = 18.5
)

type Mode int

const (
	ModeResize Mode = iota
	ModeCrop
)

func (m Mode) String() string {
	if m == ModeCrop {
		return "crop"
	}
	return "resize"
}

// Compose renders one output frame. With an active face the frame is scaled
// to full height and cropped around the face; otherwise it is letterboxed.
func Compose(img image.Image, face float64, active bool) (*image.NRGBA, Mode) {
	if active {
		if out, ok := ComposeCrop(img, face); ok {
			return out, ModeCrop
		}
	}
	return ComposeResize(img), ModeResize
}

// ComposeCrop scales img to TargetHeight and takes a TargetWidth window
// centred on faceX (source pixels), clamped to the frame. It reports false
// when the scaled frame is narrower than TargetWidth.
func ComposeCrop(img image.Image, faceX float64) (*image.NRGBA, bool) {
	b := img.Bounds()
	if b.Dy() == 0 {
		return nil, false
	}
	scale := float64(TargetHeight) / float64(b.Dy())
	scaled := imaging.Resize(img, 0, TargetHeight, imaging.Box)
	fw := scaled.Bounds().Dx()
	if fw < TargetWidth {
		return nil, false
	}
	centerX := int(faceX * scale)
	left := max(min(centerX-TargetWidth/2, fw-TargetWidth), 0)
	return imaging.Crop(scaled, image.Rect(left, 0, left+TargetWidth, TargetHeight)), true
}

// ComposeResize fits img to TargetWidth and centres it vertically over a
// blurred cover-scaled copy of itself.
func ComposeResize(img image.Image) *image.NRGBA {
	fg := imaging.Resize(img, TargetWidth, 0, imaging.Box)
	bg := imaging.Fill(img, TargetWidth, TargetHeight, imaging.Center, imaging.Box)
	bg = imaging.Blur(bg, blurSigma)
	top := (TargetHeight - fg.Bounds().Dy()) / 2
	return imaging.Paste(bg, fg, image.Pt(0, top))
}
