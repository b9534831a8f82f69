package raster

import (
	"image"

	"github.com/disintegration/imaging"
)

// CropPreset trades recall of faint content against over-cropping. The
// lenient preset keeps low-contrast ink at the cost of wider margins and
// is preferred for quality export.
type CropPreset struct {
	// Threshold is the whiteness cutoff: a pixel with all channels above
	// it counts as background.
	Threshold uint8
	// Margin is the safety border added around the content box, in pixels.
	Margin int
}

var (
	CropStrict  = CropPreset{Threshold: 220, Margin: 10}
	CropLenient = CropPreset{Threshold: 240, Margin: 25}
)

// isBackground reports whether a pixel is white or near-white.
func isBackground(img image.Image, x, y int, threshold uint8) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	t := uint32(threshold) << 8
	return r > t && g > t && b > t
}

// ContentBounds finds the smallest rectangle containing all non-background
// pixels by scanning inward from each edge independently. An all-background
// buffer yields the full image bounds, never an inverted rectangle.
func ContentBounds(img image.Image, threshold uint8) image.Rectangle {
	b := img.Bounds()

	rowHasContent := func(y int) bool {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !isBackground(img, x, y, threshold) {
				return true
			}
		}
		return false
	}
	colHasContent := func(x int) bool {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			if !isBackground(img, x, y, threshold) {
				return true
			}
		}
		return false
	}

	top := b.Min.Y
	for top < b.Max.Y && !rowHasContent(top) {
		top++
	}
	if top == b.Max.Y {
		return b
	}
	bottom := b.Max.Y - 1
	for bottom > top && !rowHasContent(bottom) {
		bottom--
	}
	left := b.Min.X
	for left < b.Max.X && !colHasContent(left) {
		left++
	}
	right := b.Max.X - 1
	for right > left && !colHasContent(right) {
		right--
	}

	return image.Rect(left, top, right+1, bottom+1)
}

// CropContent trims near-white margins around the content box, expanded by
// the preset's safety margin and clamped to the image bounds.
func CropContent(img image.Image, preset CropPreset) image.Image {
	b := img.Bounds()
	r := ContentBounds(img, preset.Threshold)
	r = image.Rect(r.Min.X-preset.Margin, r.Min.Y-preset.Margin, r.Max.X+preset.Margin, r.Max.Y+preset.Margin)
	r = r.Intersect(b)
	if r == b {
		return img
	}
	return imaging.Crop(img, r)
}
