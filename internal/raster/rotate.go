package raster

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Rotation is a clockwise rotation in degrees, always one of 0/90/180/270.
type Rotation int

// NormalizeRotation reduces an angle to the canonical {0, 90, 180, 270} set.
func NormalizeRotation(deg int) Rotation {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg)
}

// PreparedPage is one page ready for OCR: the rasterized buffer plus the
// rotation state. The delta is mutable by operator action until submission;
// the intrinsic rotation is whatever the source declared and is tracked
// independently, never combined with the delta.
type PreparedPage struct {
	Index             int
	Image             image.Image
	IntrinsicRotation Rotation
	Delta             Rotation
	Err               error
}

// Rotate adds a delta (clockwise degrees) to the page's rotation state.
// Only right angles are supported.
func (p *PreparedPage) Rotate(delta int) error {
	if delta%90 != 0 {
		return fmt.Errorf("rotation delta must be a multiple of 90, got %d", delta)
	}
	p.Delta = NormalizeRotation(int(p.Delta) + delta)
	return nil
}

// Flatten produces the single upright buffer for this page. At delta 0 the
// source buffer is returned unmodified.
func (p *PreparedPage) Flatten() image.Image {
	return Flatten(p.Image, p.Delta)
}

// Flatten applies a clockwise right-angle rotation to a buffer. 90 and 270
// swap width and height; 180 preserves both. imaging's primitives rotate
// counter-clockwise, hence the swapped mapping.
func Flatten(img image.Image, delta Rotation) image.Image {
	switch NormalizeRotation(int(delta)) {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
