// Package geometry computes fit-inside resize dimensions.
package geometry

import (
	"fmt"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// Size is a width and height in pixels
type Size struct {
	Width  int
	Height int
}

// Resolve returns the largest size with the source aspect ratio that fits
// inside maxWidth x maxHeight. The scale factor is
// min(maxWidth/srcWidth, maxHeight/srcHeight) and each axis is truncated.
//
// The arithmetic is done on integers so the limiting axis lands exactly on
// its bound and the other axis is floor(src*max/src') with no float drift.
// An axis that truncates to zero is clamped to one pixel.
func Resolve(srcWidth, srcHeight, maxWidth, maxHeight int) (Size, error) {
	if srcWidth <= 0 || srcHeight <= 0 || maxWidth <= 0 || maxHeight <= 0 {
		return Size{}, fmt.Errorf("%w: source %dx%d, bounds %dx%d",
			pipeline.ErrInvalidDimension, srcWidth, srcHeight, maxWidth, maxHeight)
	}

	sw, sh := int64(srcWidth), int64(srcHeight)
	mw, mh := int64(maxWidth), int64(maxHeight)

	var size Size
	// maxWidth/srcWidth <= maxHeight/srcHeight, cross-multiplied
	if mw*sh <= mh*sw {
		size = Size{Width: maxWidth, Height: int(sh * mw / sw)}
	} else {
		size = Size{Width: int(sw * mh / sh), Height: maxHeight}
	}

	if size.Width < 1 {
		size.Width = 1
	}
	if size.Height < 1 {
		size.Height = 1
	}
	return size, nil
}
