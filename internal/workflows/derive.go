package workflows

import (
	"bytes"
	"fmt"
	_ "image/gif" // Register GIF decoder
	_ "image/png" // Register PNG decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/tendant/simple-content-derivatives/internal/geometry"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// DefaultJPEGQuality is used when a Deriver has no quality set
const DefaultJPEGQuality = 80

// Derived is an encoded derivative and its dimensions
type Derived struct {
	Bytes  []byte
	Width  int
	Height int
}

// Deriver resizes images to fit a bounding box and re-encodes them as JPEG.
// It does no I/O.
type Deriver struct {
	Quality int
}

// Derive decodes src, resizes it to fit maxWidth x maxHeight preserving the
// aspect ratio and returns the JPEG encoding
func (d Deriver) Derive(src []byte, maxWidth, maxHeight int) (*Derived, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", pipeline.ErrUnsupportedMedia, err)
	}

	bounds := img.Bounds()
	size, err := geometry.Resolve(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)
	if err != nil {
		return nil, err
	}

	// Catmull-Rom is the bicubic filter
	resized := imaging.Resize(img, size.Width, size.Height, imaging.CatmullRom)

	quality := d.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("JPEG encode failed: %w", err)
	}

	return &Derived{
		Bytes:  buf.Bytes(),
		Width:  size.Width,
		Height: size.Height,
	}, nil
}
