package geometry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name                   string
		srcW, srcH, maxW, maxH int
		want                   Size
	}{
		{"landscape into square", 4000, 3000, 150, 150, Size{150, 112}},
		{"portrait into square", 3000, 4000, 150, 150, Size{112, 150}},
		{"same aspect", 800, 600, 400, 300, Size{400, 300}},
		{"upscale small source", 50, 25, 150, 150, Size{150, 75}},
		{"square into wide box", 500, 500, 300, 100, Size{100, 100}},
		{"extreme aspect clamps to one pixel", 10000, 1, 150, 150, Size{150, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.srcW, tt.srcH, tt.maxW, tt.maxH)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_InvalidDimension(t *testing.T) {
	for _, in := range [][4]int{{0, 10, 10, 10}, {10, -1, 10, 10}, {10, 10, 0, 10}, {10, 10, 10, -5}} {
		_, err := Resolve(in[0], in[1], in[2], in[3])
		assert.ErrorIs(t, err, pipeline.ErrInvalidDimension, "input %v", in)
	}
}

func TestResolve_FitProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		srcW, srcH := 1+rng.Intn(8000), 1+rng.Intn(8000)
		maxW, maxH := 1+rng.Intn(1000), 1+rng.Intn(1000)

		got, err := Resolve(srcW, srcH, maxW, maxH)
		require.NoError(t, err)

		assert.LessOrEqual(t, got.Width, maxW)
		assert.LessOrEqual(t, got.Height, maxH)
		assert.True(t, got.Width == maxW || got.Height == maxH,
			"%dx%d in %dx%d gave %dx%d", srcW, srcH, maxW, maxH, got.Width, got.Height)

		// aspect ratio within one pixel of truncation: cross products differ by
		// less than one unit of the larger source side
		if got.Width > 1 && got.Height > 1 {
			lhs := int64(got.Width) * int64(srcH)
			rhs := int64(got.Height) * int64(srcW)
			diff := lhs - rhs
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, int64(max(srcW, srcH)))
		}
	}
}
