package inference

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// DefaultPixelMeans are the RGB channel means subtracted from every pixel.
var DefaultPixelMeans = [3]float32{123.15, 115.90, 103.06}

// FitScale returns the largest factor that fits a width×height image inside a canvas without
// changing its aspect ratio.
func FitScale(width, height, canvasWidth, canvasHeight int) float32 {
	return min(float32(canvasWidth)/float32(width), float32(canvasHeight)/float32(height))
}

// PrepareInput resizes img into the top-left corner of a height×width canvas, subtracts the
// channel means and writes the result to dst in CHW order. The uncovered part of the canvas is
// zero.
//
// Arguments:
//   - img: The image to prepare.
//   - height: The canvas height.
//   - width: The canvas width.
//   - means: The RGB channel means.
//   - dst: The destination buffer, at least 3×height×width long.
//
// Returns:
//   - float32: The scale applied to the image.
//   - error: An error if the image is empty or dst is too small.
func PrepareInput(img image.Image, height, width int, means [3]float32, dst []float32) (float32, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return 0, errors.Errorf("empty image %v", bounds)
	}
	channelSize := height * width
	if len(dst) < channelSize*3 {
		return 0, errors.Errorf("destination holds %d floats, needs %d", len(dst), channelSize*3)
	}

	scale := FitScale(bounds.Dx(), bounds.Dy(), width, height)
	rw := min(int(math32.Round(float32(bounds.Dx())*scale)), width)
	rh := min(int(math32.Round(float32(bounds.Dy())*scale)), height)
	resized := resize.Resize(uint(max(rw, 1)), uint(max(rh, 1)), img, resize.Bilinear)

	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]
	clear(dst[:channelSize*3])

	rb := resized.Bounds()
	for y := 0; y < rb.Dy() && y < height; y++ {
		for x := 0; x < rb.Dx() && x < width; x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			i := y*width + x
			red[i] = float32(r>>8) - means[0]
			green[i] = float32(g>>8) - means[1]
			blue[i] = float32(b>>8) - means[2]
		}
	}
	return scale, nil
}
