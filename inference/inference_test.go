package inference

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestFitScale(t *testing.T) {
	assert.InDelta(t, 0.5, FitScale(200, 100, 100, 100), 1e-6)
	assert.InDelta(t, 1.5, FitScale(400, 400, 1000, 600), 1e-6)
	assert.InDelta(t, 1.5625, FitScale(640, 384, 1000, 600), 1e-6)
}

func TestPrepareInput(t *testing.T) {
	const h, w = 40, 60
	means := [3]float32{10, 20, 30}
	dst := make([]float32, 3*h*w)
	for i := range dst {
		dst[i] = -1
	}

	// 120×40 fits the 60×40 canvas at half size, covering the top 20 rows.
	scale, err := PrepareInput(solid(120, 40, color.RGBA{R: 200, G: 100, B: 50, A: 255}), h, w, means, dst)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scale, 1e-6)

	channel := h * w
	at := func(c, y, x int) float32 { return dst[c*channel+y*w+x] }

	for _, p := range [][2]int{{0, 0}, {10, 30}, {19, 59}} {
		assert.InDelta(t, 190, at(0, p[0], p[1]), 1)
		assert.InDelta(t, 80, at(1, p[0], p[1]), 1)
		assert.InDelta(t, 20, at(2, p[0], p[1]), 1)
	}
	for c := 0; c < 3; c++ {
		assert.Zero(t, at(c, 20, 0), "padding is zero")
		assert.Zero(t, at(c, h-1, w-1), "padding is zero")
	}
}

func TestPrepareInput_Errors(t *testing.T) {
	_, err := PrepareInput(solid(10, 10, color.RGBA{}), 10, 10, DefaultPixelMeans, make([]float32, 10))
	assert.Error(t, err)

	_, err = PrepareInput(image.NewRGBA(image.Rectangle{}), 10, 10, DefaultPixelMeans, make([]float32, 300))
	assert.Error(t, err)
}

func TestONNXConfig_Validate(t *testing.T) {
	c := DefaultONNXConfig()
	assert.Error(t, c.Validate(), "model path is required")

	c.ModelPath = "rfcn.onnx"
	require.NoError(t, c.Validate())
	assert.Equal(t, 324, c.deltaColumns())
	c.ClassAgnostic = true
	assert.Equal(t, 8, c.deltaColumns())

	bad := []func(*ONNXConfig){
		func(c *ONNXConfig) { c.Height = 0 },
		func(c *ONNXConfig) { c.NumClasses = 1 },
		func(c *ONNXConfig) { c.RoisOutput = "" },
		func(c *ONNXConfig) { c.Session.Backend = "tpu" },
		func(c *ONNXConfig) { c.Session.Optimization = "max" },
		func(c *ONNXConfig) { c.Session.IntraOpThreads = -1 },
	}
	for i, mutate := range bad {
		c := DefaultONNXConfig()
		c.ModelPath = "rfcn.onnx"
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}

func TestONNXConfig_ValidateReportsFirstMissingName(t *testing.T) {
	c := DefaultONNXConfig()
	c.ModelPath = "rfcn.onnx"
	c.DataInput, c.RoisOutput, c.DeltasOutput = "", "", ""
	for i := 0; i < 10; i++ {
		assert.EqualError(t, c.Validate(), "data_input is required")
	}
}

func TestSharedLibraryPath(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, nil, 0o644))

	path, err := SharedLibraryPath(lib)
	require.NoError(t, err)
	assert.Equal(t, lib, path)

	_, err = SharedLibraryPath(lib + ".missing")
	assert.Error(t, err)
}

func TestDenseCopy(t *testing.T) {
	buf := []float32{1, 2, 3, 4, 5, 6}
	d := denseCopy(buf, 2, 3)
	buf[0] = 99

	assert.Equal(t, []int{2, 3}, []int(d.Shape()))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, d.Data().([]float32))
}
