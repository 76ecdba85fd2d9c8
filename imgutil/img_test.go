package imgutil

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestIsImage(t *testing.T) {
	for name, want := range map[string]bool{
		"a.png":   true,
		"b.JPG":   true,
		"c.tiff":  true,
		"d.txt":   false,
		"e":       false,
		"f.png.x": false,
	} {
		assert.Equal(t, want, IsImage(name), name)
	}
}

func TestToTensor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 51, B: 255, A: 255})

	x := ToTensor(img)
	assert.Equal(t, []int64{3, 1, 2}, x.MustSize())
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0.2, 0, 1}, x.Float64Values(), 1e-6)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	writePNG(t, path, image.NewNRGBA(image.Rect(0, 0, 40, 30)))

	s, err := Load(path, 32)
	require.NoError(t, err)
	assert.Equal(t, "cat", s.Name)
	assert.Equal(t, 40, s.Width)
	assert.Equal(t, 30, s.Height)
	assert.Equal(t, []int64{3, 32, 32}, s.Tensor.MustSize())

	x := Batch([]*Sample{s, s}, gotch.CPU)
	assert.Equal(t, []int64{2, 3, 32, 32}, x.MustSize())

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"), 32)
	assert.Error(t, err)
}

func TestSaveMapLoadMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.png")
	m := ts.MustOfSlice([]float32{0, 1, 1, 0}).MustView([]int64{2, 2}, true)

	require.NoError(t, SaveMap(m, 2, 2, path))
	mask, err := LoadMask(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 2}, mask.MustSize())
	assert.InDeltaSlice(t, []float64{0, 1, 1, 0}, mask.Float64Values(), 1e-6)

	// resized to the original image size
	require.NoError(t, SaveMap(m, 5, 3, path))
	mask, err = LoadMask(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, mask.MustSize())

	assert.Error(t, SaveMap(ts.MustOfSlice([]float32{0, 1}), 2, 1, path))
}

func TestProbabilityMap(t *testing.T) {
	logit := ts.MustOfSlice([]float32{-3, 0, 1, 5}).MustView([]int64{1, 1, 2, 2}, true)

	m := ProbabilityMap(logit)
	assert.Equal(t, []int64{2, 2}, m.MustSize())
	vals := m.Float64Values()
	assert.InDelta(t, 0.0, vals[0], 1e-6)
	assert.InDelta(t, 1.0, vals[3], 1e-6)
	for i := 1; i < len(vals); i++ {
		assert.Greater(t, vals[i], vals[i-1])
	}
}
