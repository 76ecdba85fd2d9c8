package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/imgutil"
	"github.com/sugarme/camoseg/sinet"
)

func saveMap(t *testing.T, path string, vals ...float32) {
	t.Helper()
	m := ts.MustOfSlice(vals).MustView([]int64{2, 2}, true)
	require.NoError(t, imgutil.SaveMap(m, 2, 2, path))
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	saveMap(t, filepath.Join(dir, "a.png"), 0, 1, 0, 1)
	saveMap(t, filepath.Join(dir, "b.png"), 0, 1, 0, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	files, err := listImages(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, files)

	files, err = listImages(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = listImages(t.TempDir())
	assert.Error(t, err)
}

func TestFindMask(t *testing.T) {
	dir := t.TempDir()
	saveMap(t, filepath.Join(dir, "fish.png"), 0, 1, 0, 1)

	p, err := findMask(dir, "fish")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fish.png"), p)

	_, err = findMask(dir, "owl")
	assert.Error(t, err)
}

func TestEval(t *testing.T) {
	pred, gt := t.TempDir(), t.TempDir()
	saveMap(t, filepath.Join(pred, "a.png"), 1, 1, 0, 0)
	saveMap(t, filepath.Join(gt, "a.png"), 1, 1, 0, 0)
	saveMap(t, filepath.Join(pred, "b.png"), 1, 0, 0, 0)
	saveMap(t, filepath.Join(gt, "b.png"), 1, 1, 0, 0)

	for i := 0; i < 2; i++ {
		c := NewCLI()
		c.SetArgs([]string{"eval", "--pred", pred, "--gt", gt})
		require.NoError(t, c.Execute())
	}

	csv, err := os.ReadFile(filepath.Join(pred, "metrics.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "Name,MAE,Dice,IoU,FMeasure")
	assert.FileExists(t, filepath.Join(pred, histogramFile))
}

// narrowEncoder reports the default stage widths but emits a 1-channel
// first stage.
type narrowEncoder struct{}

func (narrowEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	size := x.MustSize()
	out := []*ts.Tensor{ts.MustRand([]int64{size[0], 1, size[2] / 4, size[3] / 4}, gotch.Float, gotch.CPU)}
	for i, c := range []int64{512, 1024, 2048} {
		s := int64(8) << uint(i)
		out = append(out, ts.MustRand([]int64{size[0], c, size[2] / s, size[3] / s}, gotch.Float, gotch.CPU))
	}
	return out
}

func (narrowEncoder) Channels() []int64 { return []int64{256, 512, 1024, 2048} }

func (narrowEncoder) Initialize() {}

func TestPredictSamplesFreesOnError(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net, err := sinet.NewNet(vs.Root(), sinet.DefaultConfig(), narrowEncoder{})
	require.NoError(t, err)
	net.Initialize()

	samples := make([]*imgutil.Sample, 3)
	for i := range samples {
		samples[i] = &imgutil.Sample{
			Name:   string(rune('a' + i)),
			Tensor: ts.MustRand([]int64{3, 64, 64}, gotch.Float, gotch.CPU),
			Width:  64,
			Height: 64,
		}
	}

	err = predictSamples(net, samples, gotch.CPU, t.TempDir(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a:")
	for _, s := range samples {
		assert.Nil(t, s.Tensor, s.Name)
	}
}

func TestDropSamples(t *testing.T) {
	samples := []*imgutil.Sample{
		{Name: "x", Tensor: ts.MustRand([]int64{3, 2, 2}, gotch.Float, gotch.CPU)},
		nil,
		{Name: "y"},
	}
	dropSamples(samples)
	assert.Nil(t, samples[0].Tensor)
	assert.Nil(t, samples[2].Tensor)
}
