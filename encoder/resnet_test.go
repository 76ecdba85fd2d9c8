package encoder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/encoder"
)

func TestResNet50Encoder(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc := encoder.NewResNet50Encoder(vs.Root())
	enc.Initialize()

	image := ts.MustRand([]int64{2, 3, 64, 96}, gotch.Float, gotch.CPU)
	var features []*ts.Tensor
	ts.NoGrad(func() {
		features = enc.ForwardAll(image, false)
	})

	require.Len(t, features, 4)
	strides := []int64{4, 8, 16, 32}
	for i, f := range features {
		assert.Equal(t, []int64{2, enc.Channels()[i], 64 / strides[i], 96 / strides[i]}, f.MustSize(), "stage %d", i+1)
		f.MustDrop()
	}
}

func TestResNet50VariableNames(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	encoder.NewResNet50Encoder(vs.Root())

	vars := vs.Variables()
	for _, name := range []string{
		"conv1.weight",
		"bn1.weight",
		"layer1.0.conv3.weight",
		"layer1.0.downsample.0.weight",
		"layer4.2.bn3.running_var",
	} {
		_, ok := vars[name]
		assert.True(t, ok, name)
	}
}
