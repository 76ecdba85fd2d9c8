package sinet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// indexed returns [1, c, 2, 2] where every value of channel k is k.
func indexed(c int64) *ts.Tensor {
	vals := make([]float32, 0, c*4)
	for k := int64(0); k < c; k++ {
		for i := 0; i < 4; i++ {
			vals = append(vals, float32(k))
		}
	}
	return ts.MustOfSlice(vals).MustView([]int64{1, c, 2, 2}, true)
}

func channelOrder(x *ts.Tensor) []float64 {
	vals := x.Float64Values()
	var order []float64
	for i := 0; i < len(vals); i += 4 {
		order = append(order, vals[i])
	}
	return order
}

func TestChannelShuffle(t *testing.T) {
	x := indexed(64)
	out := ChannelShuffle(x, 2)
	order := channelOrder(out)
	// channel g*32+i lands at position 2*i+g
	assert.Equal(t, []float64{0, 32, 1, 33, 2, 34}, order[:6])
	assert.Equal(t, 63.0, order[63])
}

func TestChannelShuffleRoundTrip(t *testing.T) {
	// With 4 channels the factor-2 shuffle is its own inverse.
	x := indexed(4)
	twice := ChannelShuffle(ChannelShuffle(x, 2), 2)
	assert.Equal(t, x.Float64Values(), twice.Float64Values())

	// In general the factor-2 shuffle is inverted by the factor-C/2 shuffle.
	y := indexed(64)
	back := ChannelShuffle(ChannelShuffle(y, 2), 32)
	assert.Equal(t, y.Float64Values(), back.Float64Values())

	// Pure permutation: no channel lost or duplicated.
	seen := map[float64]bool{}
	for _, v := range channelOrder(ChannelShuffle(y, 2)) {
		seen[v] = true
	}
	assert.Len(t, seen, 64)
}

func TestChannelShuffleRejectsIndivisible(t *testing.T) {
	recoverDimError(t, func() { ChannelShuffle(indexed(6), 4) })
}

func TestGroupAttention(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	a := NewGroupAttention(vs.Root(), 64, 8)
	a.Initialize()

	for _, v := range a.CWeight.Float64Values() {
		require.Equal(t, 0.0, v)
	}
	for _, v := range a.SBias.Float64Values() {
		require.Equal(t, 1.0, v)
	}
	assert.Equal(t, []int64{1, 4, 1, 1}, a.CWeight.MustSize())

	x := rand(2, 64, 8, 8)
	ts.NoGrad(func() {
		out := a.ForwardT(x, false)
		assert.Equal(t, []int64{2, 64, 8, 8}, out.MustSize())
	})

	err := recoverDimError(t, func() { a.ForwardT(rand(1, 32, 8, 8), false) })
	assert.Equal(t, 1, err.Dim)
}

func TestGroupAttentionInitialGates(t *testing.T) {
	// With weight 0 and bias 1 both gates equal sigmoid(1), so the block
	// scales every channel by sigmoid(1) and shuffles.
	vs := nn.NewVarStore(gotch.CPU)
	a := NewGroupAttention(vs.Root(), 64, 8)
	a.Initialize()

	x := rand(1, 64, 4, 4)
	ts.NoGrad(func() {
		out := a.ForwardT(x, false)
		s := ChannelShuffle(x, 2).Float64Values()
		got := out.Float64Values()
		const sig1 = 0.7310585786300049
		for i := range got {
			require.InDelta(t, s[i]*sig1, got[i], 1e-5)
		}
	})
}

func TestMSCARange(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	m := NewMSCA(vs.Root(), 64, 4)
	m.Initialize()

	for _, scale := range []float64{1, 1e3, -1e3} {
		x := rand(2, 64, 8, 8).MustMul1(ts.FloatScalar(scale), true)
		ts.NoGrad(func() {
			w := m.ForwardT(x, false)
			assert.Equal(t, []int64{2, 64, 8, 8}, w.MustSize())
			requireInUnit(t, w)
		})
	}
}

func TestSpade(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	s := NewSpade(vs.Root(), 64, 64)
	s.Initialize()

	x := rand(1, 64, 16, 16)
	edge := rand(1, 1, 8, 8)
	ts.NoGrad(func() {
		out := s.Forward(x, edge, false)
		assert.Equal(t, []int64{1, 64, 16, 16}, out.MustSize())
	})
}

func TestSpadeZeroModulation(t *testing.T) {
	// Zeroed gamma and beta convolutions reduce Spade to the param-free norm.
	vs := nn.NewVarStore(gotch.CPU)
	s := NewSpade(vs.Root(), 8, 4)
	base.Fill(nn.NewConstInit(0.0), s.gamma.Ws, s.gamma.Bs, s.beta.Ws, s.beta.Bs)

	x := rand(1, 4, 4, 4)
	edge := rand(1, 1, 4, 4)
	ts.NoGrad(func() {
		out := s.Forward(x, edge, false).Float64Values()
		norm := s.norm.ForwardT(x, false).Float64Values()
		assert.InDeltaSlice(t, norm, out, 1e-6)
	})
}

func TestFusion(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	f := NewFusion(vs.Root(), 64)
	f.Initialize()

	fine := rand(1, 64, 16, 16)
	ts.NoGrad(func() {
		same := f.Forward(rand(1, 64, 16, 16), fine, false)
		assert.Equal(t, []int64{1, 64, 16, 16}, same.MustSize())
		up := f.Forward(rand(1, 64, 8, 8), fine, false)
		assert.Equal(t, []int64{1, 64, 16, 16}, up.MustSize())
	})
}
