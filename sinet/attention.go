package sinet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// GroupAttention splits channels into groups and recalibrates each half
// of a group with a channel gate and a spatial gate, then shuffles.
type GroupAttention struct {
	CWeight *ts.Tensor
	CBias   *ts.Tensor
	SWeight *ts.Tensor
	SBias   *ts.Tensor
	GnW     *ts.Tensor
	GnB     *ts.Tensor

	c      int64
	groups int64
	half   int64
}

// NewGroupAttention creates a GroupAttention over c channels.
func NewGroupAttention(p *nn.Path, c, groups int64) *GroupAttention {
	half := c / (2 * groups)
	dims := []int64{1, half, 1, 1}
	gn := p.Sub("gn")

	return &GroupAttention{
		CWeight: p.Zeros("cweight", dims),
		CBias:   p.Ones("cbias", dims),
		SWeight: p.Zeros("sweight", dims),
		SBias:   p.Ones("sbias", dims),
		GnW:     gn.Ones("weight", []int64{half}),
		GnB:     gn.Zeros("bias", []int64{half}),
		c:       c,
		groups:  groups,
		half:    half,
	}
}

// ForwardT implements ts.ModuleT for GroupAttention.
func (a *GroupAttention) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	base.CheckChannels("group attention", x, a.c)
	size := x.MustSize()
	b, h, w := size[0], size[2], size[3]

	xg := x.MustReshape([]int64{b * a.groups, a.c / a.groups, h, w}, false)
	x0 := xg.MustNarrow(1, 0, a.half, false)
	x1 := xg.MustNarrow(1, a.half, a.half, false)

	// channel gate
	pooled := x0.MustAdaptiveAvgPool2d([]int64{1, 1}, false)
	cgate := pooled.MustMul(a.CWeight, true).MustAdd(a.CBias, true).MustSigmoid(true)
	xn := x0.MustMul(cgate, false)
	cgate.MustDrop()

	// spatial gate
	gn := ts.MustGroupNorm(x1, a.half, a.GnW, a.GnB, 1e-5, false)
	sgate := gn.MustMul(a.SWeight, true).MustAdd(a.SBias, true).MustSigmoid(true)
	xs := x1.MustMul(sgate, false)
	sgate.MustDrop()

	base.DropAll(x0, x1, xg)
	cat := base.Cat(xn, xs)
	base.DropAll(xn, xs)
	out := cat.MustReshape([]int64{b, a.c, h, w}, true)
	shuffled := ChannelShuffle(out, 2)
	out.MustDrop()

	return shuffled
}

// Initialize resets gate affines to weight 0, bias 1 and the group norm
// affine to weight 1, bias 0.
func (a *GroupAttention) Initialize() {
	zero := nn.NewConstInit(0.0)
	one := nn.NewConstInit(1.0)
	base.Fill(zero, a.CWeight, a.SWeight, a.GnB)
	base.Fill(one, a.CBias, a.SBias, a.GnW)
}

// ChannelShuffle views channels as [groups, C/groups], transposes that
// grid and flattens it back. ChannelShuffle(ChannelShuffle(x, g), C/g) == x.
func ChannelShuffle(x *ts.Tensor, groups int64) *ts.Tensor {
	size := x.MustSize()
	if len(size) != 4 || groups <= 0 || size[1]%groups != 0 {
		panic(&base.DimError{Op: "channel shuffle", Dim: 1, Want: []int64{groups}, Got: size})
	}
	b, c, h, w := size[0], size[1], size[2], size[3]

	grid := x.MustReshape([]int64{b, groups, c / groups, h, w}, false)
	permuted := grid.MustPermute([]int64{0, 2, 1, 3, 4}, true)

	return permuted.MustReshape([]int64{b, c, h, w}, true)
}
