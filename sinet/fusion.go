package sinet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// Fusion merges a coarser attended feature into a finer one.
type Fusion struct {
	conv *base.BasicConv
}

// NewFusion creates a Fusion over c channels.
func NewFusion(p *nn.Path, c int64) *Fusion {
	return &Fusion{conv: base.BasicConv2d(p.Sub("cat_conv"), 2*c, c, 3, 1)}
}

// Forward returns ReLU(BasicConv(cat(fine, fine*up(coarse)))).
func (f *Fusion) Forward(coarse, fine *ts.Tensor, train bool) *ts.Tensor {
	up := base.ResizeBilinear(coarse, base.Spatial(fine), true)
	mul := base.Mul(fine, up)
	up.MustDrop()
	cat := base.Cat(fine, mul)
	mul.MustDrop()
	out := f.conv.ForwardT(cat, train)
	cat.MustDrop()

	return out.MustRelu(true)
}

// Initialize implements base.Initializer.
func (f *Fusion) Initialize() {
	f.conv.Initialize()
}
