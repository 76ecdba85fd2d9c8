package sinet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// EdgeBranch predicts a 1-channel edge logit at the finest stage resolution
// from all four backbone stages.
type EdgeBranch struct {
	stages []*base.BasicConv
	fuse   *base.BasicConv
	linear *base.Conv
}

// NewEdgeBranch creates an EdgeBranch for the given stage widths.
func NewEdgeBranch(p *nn.Path, stages []StageConfig, c int64) *EdgeBranch {
	e := &EdgeBranch{
		fuse:   base.BasicConv2d(p.Sub("edge_conv_cat"), c*int64(len(stages)), c, 3, 1),
		linear: base.Conv2d(p.Sub("edge_linear"), c, 1, 3, 1, 1),
	}
	for i, s := range stages {
		e.stages = append(e.stages, base.BasicConv2d(p.Sub(fmt.Sprintf("edge_conv%d", i+1)), s.Channels, c, 3, 1))
	}

	return e
}

// ForwardAll returns the un-resized edge logit.
func (e *EdgeBranch) ForwardAll(features []*ts.Tensor, train bool) *ts.Tensor {
	size := base.Spatial(features[0])
	projected := make([]*ts.Tensor, len(e.stages))
	for i, conv := range e.stages {
		x := conv.ForwardT(features[i], train)
		projected[i] = base.ResizeBilinear(x, size, true)
		x.MustDrop()
	}
	cat := base.Cat(projected...)
	base.DropAll(projected...)
	fused := e.fuse.ForwardT(cat, train)
	cat.MustDrop()
	logit := e.linear.Forward(fused)
	fused.MustDrop()

	return logit
}

// Initialize implements base.Initializer.
func (e *EdgeBranch) Initialize() {
	for _, s := range e.stages {
		s.Initialize()
	}
	base.InitAll(e.fuse, e.linear)
}
