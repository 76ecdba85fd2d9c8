package sinet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// rfBranch is a 1x1 reduction followed by separable 1x3 and 3x1 convolutions.
type rfBranch struct {
	reduce *base.BasicConv
	row    *base.BasicConv
	col    *base.BasicConv
}

func newRFBranch(p *nn.Path, cIn, cOut int64) *rfBranch {
	return &rfBranch{
		reduce: base.BasicConv2d(p.Sub("0"), cIn, cOut, 1, 0),
		row:    base.NewBasicConv(p.Sub("1"), cOut, cOut, []int64{1, 3}, []int64{0, 1}),
		col:    base.NewBasicConv(p.Sub("2"), cOut, cOut, []int64{3, 1}, []int64{1, 0}),
	}
}

func (b *rfBranch) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	r := b.reduce.ForwardT(x, train)
	h := b.row.ForwardT(r, train)
	r.MustDrop()
	v := b.col.ForwardT(h, train)
	h.MustDrop()

	return v
}

func (b *rfBranch) Initialize() {
	base.InitAll(b.reduce, b.row, b.col)
}

// RF2B is the receptive-field enhancement block. It maps cIn channels to
// cOut channels at the same spatial size.
//
// Branches 2..4 take the shared projection of the input plus the output
// of the previous branch.
type RF2B struct {
	identity *base.BasicConv
	shared   *base.BasicConv
	branches [4]*rfBranch
	fuse     *base.BasicConv

	cIn, cOut int64
}

// NewRF2B creates a RF2B.
func NewRF2B(p *nn.Path, cIn, cOut int64) *RF2B {
	m := &RF2B{
		identity: base.BasicConv2d(p.Sub("branch0"), cIn, cOut, 1, 0),
		shared:   base.BasicConv2d(p.Sub("conv"), cIn, cOut, 1, 0),
		fuse:     base.BasicConv2d(p.Sub("conv_cat"), 4*cOut, cOut, 3, 1),
		cIn:      cIn,
		cOut:     cOut,
	}
	m.branches[0] = newRFBranch(p.Sub("branch1"), cIn, cOut)
	for k := 1; k < len(m.branches); k++ {
		m.branches[k] = newRFBranch(p.Sub(fmt.Sprintf("branch%d", k+1)), cOut, cOut)
	}

	return m
}

// ForwardT implements ts.ModuleT for RF2B.
func (m *RF2B) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	base.CheckChannels("rf2b", x, m.cIn)

	x0 := m.identity.ForwardT(x, train)
	shared := m.shared.ForwardT(x, train)

	outs := make([]*ts.Tensor, len(m.branches))
	outs[0] = m.branches[0].ForwardT(x, train)
	for k := 1; k < len(m.branches); k++ {
		in := base.Add(shared, outs[k-1])
		outs[k] = m.branches[k].ForwardT(in, train)
		in.MustDrop()
	}
	shared.MustDrop()

	cat := base.Cat(outs...)
	base.DropAll(outs...)
	fused := m.fuse.ForwardT(cat, train)
	cat.MustDrop()

	sum := base.Add(x0, fused)
	x0.MustDrop()
	fused.MustDrop()

	return sum.MustRelu(true)
}

// Initialize implements base.Initializer.
func (m *RF2B) Initialize() {
	base.InitAll(m.identity, m.shared, m.fuse)
	for _, b := range m.branches {
		b.Initialize()
	}
}
