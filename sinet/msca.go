package sinet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// MSCA is the multi-scale channel attention gate. Its output lies in [0, 1].
type MSCA struct {
	local  *nn.SequentialT
	global *nn.SequentialT
	inits  []base.Initializer
	c      int64
}

// NewMSCA creates a MSCA over c channels with the given reduction.
func NewMSCA(p *nn.Path, c, reduction int64) *MSCA {
	m := &MSCA{c: c}

	m.local = m.bottleneck(p.Sub("local_att"), c, reduction)

	m.global = nn.SeqT()
	m.global.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustAdaptiveAvgPool2d([]int64{1, 1}, false)
	}))
	m.global.Add(m.bottleneck(p.Sub("global_att"), c, reduction))

	return m
}

// bottleneck is 1x1 reduce -> BN -> ReLU -> 1x1 expand -> BN.
func (m *MSCA) bottleneck(p *nn.Path, c, reduction int64) *nn.SequentialT {
	reduce := base.Conv2d(p.Sub("0"), c, c/reduction, 1, 0, 1)
	bn1 := base.NewBatchNorm(p.Sub("1"), c/reduction)
	expand := base.Conv2d(p.Sub("3"), c/reduction, c, 1, 0, 1)
	bn2 := base.NewBatchNorm(p.Sub("4"), c)
	m.inits = append(m.inits, reduce, bn1, expand, bn2)

	seq := nn.SeqT()
	seq.Add(reduce)
	seq.Add(bn1)
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	seq.Add(expand)
	seq.Add(bn2)

	return seq
}

// ForwardT implements ts.ModuleT for MSCA.
func (m *MSCA) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	base.CheckChannels("msca", x, m.c)
	xl := m.local.ForwardT(x, train)
	xg := m.global.ForwardT(x, train)
	// xg is [B, C, 1, 1]; the sum broadcasts it over H and W.
	xlg := xl.MustAdd(xg, true)
	xg.MustDrop()

	return xlg.MustSigmoid(true)
}

// Initialize implements base.Initializer.
func (m *MSCA) Initialize() {
	base.InitAll(m.inits...)
}
