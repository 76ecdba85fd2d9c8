package base

import (
	"math"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Initializer is implemented by every module that owns parameters.
// Composite modules call Initialize on the children they own.
type Initializer interface {
	Initialize()
}

// InitAll initializes modules in order.
func InitAll(ms ...Initializer) {
	for _, m := range ms {
		m.Initialize()
	}
}

// Fill applies init to each tensor in place with gradient tracking off.
func Fill(init nn.Init, xs ...*ts.Tensor) {
	ts.NoGrad(func() {
		for _, x := range xs {
			if x != nil {
				init.Set(x)
			}
		}
	})
}

// Conv is a gotch Conv2D with an input channel check and Kaiming-normal
// initialization. Kernels may be rectangular.
type Conv struct {
	*nn.Conv2D

	cIn   int64
	ksize []int64
	bias  bool
}

// NewConv creates a Conv with kernel ksize=[kh, kw] and padding=[ph, pw].
func NewConv(p *nn.Path, cIn, cOut int64, ksize, padding []int64, stride int64, bias bool) *Conv {
	config := nn.DefaultConv2DConfig()
	config.Bias = bias
	config.Stride = []int64{stride, stride}
	config.Padding = padding

	return &Conv{
		Conv2D: nn.NewConv(p, cIn, cOut, ksize, config).(*nn.Conv2D),
		cIn:    cIn,
		ksize:  ksize,
		bias:   bias,
	}
}

// Conv2d creates a biased square-kernel Conv.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *Conv {
	return NewConv(p, cIn, cOut, []int64{ksize, ksize}, []int64{padding, padding}, stride, true)
}

// Conv2dNoBias creates a square-kernel Conv with no bias.
func Conv2dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *Conv {
	return NewConv(p, cIn, cOut, []int64{ksize, ksize}, []int64{padding, padding}, stride, false)
}

// Forward implements ts.Module for Conv.
func (c *Conv) Forward(x *ts.Tensor) *ts.Tensor {
	CheckChannels("conv", x, c.cIn)
	return c.Conv2D.Forward(x)
}

// ForwardT implements ts.ModuleT for Conv.
func (c *Conv) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return c.Forward(x)
}

// Initialize draws weights from N(0, 2/fanIn) and zeroes the bias.
func (c *Conv) Initialize() {
	fanIn := c.cIn * c.ksize[0] * c.ksize[1]
	std := math.Sqrt(2.0 / float64(fanIn))
	ts.NoGrad(func() {
		c.Ws.MustNormal_(0, std)
	})
	if c.bias {
		Fill(nn.NewConstInit(0.0), c.Bs)
	}
}

// BatchNorm wraps nn.BatchNorm with the Initializer capability.
type BatchNorm struct {
	*nn.BatchNorm
}

// NewBatchNorm creates a 2D batch normalization with learned affine.
func NewBatchNorm(p *nn.Path, c int64) *BatchNorm {
	return &BatchNorm{nn.BatchNorm2D(p, c, nn.DefaultBatchNormConfig())}
}

// Initialize sets the affine weight to 1 and bias to 0.
func (b *BatchNorm) Initialize() {
	Fill(nn.NewConstInit(1.0), b.Ws)
	Fill(nn.NewConstInit(0.0), b.Bs)
}

// ParamFreeNorm is batch normalization without learned affine parameters.
// Running statistics are kept in the var store as non-trainable variables.
type ParamFreeNorm struct {
	RunningMean *ts.Tensor
	RunningVar  *ts.Tensor

	c        int64
	momentum float64
	eps      float64
	none     *ts.Tensor
}

// NewParamFreeNorm creates a ParamFreeNorm over c channels.
func NewParamFreeNorm(p *nn.Path, c int64) *ParamFreeNorm {
	return &ParamFreeNorm{
		RunningMean: p.ZerosNoTrain("running_mean", []int64{c}),
		RunningVar:  p.OnesNoTrain("running_var", []int64{c}),
		c:           c,
		momentum:    0.1,
		eps:         1e-5,
		none:        ts.NewTensor(),
	}
}

// ForwardT implements ts.ModuleT for ParamFreeNorm.
func (n *ParamFreeNorm) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	CheckChannels("param-free norm", x, n.c)
	return ts.MustBatchNorm(x, n.none, n.none, n.RunningMean, n.RunningVar, train, n.momentum, n.eps, false)
}

// Initialize is a no-op: there is no learnable affine to reset.
func (n *ParamFreeNorm) Initialize() {}

// BasicConv is a bias-free convolution followed by batch normalization.
// There is no activation.
type BasicConv struct {
	Conv *Conv
	Bn   *BatchNorm
}

// NewBasicConv creates a BasicConv with a rectangular kernel.
func NewBasicConv(p *nn.Path, cIn, cOut int64, ksize, padding []int64) *BasicConv {
	return &BasicConv{
		Conv: NewConv(p.Sub("conv"), cIn, cOut, ksize, padding, 1, false),
		Bn:   NewBatchNorm(p.Sub("bn"), cOut),
	}
}

// BasicConv2d creates a BasicConv with a square kernel and stride 1.
func BasicConv2d(p *nn.Path, cIn, cOut, ksize, padding int64) *BasicConv {
	return NewBasicConv(p, cIn, cOut, []int64{ksize, ksize}, []int64{padding, padding})
}

// ForwardT implements ts.ModuleT for BasicConv.
func (b *BasicConv) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c := b.Conv.Forward(x)
	out := b.Bn.ForwardT(c, train)
	c.MustDrop()

	return out
}

// Initialize implements Initializer.
func (b *BasicConv) Initialize() {
	InitAll(b.Conv, b.Bn)
}

// NewSegmentationHead creates a biased 3x3 projection to cOut channels.
func NewSegmentationHead(p *nn.Path, cIn, cOut int64) *Conv {
	return Conv2d(p, cIn, cOut, 3, 1, 1)
}
