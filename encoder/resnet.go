package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

const expansion int64 = 4

// ResNetEncoder is a ResNet-50 feature extractor.
type ResNetEncoder struct {
	conv1  *base.Conv
	bn1    *base.BatchNorm
	layers [4]*nn.SequentialT
	blocks []*Bottleneck
}

// ForwardAll implements Encoder interface for ResNetEncoder.
func (e *ResNetEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	xn := rgbNormalize(x)
	c1 := e.conv1.Forward(xn)
	xn.MustDrop()
	bn1 := e.bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu := bn1.MustRelu(true)
	x0 := relu.MustMaxPool2d([]int64{3, 3}, []int64{2, 2}, []int64{1, 1}, []int64{1, 1}, false, true)

	features := make([]*ts.Tensor, 0, len(e.layers))
	prev := x0
	for _, layer := range e.layers {
		out := layer.ForwardT(prev, train)
		features = append(features, out)
		prev = out
	}
	x0.MustDrop()

	return features
}

// Channels implements Encoder interface for ResNetEncoder.
func (e *ResNetEncoder) Channels() []int64 {
	return []int64{64 * expansion, 128 * expansion, 256 * expansion, 512 * expansion}
}

// Initialize implements base.Initializer.
func (e *ResNetEncoder) Initialize() {
	base.InitAll(e.conv1, e.bn1)
	for _, b := range e.blocks {
		b.Initialize()
	}
}

// NewResNet50Encoder creates a ResNet-50 encoder. Variable names follow
// the torchvision layout so pretrained weights load with vs.LoadPartial.
func NewResNet50Encoder(p *nn.Path) *ResNetEncoder {
	e := &ResNetEncoder{
		conv1: base.Conv2dNoBias(p.Sub("conv1"), 3, 64, 7, 3, 2), // NOTE. `conv1` and `bn1` are at root of pretrained model
		bn1:   base.NewBatchNorm(p.Sub("bn1"), 64),
	}
	e.layers[0] = e.bottleneckLayer(p.Sub("layer1"), 64, 64, 1, 3)
	e.layers[1] = e.bottleneckLayer(p.Sub("layer2"), 64*expansion, 128, 2, 4)
	e.layers[2] = e.bottleneckLayer(p.Sub("layer3"), 128*expansion, 256, 2, 6)
	e.layers[3] = e.bottleneckLayer(p.Sub("layer4"), 256*expansion, 512, 2, 3)

	return e
}

func rgbNormalize(x *ts.Tensor) *ts.Tensor {
	meanVals := []float32{0.485, 0.456, 0.406} // image RGB mean
	sdVals := []float32{0.229, 0.224, 0.225}   // image RGB standard error

	mean := ts.MustOfSlice(meanVals).MustView([]int64{1, 3, 1, 1}, true)
	sd := ts.MustOfSlice(sdVals).MustView([]int64{1, 3, 1, 1}, true)

	// x = (x - mean)/sd
	n := x.MustSub(mean, false).MustDiv(sd, true)
	mean.MustDrop()
	sd.MustDrop()

	return n
}

func (e *ResNetEncoder) bottleneckLayer(path *nn.Path, cIn, width, stride, cnt int64) *nn.SequentialT {
	layer := nn.SeqT()
	first := NewBottleneck(path.Sub("0"), cIn, width, stride)
	layer.Add(first)
	e.blocks = append(e.blocks, first)
	for blockIndex := 1; blockIndex < int(cnt); blockIndex++ {
		b := NewBottleneck(path.Sub(fmt.Sprint(blockIndex)), width*expansion, width, 1)
		layer.Add(b)
		e.blocks = append(e.blocks, b)
	}

	return layer
}

// Bottleneck is the 1x1-3x3-1x1 residual block of ResNet-50.
type Bottleneck struct {
	Conv1      *base.Conv
	Bn1        *base.BatchNorm
	Conv2      *base.Conv
	Bn2        *base.BatchNorm
	Conv3      *base.Conv
	Bn3        *base.BatchNorm
	Downsample *base.BasicConv // nil when input and output shapes agree
}

// NewBottleneck creates a Bottleneck with output width*4 channels.
func NewBottleneck(path *nn.Path, cIn, width, stride int64) *Bottleneck {
	cOut := width * expansion
	b := &Bottleneck{
		Conv1: base.Conv2dNoBias(path.Sub("conv1"), cIn, width, 1, 0, 1),
		Bn1:   base.NewBatchNorm(path.Sub("bn1"), width),
		Conv2: base.Conv2dNoBias(path.Sub("conv2"), width, width, 3, 1, stride),
		Bn2:   base.NewBatchNorm(path.Sub("bn2"), width),
		Conv3: base.Conv2dNoBias(path.Sub("conv3"), width, cOut, 1, 0, 1),
		Bn3:   base.NewBatchNorm(path.Sub("bn3"), cOut),
	}
	if stride != 1 || cIn != cOut {
		ds := path.Sub("downsample")
		b.Downsample = &base.BasicConv{
			Conv: base.Conv2dNoBias(ds.Sub("0"), cIn, cOut, 1, 0, stride),
			Bn:   base.NewBatchNorm(ds.Sub("1"), cOut),
		}
	}

	return b
}

// ForwardT implements ts.ModuleT for Bottleneck.
func (b *Bottleneck) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := b.Conv1.Forward(x)
	bn1 := b.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu1 := bn1.MustRelu(true)
	c2 := b.Conv2.Forward(relu1)
	relu1.MustDrop()
	bn2 := b.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	relu2 := bn2.MustRelu(true)
	c3 := b.Conv3.Forward(relu2)
	relu2.MustDrop()
	bn3 := b.Bn3.ForwardT(c3, train)
	c3.MustDrop()

	var identity *ts.Tensor
	if b.Downsample != nil {
		identity = b.Downsample.ForwardT(x, train)
	} else {
		identity = x.MustShallowClone()
	}
	sum := identity.MustAdd(bn3, true)
	bn3.MustDrop()

	return sum.MustRelu(true)
}

// Initialize implements base.Initializer.
func (b *Bottleneck) Initialize() {
	base.InitAll(b.Conv1, b.Bn1, b.Conv2, b.Bn2, b.Conv3, b.Bn3)
	if b.Downsample != nil {
		b.Downsample.Initialize()
	}
}
