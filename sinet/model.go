package sinet

import (
	"fmt"
	"log/slog"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
	"github.com/sugarme/camoseg/encoder"
	"github.com/sugarme/camoseg/logutil"
)

const numLevels = 4

// Prediction holds the nine output logits at input resolution.
// Index 0 of Coarse and Refined is the finest level.
type Prediction struct {
	Coarse  [numLevels]*ts.Tensor
	Refined [numLevels]*ts.Tensor
	Edge    *ts.Tensor
}

// Maps returns coarse 1..4, refined 1..4 and edge, in that order.
func (p *Prediction) Maps() []*ts.Tensor {
	maps := make([]*ts.Tensor, 0, 2*numLevels+1)
	maps = append(maps, p.Coarse[:]...)
	maps = append(maps, p.Refined[:]...)
	return append(maps, p.Edge)
}

// Drop frees all tensors of p.
func (p *Prediction) Drop() {
	base.DropAll(p.Maps()...)
}

// Net is the camouflaged object segmentation network.
type Net struct {
	cfg     Config
	encoder encoder.Encoder

	rme      [numLevels]*RF2B
	edge     *EdgeBranch
	cascade  *Cascade
	msca     [numLevels - 1]*MSCA
	spadeAtt [numLevels]*Spade
	spadeRev [numLevels - 1]*Spade
	sa       [numLevels]*GroupAttention
	fusion   [numLevels - 1]*Fusion
	heads    [numLevels]*base.Conv // refined heads, finest first
}

// NewNet creates a Net on top of enc. The encoder channel widths must
// match cfg.Stages.
func NewNet(p *nn.Path, cfg Config, enc encoder.Encoder) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if enc != nil {
		chans := enc.Channels()
		if len(chans) != len(cfg.Stages) {
			return nil, fmt.Errorf("sinet: encoder has %d stages, config has %d", len(chans), len(cfg.Stages))
		}
		for i, c := range chans {
			if c != cfg.Stages[i].Channels {
				return nil, fmt.Errorf("sinet: stage %d: encoder has %d channels, config has %d", i+1, c, cfg.Stages[i].Channels)
			}
		}
	}

	c := cfg.Channels
	n := &Net{
		cfg:     cfg,
		encoder: enc,
		edge:    NewEdgeBranch(p, cfg.Stages, c),
		cascade: NewCascade(p, numLevels, c),
	}
	for i := 0; i < numLevels; i++ {
		level := i + 1
		n.rme[i] = NewRF2B(p.Sub(fmt.Sprintf("RME%d", level)), cfg.Stages[i].Channels, c)
		n.spadeAtt[i] = NewSpade(p.Sub(fmt.Sprintf("spade%d", level)), cfg.SpadeHidden, c)
		n.sa[i] = NewGroupAttention(p.Sub(fmt.Sprintf("SA%d", level)), c, cfg.Groups)
		n.heads[i] = base.NewSegmentationHead(p.Sub(fmt.Sprintf("linearr%d", level+numLevels)), c, 1)
	}
	for i := 0; i < numLevels-1; i++ {
		level := i + 1
		n.msca[i] = NewMSCA(p.Sub(fmt.Sprintf("msca%d", level)), c, cfg.MSCAReduction)
		n.spadeRev[i] = NewSpade(p.Sub(fmt.Sprintf("spade%d", level+numLevels)), cfg.SpadeHidden, c)
		n.fusion[i] = NewFusion(p.Sub(fmt.Sprintf("fusion%d", level)), c)
	}

	slog.Debug("sinet: network created", "stages", len(cfg.Stages), "channels", c, "groups", cfg.Groups, "encoder", enc != nil)

	return n, nil
}

// DefaultNet creates a Net with a ResNet-50 encoder and DefaultConfig.
func DefaultNet(p *nn.Path) *Net {
	n, err := NewNet(p, DefaultConfig(), encoder.NewResNet50Encoder(p))
	if err != nil {
		// DefaultConfig always matches the ResNet-50 encoder.
		panic(err)
	}
	return n
}

// Config returns the configuration n was built with.
func (n *Net) Config() Config {
	return n.cfg
}

// Initialize applies Kaiming-normal initialization to every convolution
// and resets normalization affines, recursively.
func (n *Net) Initialize() {
	if n.encoder != nil {
		n.encoder.Initialize()
	}
	n.edge.Initialize()
	n.cascade.Initialize()
	for i := 0; i < numLevels; i++ {
		base.InitAll(n.rme[i], n.spadeAtt[i], n.sa[i], n.heads[i])
	}
	for i := 0; i < numLevels-1; i++ {
		base.InitAll(n.msca[i], n.spadeRev[i], n.fusion[i])
	}
}

// ForwardT implements ts.ModuleT for Net. It returns the finest refined logit.
func (n *Net) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	pred := n.ForwardAll(x, train)
	out := pred.Refined[0]
	pred.Refined[0] = nil
	pred.Drop()

	return out
}

// ForwardAll runs the encoder and the decoder.
func (n *Net) ForwardAll(x *ts.Tensor, train bool) *Prediction {
	if n.encoder == nil {
		panic("sinet: ForwardAll on a Net without encoder; use ForwardFeatures")
	}
	features := n.encoder.ForwardAll(x, train)
	pred := n.ForwardFeatures(features, base.Spatial(x), train)
	base.DropAll(features...)

	return pred
}

// ForwardFeatures decodes backbone features [L1..L4] into the nine logits
// resized to imageSize=[H, W].
func (n *Net) ForwardFeatures(features []*ts.Tensor, imageSize []int64, train bool) *Prediction {
	if len(features) != numLevels {
		panic(&base.DimError{Op: "forward features", Dim: -1, Want: []int64{numLevels}, Got: []int64{int64(len(features))}})
	}

	edge := n.edge.ForwardAll(features, train)

	rme := make([]*ts.Tensor, numLevels)
	for i, f := range features {
		rme[i] = n.rme[i].ForwardT(f, train)
	}
	cascade := n.cascade.ForwardAll(rme, train)

	// Guiders are brought to the finest stage resolution.
	size := base.Spatial(rme[0])
	att := make([]*ts.Tensor, numLevels)
	rev := make([]*ts.Tensor, numLevels-1)
	att[numLevels-1] = base.ResizeBilinear(rme[numLevels-1], size, true)
	for i, l := range cascade.Levels {
		att[i] = base.ResizeBilinear(l.Attended, size, true)
		rev[i] = base.ResizeBilinear(l.Reversed, size, true)
	}
	base.DropAll(rme...)

	attended := n.weightGuiders(att, rev, edge, train)
	base.DropAll(att...)
	base.DropAll(rev...)

	fused := n.fuse(attended, train)
	refined := RefineLogits(n.heads[:], fused)
	base.DropAll(fused...)

	pred := &Prediction{}
	for i := 0; i < numLevels; i++ {
		pred.Coarse[i] = base.ResizeBilinear(cascade.Logits[i], imageSize, false)
		pred.Refined[i] = base.ResizeBilinear(refined[i], imageSize, false)
		logutil.Trace("sinet: level", "level", i+1, "coarse", cascade.Logits[i].MustSize(), "refined", refined[i].MustSize())
	}
	pred.Edge = base.ResizeBilinear(edge, imageSize, false)

	cascade.Drop()
	base.DropAll(refined...)
	edge.MustDrop()

	return pred
}

// weightGuiders mixes attended and reversed guiders with the MSCA gate,
// conditions each on the edge logit and applies grouped attention.
func (n *Net) weightGuiders(att, rev []*ts.Tensor, edge *ts.Tensor, train bool) []*ts.Tensor {
	out := make([]*ts.Tensor, numLevels)

	top := n.spadeAtt[numLevels-1].Forward(att[numLevels-1], edge, train)
	out[numLevels-1] = n.sa[numLevels-1].ForwardT(top, train)
	top.MustDrop()

	for i := 0; i < numLevels-1; i++ {
		wAtt, wRev := n.mixGuiders(i, att[i], rev[i], train)
		sAtt := n.spadeAtt[i].Forward(wAtt, edge, train)
		sRev := n.spadeRev[i].Forward(wRev, edge, train)
		base.DropAll(wAtt, wRev)

		cond := base.Add(sAtt, sRev)
		base.DropAll(sAtt, sRev)
		out[i] = n.sa[i].ForwardT(cond, train)
		cond.MustDrop()
	}

	return out
}

// mixGuiders weights att by the MSCA gate of att+rev and rev by its
// complement.
func (n *Net) mixGuiders(i int, att, rev *ts.Tensor, train bool) (wAtt, wRev *ts.Tensor) {
	sum := base.Add(att, rev)
	fg := n.msca[i].ForwardT(sum, train)
	sum.MustDrop()
	bg := base.Complement(fg)

	wAtt = base.Mul(att, fg)
	wRev = base.Mul(rev, bg)
	base.DropAll(fg, bg)

	return wAtt, wRev
}

// fuse propagates coarse context top-down. It consumes sa.
func (n *Net) fuse(sa []*ts.Tensor, train bool) []*ts.Tensor {
	out := make([]*ts.Tensor, numLevels)
	out[numLevels-1] = sa[numLevels-1]
	for i := numLevels - 2; i >= 0; i-- {
		out[i] = n.fusion[i].Forward(out[i+1], sa[i], train)
		sa[i].MustDrop()
	}

	return out
}

// RefineLogits projects each feature to a logit and accumulates top-down:
// out[last] = heads[last](feats[last]), out[i] = heads[i](feats[i]) + out[i+1].
func RefineLogits(heads []*base.Conv, feats []*ts.Tensor) []*ts.Tensor {
	if len(heads) != len(feats) {
		panic(&base.DimError{Op: "refine logits", Dim: -1, Want: []int64{int64(len(heads))}, Got: []int64{int64(len(feats))}})
	}
	last := len(feats) - 1
	out := make([]*ts.Tensor, len(feats))
	out[last] = heads[last].Forward(feats[last])
	for i := last - 1; i >= 0; i-- {
		own := heads[i].Forward(feats[i])
		out[i] = base.Add(own, out[i+1])
		own.MustDrop()
	}

	return out
}

// Predict runs an inference pass on x [B, 3, H, W]. H and W must be
// multiples of the coarsest stride. Dimension errors raised inside the
// graph are returned as *base.DimError.
func (n *Net) Predict(x *ts.Tensor) (pred *Prediction, err error) {
	size := x.MustSize()
	if len(size) != 4 || size[1] != 3 {
		return nil, &base.DimError{Op: "predict", Dim: -1, Want: []int64{-1, 3, -1, -1}, Got: size}
	}
	stride := n.cfg.MaxStride()
	if size[2]%stride != 0 || size[3]%stride != 0 {
		return nil, fmt.Errorf("sinet: input size %dx%d is not a multiple of %d", size[2], size[3], stride)
	}

	// Grad mode is restored on the panic path too.
	prev := ts.MustGradSetEnabled(false)
	defer ts.MustGradSetEnabled(prev)
	defer func() {
		if r := recover(); r != nil {
			dimErr, ok := r.(*base.DimError)
			if !ok {
				panic(r)
			}
			pred, err = nil, dimErr
		}
	}()

	return n.ForwardAll(x, false), nil
}
