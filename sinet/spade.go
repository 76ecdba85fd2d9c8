package sinet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// Spade normalizes a feature and modulates it per pixel from the edge logit.
type Spade struct {
	norm   *base.ParamFreeNorm
	shared *base.Conv
	gamma  *base.Conv
	beta   *base.Conv
}

// NewSpade creates a Spade for c-channel features.
func NewSpade(p *nn.Path, hidden, c int64) *Spade {
	return &Spade{
		norm:   base.NewParamFreeNorm(p.Sub("param_free_norm"), c),
		shared: base.Conv2d(p.Sub("mlp_shared").Sub("0"), 1, hidden, 3, 1, 1),
		gamma:  base.Conv2d(p.Sub("mlp_gamma"), hidden, c, 3, 1, 1),
		beta:   base.Conv2d(p.Sub("mlp_beta"), hidden, c, 3, 1, 1),
	}
}

// Forward returns norm(x) * (1 + gamma) + beta, with gamma and beta
// computed from edge resized (nearest) to the size of x.
func (s *Spade) Forward(x, edge *ts.Tensor, train bool) *ts.Tensor {
	normalized := s.norm.ForwardT(x, train)

	e := base.ResizeNearest(edge, base.Spatial(x))
	shared := s.shared.Forward(e)
	e.MustDrop()
	actv := shared.MustRelu(true)
	gamma := s.gamma.Forward(actv)
	beta := s.beta.Forward(actv)
	actv.MustDrop()

	scale := gamma.MustAdd1(ts.FloatScalar(1), true)
	modulated := base.Mul(normalized, scale)
	normalized.MustDrop()
	scale.MustDrop()
	out := base.Add(modulated, beta)
	modulated.MustDrop()
	beta.MustDrop()

	return out
}

// Initialize implements base.Initializer.
func (s *Spade) Initialize() {
	base.InitAll(s.norm, s.shared, s.gamma, s.beta)
}
