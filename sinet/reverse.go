package sinet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

// ReverseAttention gates a finer-stage feature with the inverted
// prediction of the coarser prior.
type ReverseAttention struct {
	project *base.BasicConv // prior -> 1 channel
	attend  *base.BasicConv
	reverse *base.BasicConv
	head    *base.Conv
}

// Level is the output of one reverse-attention step.
type Level struct {
	Gate       *ts.Tensor // 1 - sigmoid(projected prior), 1 channel
	Complement *ts.Tensor // 1 - Gate
	Attended   *ts.Tensor
	Reversed   *ts.Tensor
	Logit      *ts.Tensor // coarse prediction from Attended
}

// Drop frees all tensors of l.
func (l *Level) Drop() {
	base.DropAll(l.Gate, l.Complement, l.Attended, l.Reversed, l.Logit)
}

// NewReverseAttention creates a ReverseAttention step. The suffix names
// the variables after the stage of the prior.
func NewReverseAttention(p *nn.Path, suffix int, c int64) *ReverseAttention {
	return &ReverseAttention{
		project: base.BasicConv2d(p.Sub(fmt.Sprintf("ra%d1_conv", suffix)), c, 1, 3, 1),
		attend:  base.BasicConv2d(p.Sub(fmt.Sprintf("ra%d_conv", suffix)), c, c, 3, 1),
		reverse: base.BasicConv2d(p.Sub(fmt.Sprintf("rra%d_conv", suffix)), c, c, 3, 1),
		head:    base.NewSegmentationHead(p.Sub(fmt.Sprintf("linearr%d", suffix-1)), c, 1),
	}
}

// Forward gates skip, the RF2B output one stage finer than prior.
func (r *ReverseAttention) Forward(prior, skip *ts.Tensor, train bool) *Level {
	resized := base.ResizeBilinear(prior, base.Spatial(skip), false)
	projected := r.project.ForwardT(resized, train)
	resized.MustDrop()
	sig := projected.MustSigmoid(true)
	gate := base.Complement(sig)
	sig.MustDrop()
	complement := base.Complement(gate)

	fg := base.BroadcastMul(skip, gate)
	bg := base.BroadcastMul(skip, complement)
	attended := r.attend.ForwardT(fg, train)
	reversed := r.reverse.ForwardT(bg, train)
	fg.MustDrop()
	bg.MustDrop()

	return &Level{
		Gate:       gate,
		Complement: complement,
		Attended:   attended,
		Reversed:   reversed,
		Logit:      r.head.Forward(attended),
	}
}

// Initialize implements base.Initializer.
func (r *ReverseAttention) Initialize() {
	base.InitAll(r.project, r.attend, r.reverse, r.head)
}

// Cascade runs reverse attention top-down from the coarsest stage.
type Cascade struct {
	top   *base.Conv          // coarse head of the coarsest stage
	steps []*ReverseAttention // steps[i] produces stage i+1 from stage i+2
}

// CascadeOutput holds the coarse logits and gated features per stage.
type CascadeOutput struct {
	Logits []*ts.Tensor // Logits[i] is the coarse prediction of stage i+1
	Levels []*Level     // Levels[i] lives at stage i+1; the coarsest stage has none
}

// Drop frees all tensors of o.
func (o *CascadeOutput) Drop() {
	for _, l := range o.Levels {
		l.Drop()
	}
	// Logits below the coarsest are owned by Levels.
	o.Logits[len(o.Logits)-1].MustDrop()
}

// NewCascade creates a Cascade over n stages.
func NewCascade(p *nn.Path, n int, c int64) *Cascade {
	m := &Cascade{
		top: base.NewSegmentationHead(p.Sub(fmt.Sprintf("linearr%d", n)), c, 1),
	}
	for stage := 1; stage < n; stage++ {
		m.steps = append(m.steps, NewReverseAttention(p, stage+1, c))
	}

	return m
}

// ForwardAll consumes the RF2B outputs, finest first.
func (m *Cascade) ForwardAll(rme []*ts.Tensor, train bool) *CascadeOutput {
	n := len(rme)
	out := &CascadeOutput{
		Logits: make([]*ts.Tensor, n),
		Levels: make([]*Level, n-1),
	}
	out.Logits[n-1] = m.top.Forward(rme[n-1])

	prior := rme[n-1]
	for i := n - 2; i >= 0; i-- {
		l := m.steps[i].Forward(prior, rme[i], train)
		out.Levels[i] = l
		out.Logits[i] = l.Logit
		prior = l.Attended
	}

	return out
}

// Initialize implements base.Initializer.
func (m *Cascade) Initialize() {
	m.top.Initialize()
	for _, s := range m.steps {
		s.Initialize()
	}
}
