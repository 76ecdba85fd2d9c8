package sinet

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/camoseg/base"
)

func rand(size ...int64) *ts.Tensor {
	return ts.MustRand(size, gotch.Float, gotch.CPU)
}

// stubEncoder returns fixed random features for an input of a given size.
type stubEncoder struct {
	chans []int64
	feats []*ts.Tensor
}

func newStubEncoder(batch, size int64, chans []int64) *stubEncoder {
	e := &stubEncoder{chans: chans}
	for i, c := range chans {
		stride := int64(4) << uint(i)
		e.feats = append(e.feats, rand(batch, c, size/stride, size/stride))
	}
	return e
}

func (e *stubEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	out := make([]*ts.Tensor, len(e.feats))
	for i, f := range e.feats {
		out[i] = f.MustShallowClone()
	}
	return out
}

func (e *stubEncoder) Channels() []int64 { return e.chans }

func (e *stubEncoder) Initialize() {}

func defaultChannels() []int64 {
	var chans []int64
	for _, s := range DefaultConfig().Stages {
		chans = append(chans, s.Channels)
	}
	return chans
}

func recoverDimError(t *testing.T, fn func()) (got *base.DimError) {
	t.Helper()
	defer func() {
		r := recover()
		e, ok := r.(*base.DimError)
		require.True(t, ok, "expected *base.DimError panic, got %v", r)
		got = e
	}()
	fn()
	return nil
}

func requireInUnit(t *testing.T, x *ts.Tensor) {
	t.Helper()
	for _, v := range x.Float64Values() {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
}
