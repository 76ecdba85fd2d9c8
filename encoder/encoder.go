package encoder

import (
	ts "github.com/sugarme/gotch/tensor"
)

// Encoder is the backbone interface for a segmentation model.
//
// ForwardAll returns the four stage features [L1, L2, L3, L4] at strides
// 4, 8, 16 and 32 relative to the input.
type Encoder interface {
	ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor
	Channels() []int64
	Initialize()
}
