package base

import (
	"fmt"

	ts "github.com/sugarme/gotch/tensor"
)

// DimError reports an operand whose shape does not fit an operation.
// Graph code raises it as a panic value.
type DimError struct {
	Op   string
	Dim  int
	Want []int64
	Got  []int64
}

func (e *DimError) Error() string {
	if e.Dim < 0 {
		return fmt.Sprintf("%s: dimension mismatch: want %v, got %v", e.Op, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: dimension mismatch at dim %d: want %v, got %v", e.Op, e.Dim, e.Want, e.Got)
}

func dimPanic(op string, dim int, want, got []int64) {
	panic(&DimError{Op: op, Dim: dim, Want: want, Got: got})
}

// shape4 returns the size of a 4-D tensor or raises a DimError.
func shape4(op string, x *ts.Tensor) []int64 {
	size := x.MustSize()
	if len(size) != 4 {
		dimPanic(op, -1, []int64{-1, -1, -1, -1}, size)
	}
	return size
}

// Spatial returns [H, W] of a 4-D tensor.
func Spatial(x *ts.Tensor) []int64 {
	size := shape4("spatial", x)
	return []int64{size[2], size[3]}
}

// CheckChannels raises a DimError unless x is 4-D with c channels.
func CheckChannels(op string, x *ts.Tensor, c int64) {
	size := shape4(op, x)
	if size[1] != c {
		dimPanic(op, 1, []int64{size[0], c, size[2], size[3]}, size)
	}
}

// CheckSameShape raises a DimError unless all tensors have identical size.
func CheckSameShape(op string, xs ...*ts.Tensor) {
	ref := shape4(op, xs[0])
	for _, x := range xs[1:] {
		size := shape4(op, x)
		for d := range ref {
			if size[d] != ref[d] {
				dimPanic(op, d, ref, size)
			}
		}
	}
}

// CheckSameSpatial raises a DimError unless all tensors share batch, height and width.
func CheckSameSpatial(op string, xs ...*ts.Tensor) {
	ref := shape4(op, xs[0])
	for _, x := range xs[1:] {
		size := shape4(op, x)
		for _, d := range []int{0, 2, 3} {
			if size[d] != ref[d] {
				dimPanic(op, d, ref, size)
			}
		}
	}
}

// Cat concatenates along channels. Operands must share batch and spatial size.
func Cat(xs ...*ts.Tensor) *ts.Tensor {
	CheckSameSpatial("cat", xs...)
	vals := make([]ts.Tensor, len(xs))
	for i, x := range xs {
		vals[i] = *x
	}
	return ts.MustCat(vals, 1)
}

// Add sums two tensors of identical shape.
func Add(a, b *ts.Tensor) *ts.Tensor {
	CheckSameShape("add", a, b)
	return a.MustAdd(b, false)
}

// Mul multiplies two tensors of identical shape elementwise.
func Mul(a, b *ts.Tensor) *ts.Tensor {
	CheckSameShape("mul", a, b)
	return a.MustMul(b, false)
}

// BroadcastMul multiplies x [B,C,H,W] by a 1-channel gate [B,1,H,W],
// broadcasting the gate across channels.
func BroadcastMul(x, gate *ts.Tensor) *ts.Tensor {
	CheckSameSpatial("broadcast mul", x, gate)
	size := gate.MustSize()
	if size[1] != 1 {
		dimPanic("broadcast mul", 1, []int64{size[0], 1, size[2], size[3]}, size)
	}
	return x.MustMul(gate, false)
}

// Complement returns 1 - x.
func Complement(x *ts.Tensor) *ts.Tensor {
	return x.MustMul1(ts.FloatScalar(-1), false).MustAdd1(ts.FloatScalar(1), true)
}

// ResizeBilinear resizes x to size=[H, W] with bilinear interpolation.
// It returns a shallow clone when x already has that size.
func ResizeBilinear(x *ts.Tensor, size []int64, alignCorners bool) *ts.Tensor {
	if sameSize(Spatial(x), size) {
		return x.MustShallowClone()
	}
	return x.MustUpsampleBilinear2d(size, alignCorners, nil, nil, false)
}

// ResizeNearest resizes x to size=[H, W] with nearest-neighbor interpolation.
func ResizeNearest(x *ts.Tensor, size []int64) *ts.Tensor {
	if sameSize(Spatial(x), size) {
		return x.MustShallowClone()
	}
	return x.MustUpsampleNearest2d(size, nil, nil, false)
}

func sameSize(a, b []int64) bool {
	return a[0] == b[0] && a[1] == b[1]
}

// DropAll drops every non-nil tensor.
func DropAll(xs ...*ts.Tensor) {
	for _, x := range xs {
		if x != nil {
			x.MustDrop()
		}
	}
}
