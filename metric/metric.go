// Package metric scores predicted probability maps against binary masks.
//
// All functions take tensors of identical shape with values in [0, 1].
// Ground truth is binarized at 0.5.
package metric

import (
	"fmt"
	"math"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

const eps = 1e-8

func checkShape(pred, target *ts.Tensor) error {
	ps, tsz := pred.MustSize(), target.MustSize()
	if len(ps) != len(tsz) {
		return fmt.Errorf("metric: shape mismatch: %v vs %v", ps, tsz)
	}
	for i := range ps {
		if ps[i] != tsz[i] {
			return fmt.Errorf("metric: shape mismatch: %v vs %v", ps, tsz)
		}
	}
	return nil
}

func numel(x *ts.Tensor) float64 {
	n := int64(1)
	for _, d := range x.MustSize() {
		n *= d
	}
	return float64(n)
}

// scalar reads a single-element tensor and drops it.
func scalar(x *ts.Tensor) float64 {
	v := x.Float64Values()[0]
	x.MustDrop()
	return v
}

// mask returns target > 0.5 as a double tensor.
func mask(target *ts.Tensor) *ts.Tensor {
	return target.MustGt(ts.FloatScalar(0.5), false).MustTotype(gotch.Double, true)
}

// MAE is the mean absolute error between prediction and mask.
func MAE(pred, target *ts.Tensor) (float64, error) {
	if err := checkShape(pred, target); err != nil {
		return 0, err
	}
	gt := mask(target)
	p := pred.MustTotype(gotch.Double, false)
	diff := p.MustSub(gt, true).MustAbs(true)
	gt.MustDrop()

	return scalar(diff.MustMean(gotch.Double, true)), nil
}

// DiceCoeff is 2|P∩T| / (|P|+|T|) with the prediction thresholded at 0.5.
func DiceCoeff(pred, target *ts.Tensor) (float64, error) {
	tp, fp, fn, err := confusion(pred, target, 0.5)
	if err != nil {
		return 0, err
	}

	return (2 * tp) / (2*tp + fp + fn + eps), nil
}

// IoU is |P∩T| / |P∪T| of the foreground class with the prediction
// thresholded at 0.5.
func IoU(pred, target *ts.Tensor) (float64, error) {
	tp, fp, fn, err := confusion(pred, target, 0.5)
	if err != nil {
		return 0, err
	}

	return tp / (tp + fp + fn + eps), nil
}

// JaccardIndex is the IoU averaged over classes. Only binary (2 class)
// segmentation is supported.
func JaccardIndex(pred, target *ts.Tensor, classes int) (float64, error) {
	if classes != 2 {
		return 0, fmt.Errorf("metric: JaccardIndex supports 2 classes, got %d", classes)
	}
	tp, fp, fn, err := confusion(pred, target, 0.5)
	if err != nil {
		return 0, err
	}
	tn := numel(pred) - tp - fp - fn
	fg := tp / (tp + fp + fn + eps)
	bg := tn / (tn + fp + fn + eps)

	return (fg + bg) / 2, nil
}

// FMeasure is the F-beta score (beta^2 = 0.3) at the adaptive threshold
// min(2*mean(pred), 1).
func FMeasure(pred, target *ts.Tensor) (float64, error) {
	if err := checkShape(pred, target); err != nil {
		return 0, err
	}
	mean := scalar(pred.MustMean(gotch.Double, false))
	threshold := math.Min(2*mean, 1)

	tp, fp, fn, err := confusion(pred, target, threshold)
	if err != nil {
		return 0, err
	}
	precision := tp / (tp + fp + eps)
	recall := tp / (tp + fn + eps)
	const beta2 = 0.3

	return (1 + beta2) * precision * recall / (beta2*precision + recall + eps), nil
}

// confusion counts true positives, false positives and false negatives of
// pred >= threshold against the mask.
func confusion(pred, target *ts.Tensor, threshold float64) (tp, fp, fn float64, err error) {
	if err := checkShape(pred, target); err != nil {
		return 0, 0, 0, err
	}
	p := pred.MustGe(ts.FloatScalar(threshold), false).MustTotype(gotch.Double, true)
	t := mask(target)

	pt := p.MustMul(t, false)
	tp = scalar(pt.MustSum(gotch.Double, true))
	fp = scalar(p.MustSum(gotch.Double, true)) - tp
	fn = scalar(t.MustSum(gotch.Double, true)) - tp

	return tp, fp, fn, nil
}
