package checkpoint

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Fit copies src into dst, adapting the layouts that differ between PyTorch state dicts
// and the graphs built in this module:
//
//	equal shapes            plain copy
//	(a, b) into (b, a)      transposed copy (linear weights are stored (out, in) by PyTorch)
//	(C) into (N, C, ...)    broadcast along every axis but 1 (biases, batchnorm scales)
func Fit(dst, src *tensor.Dense) error {
	d, ok := dst.Data().([]float32)
	if !ok {
		return errors.Errorf("destination must be float32, got %v", dst.Dtype())
	}
	s, ok := src.Data().([]float32)
	if !ok {
		return errors.Errorf("source must be float32, got %v", src.Dtype())
	}
	ds, ss := dst.Shape(), src.Shape()

	switch {
	case ds.Eq(ss):
		copy(d, s)
	case ds.Dims() == 2 && ss.Dims() == 2 && ds[0] == ss[1] && ds[1] == ss[0]:
		rows, cols := ds[0], ds[1]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				d[i*cols+j] = s[j*rows+i]
			}
		}
	case ss.Dims() == 1 && ds.Dims() >= 2 && ds[1] == ss[0]:
		inner := 1
		for _, v := range ds[2:] {
			inner *= v
		}
		channels := ds[1]
		for i := range d {
			d[i] = s[(i/inner)%channels]
		}
	default:
		return errors.Errorf("cannot fit a tensor of shape %v into %v", ss, ds)
	}
	return nil
}
