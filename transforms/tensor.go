package transforms

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
	"gorgonia.org/vecf32"
)

// DefaultNorm is the divisor ToTensor uses for 8 bit images.
const DefaultNorm = 255

// ToTensor converts an image to a float32 tensor of shape (C, H, W), dividing every sample by
// Norm (DefaultNorm when zero). Gray images give one channel, everything else three; alpha
// is dropped.
type ToTensor struct {
	Norm float32
}

func (t ToTensor) Transform(v Value, inv, flow bool) (Value, error) {
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	norm := t.Norm
	if norm == 0 {
		norm = DefaultNorm
	}

	c := canvas(img)
	b := c.Bounds()
	h, w := b.Dy(), b.Dx()
	switch im := c.(type) {
	case *image.Gray:
		retVal := tensor.New(tensor.WithShape(1, h, w), tensor.Of(tensor.Float32))
		data := retVal.Data().([]float32)
		for y := 0; y < h; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+w]
			for x, p := range row {
				data[y*w+x] = float32(p) / norm
			}
		}
		return retVal, nil
	case *image.RGBA:
		retVal := tensor.New(tensor.WithShape(3, h, w), tensor.Of(tensor.Float32))
		chw, err := native.Tensor3F32(retVal)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*im.Stride + 4*x
				chw[0][y][x] = float32(im.Pix[i]) / norm
				chw[1][y][x] = float32(im.Pix[i+1]) / norm
				chw[2][y][x] = float32(im.Pix[i+2]) / norm
			}
		}
		return retVal, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedValue, "cannot convert %T", c)
}

func (t ToTensor) RandomizeParameters() {}

func asTensor(v Value) (*tensor.Dense, []float32, error) {
	t, ok := v.(*tensor.Dense)
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnsupportedValue, "expected a *tensor.Dense, got %T", v)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnsupportedValue, "expected float32 data, got %v", t.Dtype())
	}
	return t, data, nil
}

// Normalize normalizes a (C, H, W) tensor in place: channel = (channel - mean) / std.
//
// Channels are paired with Mean and Std in order; channels without a pair are left alone.
// For flow inputs a single scalar pair is used instead: the arithmetic means of Mean and Std.
type Normalize struct {
	Mean, Std []float32
}

func (n Normalize) Transform(v Value, inv, flow bool) (Value, error) {
	t, data, err := asTensor(v)
	if err != nil {
		return nil, err
	}
	mean, std := n.params(flow)
	eachChannel(t, data, mean, std, func(ch []float32, m, s float32) {
		vecf32.TransInv(ch, m)
		vecf32.ScaleInv(ch, s)
	})
	return t, nil
}

func (n Normalize) RandomizeParameters() {}

func (n Normalize) params(flow bool) (mean, std []float32) {
	if !flow {
		return n.Mean, n.Std
	}
	return []float32{average(n.Mean)}, []float32{average(n.Std)}
}

// Denormalize undoes Normalize with the same Mean and Std: channel = channel*std + mean.
type Denormalize Normalize

func (n Denormalize) Transform(v Value, inv, flow bool) (Value, error) {
	t, data, err := asTensor(v)
	if err != nil {
		return nil, err
	}
	mean, std := Normalize(n).params(flow)
	eachChannel(t, data, mean, std, func(ch []float32, m, s float32) {
		vecf32.Scale(ch, s)
		vecf32.Trans(ch, m)
	})
	return t, nil
}

func (n Denormalize) RandomizeParameters() {}

func eachChannel(t *tensor.Dense, data, mean, std []float32, fn func(ch []float32, m, s float32)) {
	shape := t.Shape()
	channels := shape[0]
	if len(mean) < channels {
		channels = len(mean)
	}
	if len(std) < channels {
		channels = len(std)
	}
	size := shape.TotalSize() / shape[0]
	for c := 0; c < channels; c++ {
		fn(data[c*size:(c+1)*size], mean[c], std[c])
	}
}

func average(a []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vecf32.Sum(a) / float32(len(a))
}

// Binary thresholds a tensor in place: values above Threshold become 1, all others 0.
type Binary struct {
	Threshold float32
}

func (b Binary) Transform(v Value, inv, flow bool) (Value, error) {
	t, data, err := asTensor(v)
	if err != nil {
		return nil, err
	}
	for i, x := range data {
		if x > b.Threshold {
			data[i] = 1
		} else {
			data[i] = 0
		}
	}
	return t, nil
}

func (b Binary) RandomizeParameters() {}
