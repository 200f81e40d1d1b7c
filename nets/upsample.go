package nets

import (
	"github.com/chewxy/math32"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// interpolation returns the (in, out) matrix of 1-D bilinear weights that resamples in points
// to out points with pixel centres aligned (corners not aligned). Every column sums to 1.
func interpolation(in, out int) []float32 {
	retVal := make([]float32, in*out)
	scale := float32(in) / float32(out)
	for o := 0; o < out; o++ {
		src := math32.Max((float32(o)+0.5)*scale-0.5, 0)
		i0 := int(math32.Floor(src))
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := i0 + 1
		if i1 > in-1 {
			i1 = in - 1
		}
		frac := src - float32(i0)
		retVal[i0*out+o] += 1 - frac
		retVal[i1*out+o] += frac
	}
	return retVal
}

// upsample bilinearly resizes a (N, C, h, w) input to (N, C, height, width). Rows are resampled
// by a matrix product, then columns after a transposition.
func (b *builder) upsample(input *G.Node, height, width int, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	s := input.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	alongX := b.fixed(tensor.New(tensor.WithShape(w, width), tensor.WithBacking(interpolation(w, width))), name+".x")
	alongY := b.fixed(tensor.New(tensor.WithShape(h, height), tensor.WithBacking(interpolation(h, height))), name+".y")

	x := b.reshape(input, tensor.Shape{n * c * h, w})
	x = b.do(func() (*G.Node, error) { return G.Mul(x, alongX) })
	x = b.reshape(x, tensor.Shape{n * c, h, width})
	x = b.do(func() (*G.Node, error) { return G.Transpose(x, 0, 2, 1) })
	x = b.reshape(x, tensor.Shape{n * c * width, h})
	x = b.do(func() (*G.Node, error) { return G.Mul(x, alongY) })
	x = b.reshape(x, tensor.Shape{n * c, width, height})
	x = b.do(func() (*G.Node, error) { return G.Transpose(x, 0, 2, 1) })
	x = b.reshape(x, tensor.Shape{n, c, height, width})
	return b.record(x, name, "upsample", input)
}
