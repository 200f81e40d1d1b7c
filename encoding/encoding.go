// Package encoding holds what the output encoders of a colorization run receive, and the
// conversions from tensors to images they share.
package encoding

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Colorized is one colorization pass over a batch of clips. Input and Colors are time major:
// row t*Batch + b is frame t of clip b.
type Colorized struct {
	Name   string
	Epoch  int
	Input  *tensor.Dense // (T*B, F, H, W) flow frames
	Colors *tensor.Dense // (T*B, 3, H, W) predicted frames
	SeqLen int
	Batch  int
	Clips  int // clips classified, the rest of the batch is padding. 0 means Batch
}

// Real returns the number of clips that were classified.
func (c Colorized) Real() int {
	if c.Clips <= 0 || c.Clips > c.Batch {
		return c.Batch
	}
	return c.Clips
}

// Validate checks that the shapes agree with SeqLen and Batch.
func (c Colorized) Validate() error {
	if c.Input == nil || c.Colors == nil {
		return errors.New("colorized batch without tensors")
	}
	rows := c.SeqLen * c.Batch
	if rows == 0 {
		return errors.Errorf("empty colorized batch (%d frames of %d clips)", c.SeqLen, c.Batch)
	}
	for _, t := range []*tensor.Dense{c.Input, c.Colors} {
		if s := t.Shape(); s.Dims() != 4 || s[0] != rows {
			return errors.Errorf("expected %d frames of shape (C, H, W), got %v", rows, s)
		}
	}
	if c.Clips < 0 || c.Clips > c.Batch {
		return errors.Errorf("%d clips in a batch of %d", c.Clips, c.Batch)
	}
	if c.Colors.Shape()[1] != 3 {
		return errors.Errorf("expected 3 colour channels, got %d", c.Colors.Shape()[1])
	}
	return nil
}

// Quantize maps [0, 1] to [0, 255], rounding and clamping.
func Quantize(v float32) uint8 {
	return uint8(math32.Min(math32.Max(v*255+0.5, 0), 255))
}

func plane(t *tensor.Dense, row, channel int) (data []float32, h, w int) {
	s := t.Shape()
	c, h, w := s[1], s[2], s[3]
	off := (row*c + channel) * h * w
	return t.Data().([]float32)[off : off+h*w], h, w
}

// Gray is one channel of one frame of a (N, C, H, W) tensor.
func Gray(t *tensor.Dense, row, channel int) *image.Gray {
	data, h, w := plane(t, row, channel)
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range data {
		img.Pix[i] = Quantize(v)
	}
	return img
}

// RGB is one frame of a (N, 3, H, W) tensor.
func RGB(t *tensor.Dense, row int) *image.RGBA {
	r, h, w := plane(t, row, 0)
	g, _, _ := plane(t, row, 1)
	b, _, _ := plane(t, row, 2)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range r {
		img.SetRGBA(i%w, i/w, color.RGBA{Quantize(r[i]), Quantize(g[i]), Quantize(b[i]), 255})
	}
	return img
}
