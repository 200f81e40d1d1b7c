// Package gif renders the predictions of colorization passes as an animated GIF with captions.
package gif

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"

	"github.com/gorgonia/vidattn/encoding"
)

var regular *truetype.Font

const (
	dpi        = 72.0
	fontsize   = 12.0
	lineheight = 1.2
	delay      = 10 // per frame, in 100ths of a second
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Encoder collects the colorized frames of one clip of every pass into an animation. Each frame
// is captioned with the run name, the epoch and the time step.
type Encoder struct {
	Clip int // which clip of the batch to render
	font.Drawer

	out *gif.GIF
	io.Writer

	padH, padW int // padding so everything don't start at the topleft
	dy         int // caption line height
}

// NewGifEncoder renders the given clip of every pass into w.
func NewGifEncoder(w io.Writer, clip int) *Encoder {
	face := truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	return &Encoder{
		Clip: clip,
		Drawer: font.Drawer{
			Src:  image.Black,
			Face: face,
		},
		out:    &gif.GIF{LoopCount: 0},
		Writer: w,
		padH:   4,
		padW:   4,
		dy:     int(math.Ceil(fontsize * lineheight * dpi / 72)),
	}
}

// Encode appends the frames of a pass.
func (enc *Encoder) Encode(c encoding.Colorized) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if enc.Clip < 0 || enc.Clip >= c.Real() {
		return errors.Errorf("clip %d not among the %d clips classified", enc.Clip, c.Real())
	}
	for t := 0; t < c.SeqLen; t++ {
		frame := encoding.RGB(c.Colors, t*c.Batch+enc.Clip)
		fb := frame.Bounds()
		captions := []string{c.Name, fmt.Sprintf("Epoch %d, t=%d", c.Epoch, t)}
		band := len(captions)*enc.dy + 2*enc.padH

		im := image.NewPaletted(image.Rect(0, 0, fb.Dx(), fb.Dy()+band), palette.Plan9)
		draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
		draw.FloydSteinberg.Draw(im, fb, frame, image.Point{})

		enc.Dst = im
		y := fb.Dy() + enc.padH
		for _, s := range captions {
			y += enc.dy
			enc.Dot = fixed.P(enc.padW, y-enc.padH)
			enc.DrawString(s)
		}
		enc.out.Image = append(enc.out.Image, im)
		enc.out.Delay = append(enc.out.Delay, delay)
	}
	return nil
}

// Frames returns the number of frames collected so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if len(enc.out.Image) == 0 {
		return errors.New("nothing to flush")
	}
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}
