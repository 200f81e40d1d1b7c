// Package transforms holds the image preprocessing and augmentation steps applied to
// every frame before it reaches a network.
//
// Every step implements Transform. A step that needs randomness draws its parameters in
// RandomizeParameters and then applies them unchanged on every call until the next draw,
// so all frames of a clip receive the same augmentation. Compose randomizes all of its
// members at once; callers loading a clip call it once per clip.
package transforms

import (
	"image"
	"image/color"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Value is what flows through a pipeline: an image.Image until ToTensor, a *tensor.Dense after.
type Value interface{}

// Transform is a single preprocessing step.
//
// inv asks flips to also invert intensities (the horizontal component of optical flow changes
// sign when the frame is mirrored). flow marks optical flow inputs, which are normalized with a
// single scalar mean and std.
type Transform interface {
	Transform(v Value, inv, flow bool) (Value, error)
	RandomizeParameters()
}

var (
	// ErrNotRandomized is returned by transforms with random parameters that are applied before
	// RandomizeParameters was ever called.
	ErrNotRandomized = errors.New("transform applied before RandomizeParameters")

	// ErrUnsupportedValue is returned when a transform receives a Value of the wrong kind.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Compose chains transforms. They are applied in order.
type Compose []Transform

// Transform applies every transform in order, feeding each output to the next.
func (c Compose) Transform(v Value, inv, flow bool) (retVal Value, err error) {
	retVal = v
	for _, t := range c {
		if retVal, err = t.Transform(retVal, inv, flow); err != nil {
			return nil, err
		}
	}
	return retVal, nil
}

// RandomizeParameters redraws the parameters of every transform.
func (c Compose) RandomizeParameters() {
	for _, t := range c {
		t.RandomizeParameters()
	}
}

// Held applies T with the parameters it holds and ignores redraws. Loaders sharing one draw
// across several streams of a clip pass it around after randomizing T themselves.
type Held struct{ T Transform }

func (h Held) Transform(v Value, inv, flow bool) (Value, error) { return h.T.Transform(v, inv, flow) }

func (h Held) RandomizeParameters() {}

func newRand() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }

func asImage(v Value) (image.Image, error) {
	img, ok := v.(image.Image)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedValue, "expected an image, got %T", v)
	}
	return img, nil
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return img.ColorModel() == color.GrayModel
}

// blank returns an empty image of the same kind (gray or colour) as img.
func blank(img image.Image, w, h int) draw.Image {
	r := image.Rect(0, 0, w, h)
	if isGray(img) {
		return image.NewGray(r)
	}
	return image.NewRGBA(r)
}

// canvas returns img as a zero-origin *image.Gray or *image.RGBA, converting if needed.
func canvas(img image.Image) draw.Image {
	b := img.Bounds()
	if b.Min == (image.Point{}) {
		switch im := img.(type) {
		case *image.Gray:
			return im
		case *image.RGBA:
			return im
		}
	}
	retVal := blank(img, b.Dx(), b.Dy())
	draw.Draw(retVal, retVal.Bounds(), img, b.Min, draw.Src)
	return retVal
}

// crop cuts the box [x1, x2) × [y1, y2), given relative to the image origin. Parts of the box
// outside the image are left black.
func crop(img image.Image, x1, y1, x2, y2 int) (draw.Image, error) {
	if x2 <= x1 || y2 <= y1 {
		return nil, errors.Errorf("empty crop box (%d, %d, %d, %d)", x1, y1, x2, y2)
	}
	b := img.Bounds()
	retVal := blank(img, x2-x1, y2-y1)
	draw.Draw(retVal, retVal.Bounds(), img, image.Pt(b.Min.X+x1, b.Min.Y+y1), draw.Src)
	return retVal, nil
}

func resize(img image.Image, w, h int, interp draw.Interpolator) draw.Image {
	if interp == nil {
		interp = draw.BiLinear
	}
	retVal := blank(img, w, h)
	interp.Scale(retVal, retVal.Bounds(), img, img.Bounds(), draw.Src, nil)
	return retVal
}

// mirror flips img left to right.
func mirror(img image.Image) draw.Image {
	b := img.Bounds()
	retVal := blank(img, b.Dx(), b.Dy())
	s2d := f64.Aff3{
		-1, 0, float64(b.Max.X),
		0, 1, float64(-b.Min.Y),
	}
	draw.NearestNeighbor.Transform(retVal, s2d, img, b, draw.Src, nil)
	return retVal
}

// invert replaces every colour component v with 255-v. Alpha is kept.
func invert(img draw.Image) draw.Image {
	switch im := img.(type) {
	case *image.Gray:
		for i := range im.Pix {
			im.Pix[i] = 255 - im.Pix[i]
		}
		return im
	case *image.RGBA:
		for i := range im.Pix {
			if i%4 != 3 {
				im.Pix[i] = 255 - im.Pix[i]
			}
		}
		return im
	}
	return invert(canvas(img))
}
