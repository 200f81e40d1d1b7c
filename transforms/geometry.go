package transforms

import (
	"math"
	"math/rand"

	"golang.org/x/image/draw"
)

// Scale resizes an image.
//
// With Size set, the smaller edge is matched to Size and the other edge is scaled to keep the
// aspect ratio (truncated). An image whose smaller edge already is Size is returned unchanged.
// Otherwise the image is resized to exactly Width × Height.
type Scale struct {
	Size          int
	Width, Height int
	Interp        draw.Interpolator // defaults to bilinear
}

func (s Scale) Transform(v Value, inv, flow bool) (Value, error) {
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	if s.Size <= 0 {
		return resize(img, s.Width, s.Height, s.Interp), nil
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if (w <= h && w == s.Size) || (h <= w && h == s.Size) {
		return img, nil
	}
	if w < h {
		oh := int(float64(s.Size) * float64(h) / float64(w))
		return resize(img, s.Size, oh, s.Interp), nil
	}
	ow := int(float64(s.Size) * float64(w) / float64(h))
	return resize(img, ow, s.Size, s.Interp), nil
}

func (s Scale) RandomizeParameters() {}

// CenterCrop crops the centre Height × Width region.
type CenterCrop struct {
	Height, Width int
}

// NewCenterCrop makes a square centre crop.
func NewCenterCrop(size int) CenterCrop { return CenterCrop{Height: size, Width: size} }

func (c CenterCrop) Transform(v Value, inv, flow bool) (Value, error) {
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	x1, y1 := c.origin(img.Bounds().Dx(), img.Bounds().Dy())
	return crop(img, x1, y1, x1+c.Width, y1+c.Height)
}

// origin is the top left corner of the crop. Halves round to even.
func (c CenterCrop) origin(w, h int) (x1, y1 int) {
	x1 = int(math.RoundToEven(float64(w-c.Width) / 2))
	y1 = int(math.RoundToEven(float64(h-c.Height) / 2))
	return
}

func (c CenterCrop) RandomizeParameters() {}

// RandomHorizontalFlip mirrors the image when the probability drawn by RandomizeParameters is
// below one half. With inv set, a mirrored image is also inverted.
type RandomHorizontalFlip struct {
	r          *rand.Rand
	p          float64
	randomized bool
}

// NewRandomHorizontalFlip creates a flip transform. A nil r uses a time seeded source.
func NewRandomHorizontalFlip(r *rand.Rand) *RandomHorizontalFlip {
	if r == nil {
		r = newRand()
	}
	return &RandomHorizontalFlip{r: r}
}

func (f *RandomHorizontalFlip) Transform(v Value, inv, flow bool) (Value, error) {
	if !f.randomized {
		return nil, ErrNotRandomized
	}
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	if f.p >= 0.5 {
		return img, nil
	}
	flipped := mirror(img)
	if inv {
		flipped = invert(flipped)
	}
	return flipped, nil
}

func (f *RandomHorizontalFlip) RandomizeParameters() {
	f.p = f.r.Float64()
	f.randomized = true
}

// Flipping reports whether the current parameters mirror the image.
func (f *RandomHorizontalFlip) Flipping() bool { return f.randomized && f.p < 0.5 }

// Corner names a crop position.
type Corner byte

const (
	Center Corner = iota
	TopLeft
	TopRight
	BottomLeft
	BottomRight
	MAXCORNER
)

func (c Corner) String() string {
	switch c {
	case Center:
		return "c"
	case TopLeft:
		return "tl"
	case TopRight:
		return "tr"
	case BottomLeft:
		return "bl"
	case BottomRight:
		return "br"
	}
	return "unknown corner"
}

// box returns the crop box of a square of side size at corner c of a w × h image.
//
// The top right box starts at y = 1 and the bottom left one at x = 1, so those crops are a
// pixel short on one side before being resized.
func (c Corner) box(w, h, size int) (x1, y1, x2, y2 int) {
	switch c {
	case TopLeft:
		return 0, 0, size, size
	case TopRight:
		return w - size, 1, w, size
	case BottomLeft:
		return 1, h - size, size, h
	case BottomRight:
		return w - size, h - size, w, h
	}
	cx, cy, half := w/2, h/2, size/2
	return cx - half, cy - half, cx + half, cy + half
}

// MultiScaleCornerCrop crops a square whose side is a drawn fraction of the smaller image
// edge, at a drawn corner (or the centre), and resizes it to Size × Size.
type MultiScaleCornerCrop struct {
	Scales []float64
	Size   int
	Interp draw.Interpolator

	r          *rand.Rand
	scale      float64
	corner     Corner
	randomized bool
}

// NewMultiScaleCornerCrop creates the transform. A nil r uses a time seeded source.
func NewMultiScaleCornerCrop(scales []float64, size int, r *rand.Rand) *MultiScaleCornerCrop {
	if r == nil {
		r = newRand()
	}
	return &MultiScaleCornerCrop{Scales: scales, Size: size, r: r}
}

func (m *MultiScaleCornerCrop) Transform(v Value, inv, flow bool) (Value, error) {
	if !m.randomized {
		return nil, ErrNotRandomized
	}
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	minLength := w
	if h < minLength {
		minLength = h
	}
	size := int(float64(minLength) * m.scale)
	x1, y1, x2, y2 := m.corner.box(w, h, size)
	cropped, err := crop(img, x1, y1, x2, y2)
	if err != nil {
		return nil, err
	}
	return resize(cropped, m.Size, m.Size, m.Interp), nil
}

func (m *MultiScaleCornerCrop) RandomizeParameters() {
	m.scale = m.Scales[m.r.Intn(len(m.Scales))]
	m.corner = Corner(m.r.Intn(int(MAXCORNER)))
	m.randomized = true
}

// Parameters returns the currently drawn scale and corner.
func (m *MultiScaleCornerCrop) Parameters() (scale float64, corner Corner) { return m.scale, m.corner }
