package transforms

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// gradient returns a gray image whose pixel (x, y) is x + 10y.
func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{uint8(x + 10*y)})
		}
	}
	return img
}

func TestCenterCrop(t *testing.T) {
	tests := []struct {
		w, h           int
		cropH, cropW   int
		wantX1, wantY1 int
	}{
		{8, 8, 4, 4, 2, 2},
		{7, 5, 2, 2, 2, 2}, // 2.5 and 1.5 both round to 2
		{6, 6, 3, 3, 2, 2},
		{10, 6, 4, 6, 2, 1},
		{5, 5, 5, 5, 0, 0},
	}
	for _, tt := range tests {
		out, err := CenterCrop{Height: tt.cropH, Width: tt.cropW}.Transform(gradient(tt.w, tt.h), false, false)
		require.NoError(t, err)
		img := out.(image.Image)
		assert.Equal(t, tt.cropW, img.Bounds().Dx(), "%v", tt)
		assert.Equal(t, tt.cropH, img.Bounds().Dy(), "%v", tt)
		assert.Equal(t, uint8(tt.wantX1+10*tt.wantY1), img.(*image.Gray).GrayAt(0, 0).Y, "%v", tt)
	}
}

func TestFiveCrops(t *testing.T) {
	img := gradient(12, 10)

	out, err := NewFiveCrops(4, false).Transform(img, false, false)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1, 4, 4}, []int(out.(*tensor.Dense).Shape()))

	out, err = TenCrops(4, []float32{0}, []float32{1}).Transform(img, true, false)
	require.NoError(t, err)
	ten := out.(*tensor.Dense)
	require.Equal(t, []int{10, 1, 4, 4}, []int(ten.Shape()))

	// crop 5 is crop 0 mirrored and inverted
	data := ten.Data().([]float32)
	crop0, crop5 := data[0:16], data[5*16:6*16]
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			assert.InDelta(t, 1-crop0[y*4+(3-x)], crop5[y*4+x], 1e-6)
		}
	}
}

func TestFlippedImagesTest(t *testing.T) {
	out, err := FlippedImagesTest{Mean: []float32{0}, Std: []float32{1}}.Transform(gradient(3, 2), false, false)
	require.NoError(t, err)
	ten := out.(*tensor.Dense)
	assert.Equal(t, []int{2, 1, 2, 3}, []int(ten.Shape()))
	data := ten.Data().([]float32)
	assert.InDelta(t, 2.0/255, data[6], 1e-6) // first pixel of the mirror is the last column
}

func TestMirror(t *testing.T) {
	img := gradient(5, 3)
	once := mirror(img).(*image.Gray)
	assert.Equal(t, uint8(4), once.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(10), once.GrayAt(4, 1).Y)

	twice := mirror(once).(*image.Gray)
	assert.Equal(t, img.Pix, twice.Pix)
}

func TestRandomHorizontalFlip(t *testing.T) {
	f := NewRandomHorizontalFlip(rand.New(rand.NewSource(1337)))
	_, err := f.Transform(gradient(4, 4), false, false)
	assert.Equal(t, ErrNotRandomized, errors.Cause(err))

	img := gradient(4, 4)
	for i := 0; i < 20; i++ {
		f.RandomizeParameters()
		a, err := f.Transform(img, true, true)
		require.NoError(t, err)
		b, err := f.Transform(img, true, true)
		require.NoError(t, err)
		assert.Equal(t, a.(*image.Gray).Pix, b.(*image.Gray).Pix, "parameters must hold between draws")

		got := a.(*image.Gray).GrayAt(0, 0).Y
		if f.Flipping() {
			assert.Equal(t, uint8(255-3), got)
		} else {
			assert.Equal(t, uint8(0), got)
		}
	}
}

func TestMultiScaleCornerCrop(t *testing.T) {
	m := NewMultiScaleCornerCrop([]float64{1, 0.875, 0.75}, 6, rand.New(rand.NewSource(7)))
	_, err := m.Transform(gradient(16, 12), false, false)
	assert.Equal(t, ErrNotRandomized, errors.Cause(err))

	for i := 0; i < 20; i++ {
		m.RandomizeParameters()
		scale, corner := m.Parameters()
		assert.Contains(t, m.Scales, scale)
		assert.True(t, corner < MAXCORNER)

		out, err := m.Transform(gradient(16, 12), false, false)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 6, 6), out.(image.Image).Bounds())
	}
}

func TestCornerBox(t *testing.T) {
	tests := []struct {
		c              Corner
		x1, y1, x2, y2 int
	}{
		{Center, 3, 2, 7, 6},
		{TopLeft, 0, 0, 4, 4},
		{TopRight, 6, 1, 10, 4},
		{BottomLeft, 1, 4, 4, 8},
		{BottomRight, 6, 4, 10, 8},
	}
	for _, tt := range tests {
		x1, y1, x2, y2 := tt.c.box(10, 8, 4)
		assert.Equal(t, []int{tt.x1, tt.y1, tt.x2, tt.y2}, []int{x1, y1, x2, y2}, tt.c.String())
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		s            Scale
		w, h         int
		wantW, wantH int
	}{
		{Scale{Size: 4}, 8, 16, 4, 8},
		{Scale{Size: 4}, 12, 8, 6, 4},
		{Scale{Size: 4}, 4, 9, 4, 9},
		{Scale{Size: 3}, 4, 5, 3, 3},
		{Scale{Width: 5, Height: 2}, 8, 8, 5, 2},
	}
	for _, tt := range tests {
		out, err := tt.s.Transform(gradient(tt.w, tt.h), false, false)
		require.NoError(t, err)
		b := out.(image.Image).Bounds()
		assert.Equal(t, tt.wantW, b.Dx(), "%v", tt)
		assert.Equal(t, tt.wantH, b.Dy(), "%v", tt)
	}
}

func TestToTensor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 51, 255})
	img.Set(1, 0, color.RGBA{102, 204, 0, 255})

	out, err := ToTensor{}.Transform(img, false, false)
	require.NoError(t, err)
	ten := out.(*tensor.Dense)
	assert.Equal(t, []int{3, 1, 2}, []int(ten.Shape()))

	want := []float32{1, 0.4, 0, 0.8, 0.2, 0}
	if diff := cmp.Diff(want, ten.Data().([]float32), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("ToTensor mismatch (-want +got):\n%s", diff)
	}
	for _, v := range ten.Data().([]float32) {
		assert.True(t, v >= 0 && v <= 1)
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	backing := []float32{0.1, 0.5, 0.9, 0.2, 0.4, 0.6, 0, 1, 0.3, 0.7, 0.8, 0.25}
	original := append([]float32(nil), backing...)
	ten := tensor.New(tensor.WithShape(3, 2, 2), tensor.WithBacking(backing))

	mean := []float32{0.485, 0.456, 0.406}
	std := []float32{0.229, 0.224, 0.225}
	out, err := Normalize{Mean: mean, Std: std}.Transform(ten, false, false)
	require.NoError(t, err)
	assert.InDelta(t, (0.1-0.485)/0.229, out.(*tensor.Dense).Data().([]float32)[0], 1e-5)
	assert.InDelta(t, (0.2-0.456)/0.224, out.(*tensor.Dense).Data().([]float32)[4], 1e-5)

	out, err = Denormalize{Mean: mean, Std: std}.Transform(out, false, false)
	require.NoError(t, err)
	if diff := cmp.Diff(original, out.(*tensor.Dense).Data().([]float32), cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeFlow(t *testing.T) {
	ten := tensor.New(tensor.WithShape(1, 1, 2), tensor.WithBacking([]float32{0.2, 1.2}))
	n := Normalize{Mean: []float32{0.1, 0.2, 0.3}, Std: []float32{1, 2, 3}}
	out, err := n.Transform(ten, false, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0.5}, out.(*tensor.Dense).Data().([]float32), 1e-6)
}

func TestBinary(t *testing.T) {
	ten := tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{0.1, 0.5, 0.51, 2}))
	out, err := Binary{Threshold: 0.5}.Transform(ten, false, false)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 1}, out.(*tensor.Dense).Data())
}

type counting struct{ randomized, applied int }

func (c *counting) Transform(v Value, inv, flow bool) (Value, error) {
	c.applied++
	return v, nil
}
func (c *counting) RandomizeParameters() { c.randomized++ }

func TestCompose(t *testing.T) {
	a, b := new(counting), new(counting)
	pipeline := Compose{
		a,
		NewCenterCrop(4),
		b,
		ToTensor{},
		Normalize{Mean: []float32{0.5}, Std: []float32{0.5}},
	}
	pipeline.RandomizeParameters()
	assert.Equal(t, 1, a.randomized)
	assert.Equal(t, 1, b.randomized)

	out, err := pipeline.Transform(gradient(8, 8), false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, a.applied)
	assert.Equal(t, 1, b.applied)
	assert.Equal(t, []int{1, 4, 4}, []int(out.(*tensor.Dense).Shape()))

	_, err = Compose{ToTensor{}, NewCenterCrop(2)}.Transform(gradient(4, 4), false, false)
	assert.Equal(t, ErrUnsupportedValue, errors.Cause(err))
}

func TestHeld(t *testing.T) {
	c := new(counting)
	h := Held{T: c}
	h.RandomizeParameters()
	assert.Equal(t, 0, c.randomized)
	_, err := h.Transform(gradient(2, 2), false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, c.applied)
}
