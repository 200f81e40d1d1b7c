package transforms

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// FiveCrops crops the centre and the four corners of an image, each Size × Size, and returns
// them as one normalized tensor of shape (5, C, Size, Size). With TenCrops set the mirrored
// crops follow, giving (10, C, Size, Size); with inv set those mirrored crops are inverted.
type FiveCrops struct {
	Size      int
	Mean, Std []float32
	Interp    draw.Interpolator
	TenCrops  bool
}

// NewFiveCrops uses a zero mean and unit std.
func NewFiveCrops(size int, tenCrops bool) FiveCrops {
	return FiveCrops{
		Size:     size,
		Mean:     []float32{0, 0, 0},
		Std:      []float32{1, 1, 1},
		TenCrops: tenCrops,
	}
}

func (f FiveCrops) Transform(v Value, inv, flow bool) (Value, error) {
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	crops := make([]image.Image, 0, 10)
	for _, c := range []Corner{Center, TopLeft, TopRight, BottomLeft, BottomRight} {
		x1, y1, x2, y2 := c.box(w, h, f.Size)
		cropped, err := crop(img, x1, y1, x2, y2)
		if err != nil {
			return nil, errors.Wrapf(err, "%v crop", c)
		}
		crops = append(crops, resize(cropped, f.Size, f.Size, f.Interp))
	}
	if f.TenCrops {
		for _, c := range crops[:5] {
			flipped := mirror(c)
			if inv {
				flipped = invert(flipped)
			}
			crops = append(crops, flipped)
		}
	}
	return stackNormalized(crops, Normalize{Mean: f.Mean, Std: f.Std}, inv, flow)
}

func (f FiveCrops) RandomizeParameters() {}

// TenCrops is FiveCrops with mirrored duplicates.
func TenCrops(size int, mean, std []float32) FiveCrops {
	return FiveCrops{Size: size, Mean: mean, Std: std, TenCrops: true}
}

// FlippedImagesTest returns an image and its mirror image as one normalized tensor of shape
// (2, C, H, W). With inv set the mirror image is inverted.
type FlippedImagesTest struct {
	Mean, Std []float32
}

func (f FlippedImagesTest) Transform(v Value, inv, flow bool) (Value, error) {
	img, err := asImage(v)
	if err != nil {
		return nil, err
	}
	flipped := mirror(img)
	if inv {
		flipped = invert(flipped)
	}
	return stackNormalized([]image.Image{img, flipped}, Normalize{Mean: f.Mean, Std: f.Std}, inv, flow)
}

func (f FlippedImagesTest) RandomizeParameters() {}

func stackNormalized(imgs []image.Image, norm Normalize, inv, flow bool) (*tensor.Dense, error) {
	var (
		backing []float32
		shape   tensor.Shape
		toT     ToTensor
	)
	for _, img := range imgs {
		v, err := toT.Transform(img, inv, flow)
		if err != nil {
			return nil, err
		}
		if v, err = norm.Transform(v, inv, flow); err != nil {
			return nil, err
		}
		t := v.(*tensor.Dense)
		if shape == nil {
			shape = t.Shape().Clone()
			backing = make([]float32, 0, len(imgs)*shape.TotalSize())
		}
		backing = append(backing, t.Data().([]float32)...)
	}
	dims := append([]int{len(imgs)}, shape...)
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing)), nil
}
