// Package clip loads clips from disk: directories of numbered frame images, sampled uniformly
// in time and run through a transform pipeline.
package clip

import (
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"

	"github.com/gorgonia/vidattn/transforms"
)

var frameExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

var digits = regexp.MustCompile(`\d+`)

// frameNumber is the last number in a file name, or -1.
func frameNumber(name string) int {
	found := digits.FindAllString(filepath.Base(name), -1)
	if len(found) == 0 {
		return -1
	}
	n, err := strconv.Atoi(found[len(found)-1])
	if err != nil {
		return -1
	}
	return n
}

// Frames lists the image files of dir ordered by the number in their names. Names without a
// number come first, in lexical order.
func Frames(dir string) ([]string, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing frames of %v", dir)
	}
	var retVal []string
	for _, info := range infos {
		if info.IsDir() || !frameExts[strings.ToLower(filepath.Ext(info.Name()))] {
			continue
		}
		retVal = append(retVal, filepath.Join(dir, info.Name()))
	}
	if len(retVal) == 0 {
		return nil, errors.Errorf("no frames in %v", dir)
	}
	sort.SliceStable(retVal, func(i, j int) bool {
		a, b := frameNumber(retVal[i]), frameNumber(retVal[j])
		if a != b {
			return a < b
		}
		return retVal[i] < retVal[j]
	})
	return retVal, nil
}

// Sample spreads n indices evenly over [0, total), both ends included.
func Sample(total, n int) ([]int, error) {
	if total <= 0 {
		return nil, errors.Errorf("cannot sample from %d frames", total)
	}
	if n <= 0 {
		return nil, errors.Errorf("cannot sample %d frames", n)
	}
	retVal := make([]int, n)
	if n == 1 {
		return retVal, nil
	}
	step := float64(total-1) / float64(n-1)
	for i := range retVal {
		retVal[i] = int(float64(i) * step)
	}
	retVal[n-1] = total - 1
	return retVal, nil
}

// Decode reads an image file.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %v", path)
	}
	return img, nil
}

// gray converts an image to 8 bit grayscale.
func gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	retVal := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(retVal, retVal.Bounds(), img, b.Min, draw.Src)
	return retVal
}

// sampled returns the n sampled frame paths of dir.
func sampled(dir string, n int) ([]string, error) {
	frames, err := Frames(dir)
	if err != nil {
		return nil, err
	}
	idx, err := Sample(len(frames), n)
	if err != nil {
		return nil, err
	}
	retVal := make([]string, n)
	for i, j := range idx {
		retVal[i] = frames[j]
	}
	return retVal, nil
}

func apply(tf transforms.Transform, img image.Image, inv, flow bool) (*tensor.Dense, error) {
	v, err := tf.Transform(img, inv, flow)
	if err != nil {
		return nil, err
	}
	t, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("transform pipeline must end in a tensor, got %T", v)
	}
	return t, nil
}

// LoadRGB loads n frames of dir as a (n, C, H, W) tensor. tf is randomized once, so every frame
// gets the same augmentation, and must end in a tensor.
func LoadRGB(dir string, n int, tf transforms.Transform) (*tensor.Dense, error) {
	paths, err := sampled(dir, n)
	if err != nil {
		return nil, err
	}
	tf.RandomizeParameters()
	frames := make([]*tensor.Dense, 0, n)
	for _, p := range paths {
		img, err := Decode(p)
		if err != nil {
			return nil, err
		}
		t, err := apply(tf, img, false, false)
		if err != nil {
			return nil, errors.Wrapf(err, "transforming %v", p)
		}
		frames = append(frames, t)
	}
	return stack(frames)
}

// LoadFlow loads n frames of the horizontal (xDir) and vertical (yDir) flow components as a
// (n, 2, H, W) tensor. Both are read as grayscale; the horizontal one is transformed with
// inversion so that mirrored frames change direction.
func LoadFlow(xDir, yDir string, n int, tf transforms.Transform) (*tensor.Dense, error) {
	xs, err := sampled(xDir, n)
	if err != nil {
		return nil, err
	}
	ys, err := sampled(yDir, n)
	if err != nil {
		return nil, err
	}
	tf.RandomizeParameters()
	frames := make([]*tensor.Dense, 0, 2*n)
	for i := range xs {
		for _, c := range []struct {
			path string
			inv  bool
		}{{xs[i], true}, {ys[i], false}} {
			img, err := Decode(c.path)
			if err != nil {
				return nil, err
			}
			t, err := apply(tf, gray(img), c.inv, true)
			if err != nil {
				return nil, errors.Wrapf(err, "transforming %v", c.path)
			}
			frames = append(frames, t)
		}
	}
	retVal, err := stack(frames)
	if err != nil {
		return nil, err
	}
	s := retVal.Shape()
	if s[1] != 1 {
		return nil, errors.Errorf("flow frames must have one channel, got %d", s[1])
	}
	if err = retVal.Reshape(n, 2, s[2], s[3]); err != nil {
		return nil, errors.WithStack(err)
	}
	return retVal, nil
}

// stack stacks equally shaped (C, H, W) frames into (N, C, H, W).
func stack(frames []*tensor.Dense) (*tensor.Dense, error) {
	shape := frames[0].Shape().Clone()
	size := shape.TotalSize()
	backing := make([]float32, 0, len(frames)*size)
	for i, f := range frames {
		if !f.Shape().Eq(shape) {
			return nil, errors.Errorf("frame %d has shape %v, expected %v", i, f.Shape(), shape)
		}
		data, ok := f.Data().([]float32)
		if !ok {
			return nil, errors.Errorf("frame %d is %v, expected float32", i, f.Dtype())
		}
		backing = append(backing, data...)
	}
	dims := append([]int{len(frames)}, shape...)
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing)), nil
}

// Clip is a clip directory and its class.
type Clip struct {
	Dir   string
	Label int
}

// Scan reads a root/<class>/<clip> layout. Classes are sorted by name and numbered in that
// order.
func Scan(root string) (classes []string, clips []Clip, err error) {
	infos, err := ioutil.ReadDir(root)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "scanning %v", root)
	}
	for _, info := range infos {
		if info.IsDir() {
			classes = append(classes, info.Name())
		}
	}
	sort.Strings(classes)
	for label, class := range classes {
		dir := filepath.Join(root, class)
		entries, err := ioutil.ReadDir(dir)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "scanning %v", dir)
		}
		for _, e := range entries {
			if e.IsDir() {
				clips = append(clips, Clip{Dir: filepath.Join(dir, e.Name()), Label: label})
			}
		}
	}
	if len(clips) == 0 {
		return nil, nil, errors.Errorf("no clips under %v", root)
	}
	return classes, clips, nil
}
