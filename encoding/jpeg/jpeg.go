// Package jpeg dumps the inputs and predictions of colorization passes as JPEG files.
package jpeg

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/gorgonia/vidattn/encoding"
)

// DefaultStep is the time step dumped by a new Dumper.
const DefaultStep = 7

// Dumper writes one directory per encoded pass, numbered from 1 under Root. For every clip j of
// pass k it writes e{k}_x{j}.jpg and e{k}_y{j}.jpg (the first two input channels) and
// e{k}_color{j}.jpg (the prediction), all taken at time step Step, clamped to the clip.
//
// A directory that already exists is an error, so a Dumper does not overwrite earlier runs.
type Dumper struct {
	Root    string
	Step    int
	Quality int

	k int
}

func NewDumper(root string) *Dumper {
	return &Dumper{
		Root:    root,
		Step:    DefaultStep,
		Quality: jpeg.DefaultQuality,
	}
}

// Encode dumps a pass.
func (d *Dumper) Encode(c encoding.Colorized) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Input.Shape()[1] < 2 {
		return errors.Errorf("expected at least 2 input channels, got %d", c.Input.Shape()[1])
	}
	d.k++
	dir := filepath.Join(d.Root, strconv.Itoa(d.k))
	if err := os.Mkdir(dir, 0755); err != nil {
		return errors.Wrapf(err, "pass %d", d.k)
	}

	t := d.Step
	if t >= c.SeqLen {
		t = c.SeqLen - 1
	}
	if t < 0 {
		t = 0
	}
	for j := 0; j < c.Real(); j++ {
		row := t*c.Batch + j
		files := []struct {
			name string
			img  image.Image
		}{
			{fmt.Sprintf("e%d_x%d.jpg", d.k, j), encoding.Gray(c.Input, row, 0)},
			{fmt.Sprintf("e%d_y%d.jpg", d.k, j), encoding.Gray(c.Input, row, 1)},
			{fmt.Sprintf("e%d_color%d.jpg", d.k, j), encoding.RGB(c.Colors, row)},
		}
		for _, f := range files {
			if err := d.write(filepath.Join(dir, f.name), f.img); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dumper) write(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = jpeg.Encode(f, img, &jpeg.Options{Quality: d.Quality}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %v", path)
	}
	return errors.WithStack(f.Close())
}

// Passes returns the number of passes dumped so far.
func (d *Dumper) Passes() int { return d.k }

// Flush is a no-op: every pass is written by Encode.
func (d *Dumper) Flush() error { return nil }
