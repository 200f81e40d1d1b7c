package clip

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/gorgonia/vidattn/transforms"
)

func writePNG(t *testing.T, path string, img image.Image) {
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func fill(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// writeClip writes frames numbered 1..n whose red channel is 10 times the number.
func writeClip(t *testing.T, dir, prefix string, n int) {
	require.NoError(t, os.MkdirAll(dir, 0755))
	for i := 1; i <= n; i++ {
		name := filepath.Join(dir, prefix+itoa(i)+".png")
		writePNG(t, name, fill(6, 4, color.RGBA{uint8(10 * i), 255, 0, 255}))
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}

func TestFrames(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "frame_", 12)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	frames, err := Frames(dir)
	require.NoError(t, err)
	require.Len(t, frames, 12)
	for i, f := range frames {
		assert.Equal(t, i+1, frameNumber(f))
	}

	_, err = Frames(t.TempDir())
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	tests := []struct {
		total, n int
		want     []int
	}{
		{10, 1, []int{0}},
		{10, 2, []int{0, 9}},
		{10, 4, []int{0, 3, 6, 9}},
		{3, 5, []int{0, 0, 1, 1, 2}},
		{25, 25, nil},
	}
	for _, tt := range tests {
		got, err := Sample(tt.total, tt.n)
		require.NoError(t, err)
		require.Len(t, got, tt.n)
		if tt.want != nil {
			assert.Equal(t, tt.want, got, "%v", tt)
		}
		assert.Equal(t, 0, got[0])
		if tt.n > 1 {
			assert.Equal(t, tt.total-1, got[len(got)-1])
		}
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i] >= got[i-1], "%v is not monotone", got)
		}
	}

	_, err := Sample(0, 3)
	assert.Error(t, err)
	_, err = Sample(3, 0)
	assert.Error(t, err)
}

func TestLoadRGB(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "img", 7)

	tf := transforms.Compose{transforms.Scale{Width: 4, Height: 2}, transforms.ToTensor{}}
	clip, err := LoadRGB(dir, 3, tf)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 2, 4}, []int(clip.Shape()))

	// frames 1, 4 and 7 are sampled
	data := clip.Data().([]float32)
	size := 3 * 2 * 4
	for i, frame := range []int{1, 4, 7} {
		assert.InDelta(t, float32(10*frame)/255, data[i*size], 1.5/255)
		assert.InDelta(t, 1, data[i*size+8], 1.5/255)
	}

	_, err = LoadRGB(dir, 3, transforms.Compose{transforms.Scale{Size: 2}})
	assert.Error(t, err)
}

func TestLoadFlow(t *testing.T) {
	root := t.TempDir()
	xDir, yDir := filepath.Join(root, "x"), filepath.Join(root, "y")
	require.NoError(t, os.MkdirAll(xDir, 0755))
	require.NoError(t, os.MkdirAll(yDir, 0755))
	for i := 0; i < 4; i++ {
		writePNG(t, filepath.Join(xDir, "flow_x_"+itoa(i)+".png"), fill(4, 4, color.Gray{0}))
		writePNG(t, filepath.Join(yDir, "flow_y_"+itoa(i)+".png"), fill(4, 4, color.Gray{255}))
	}

	clip, err := LoadFlow(xDir, yDir, 2, transforms.Compose{transforms.ToTensor{}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 4, 4}, []int(clip.Shape()))
	x, err := clip.At(1, 0, 2, 2)
	require.NoError(t, err)
	y, err := clip.At(1, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(0), x)
	assert.Equal(t, float32(1), y)
}

type recorder struct{ inv, flow []bool }

func (r *recorder) Transform(v transforms.Value, inv, flow bool) (transforms.Value, error) {
	r.inv = append(r.inv, inv)
	r.flow = append(r.flow, flow)
	return tensor.New(tensor.WithShape(1, 1, 1), tensor.WithBacking([]float32{0})), nil
}
func (r *recorder) RandomizeParameters() {}

func TestLoadFlowFlags(t *testing.T) {
	root := t.TempDir()
	writeClip(t, filepath.Join(root, "x"), "", 2)
	writeClip(t, filepath.Join(root, "y"), "", 2)
	r := new(recorder)
	_, err := LoadFlow(filepath.Join(root, "x"), filepath.Join(root, "y"), 2, r)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, r.inv)
	assert.Equal(t, []bool{true, true, true, true}, r.flow)
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"walk/c1", "walk/c2", "jump/c1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0755))
	}
	classes, clips, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"jump", "walk"}, classes)
	assert.Equal(t, []Clip{
		{filepath.Join(root, "jump", "c1"), 0},
		{filepath.Join(root, "walk", "c1"), 1},
		{filepath.Join(root, "walk", "c2"), 1},
	}, clips)

	_, _, err = Scan(t.TempDir())
	assert.Error(t, err)
}
