package vidattn

import (
	"log"
	"math/rand"
	"path/filepath"

	"github.com/gorgonia/vidattn/clip"
	"github.com/gorgonia/vidattn/nets"
	"github.com/gorgonia/vidattn/transforms"
	"github.com/pkg/errors"
)

// Subdirectories of a clip directory holding its RGB frames and the horizontal and vertical
// components of its optical flow.
const (
	FramesDir = "rgb"
	FlowXDir  = "x"
	FlowYDir  = "y"
)

var imagenetMean = []float32{0.485, 0.456, 0.406}
var imagenetStd = []float32{0.229, 0.224, 0.225}

// DefaultTrainTransform crops a random corner at a random scale, flips at random and
// normalizes.
func DefaultTrainTransform(size int, r *rand.Rand) transforms.Transform {
	return transforms.Compose{
		transforms.NewMultiScaleCornerCrop([]float64{1, 0.875, 0.75, 0.65625}, size, r),
		transforms.NewRandomHorizontalFlip(r),
		transforms.ToTensor{},
		transforms.Normalize{Mean: imagenetMean, Std: imagenetStd},
	}
}

// DefaultTestTransform scales, crops the centre and normalizes.
func DefaultTestTransform(size int) transforms.Transform {
	return transforms.Compose{
		transforms.Scale{Size: size * 256 / 224},
		transforms.NewCenterCrop(size),
		transforms.ToTensor{},
		transforms.Normalize{Mean: imagenetMean, Std: imagenetStd},
	}
}

// Sources are the frame directories of a clip. Those an architecture does not read may be
// empty.
type Sources struct {
	Frames       string
	FlowX, FlowY string
}

// SourcesOf lays the sources out under dir.
func SourcesOf(dir string) Sources {
	return Sources{
		Frames: filepath.Join(dir, FramesDir),
		FlowX:  filepath.Join(dir, FlowXDir),
		FlowY:  filepath.Join(dir, FlowYDir),
	}
}

// LoadExample loads the inputs arch needs from src, SeqLen frames each. tf is randomized once,
// so the RGB frames and the flow of the clip get the same crop and flip.
func LoadExample(src Sources, label int, arch nets.Arch, conf nets.Config, tf transforms.Transform) (Example, error) {
	ex := Example{Label: label}
	tf.RandomizeParameters()
	tf = transforms.Held{T: tf}
	if arch != nets.Colorize {
		t, err := clip.LoadRGB(src.Frames, conf.SeqLen, tf)
		if err != nil {
			return ex, err
		}
		ex.Frames = t.Data().([]float32)
	}
	if arch != nets.Attention {
		t, err := clip.LoadFlow(src.FlowX, src.FlowY, conf.SeqLen, tf)
		if err != nil {
			return ex, err
		}
		ex.Flow = t.Data().([]float32)
	}
	if _, err := inputsOf(arch, conf, ex); err != nil {
		return ex, errors.WithMessagef(err, "loading %+v", src)
	}
	return ex, nil
}

// LoadExamples loads every clip of a root/<class>/<clip> layout (see clip.Scan). It returns
// the class names too.
func LoadExamples(root string, arch nets.Arch, conf nets.Config, tf transforms.Transform) (classes []string, examples []Example, err error) {
	classes, clips, err := clip.Scan(root)
	if err != nil {
		return nil, nil, err
	}
	if len(classes) != conf.Classes {
		return nil, nil, errors.Errorf("%v holds %d classes, the network has %d", root, len(classes), conf.Classes)
	}
	examples = make([]Example, 0, len(clips))
	for i, c := range clips {
		ex, err := LoadExample(SourcesOf(c.Dir), c.Label, arch, conf, tf)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "clip %v", c.Dir)
		}
		examples = append(examples, ex)
		if (i+1)%100 == 0 {
			log.Printf("Loaded %d of %d clips", i+1, len(clips))
		}
	}
	return classes, examples, nil
}
