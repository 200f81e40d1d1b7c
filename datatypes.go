package vidattn

import (
	"io"

	"github.com/gorgonia/vidattn/encoding"
	"github.com/gorgonia/vidattn/nets"
	"github.com/gorgonia/vidattn/transforms"
	"gorgonia.org/tensor"
)

type Config struct {
	Name        string
	Arch        nets.Arch
	NNConf      nets.Config
	MaxExamples int // maximum number of examples trained on per epoch
	Inferers    int // inferencers used to evaluate, 0 means one per CPU

	// extensions
	TrainTransform transforms.Transform
	TestTransform  transforms.Transform
	OutputEncoder  OutputEncoder
}

// OutputEncoder encodes colorization passes as whatever.
//
// Examples are the jpeg Dumper and the GifEncoder.
type OutputEncoder interface {
	Encode(c encoding.Colorized) error
	Flush() error
}

// Example is a labelled clip. Frames and Flow are flat (SeqLen, C, H, W) buffers; the one an
// architecture does not use may be nil.
type Example struct {
	Frames []float32
	Flow   []float32
	Label  int
}

// Inferer is anything that can classify a batch of clips given an input.
type Inferer interface {
	Infer(inputs ...[]float32) (probs [][]float32, err error)
	io.Closer
}

// ExecLogger is anything that can return the execution log.
type ExecLogger interface {
	ExecLog() string
}

// Colorizer is an Inferer that also colorizes its flow input. Both tensors are time major and
// only valid until the next inference.
type Colorizer interface {
	Colors() (input, colors *tensor.Dense)
}
