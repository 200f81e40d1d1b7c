package nets

// Config configures the neural network
type Config struct {
	Classes   int     // number of action classes
	MemSize   int     // hidden channels of the ConvLSTM
	Blocks    [4]int  // residual blocks per stage
	Filters   [4]int  // filters per stage
	Attention bool    // gate the recurrent input with the class activation map
	Dropout   float64 // dropout before the classifier
	LearnRate float64 // Adam learn rate
	L2        float64 // L2 regularization

	BatchSize     int // clips per batch
	SeqLen        int // frames per clip
	Width, Height int // frame size
	Channels      int // channels of an RGB frame
	FlowChannels  int // channels of a flow frame

	FwdOnly bool // is this a fwd only graph?
}

// DefaultConf is a ResNet-34 backbone over 224×224 frames with a 512 channel memory.
func DefaultConf(classes int) Config {
	return Config{
		Classes:   classes,
		MemSize:   512,
		Blocks:    [4]int{3, 4, 6, 3},
		Filters:   [4]int{64, 128, 256, 512},
		Attention: true,
		Dropout:   0.7,
		LearnRate: 1e-4,

		BatchSize:    32,
		SeqLen:       25,
		Width:        224,
		Height:       224,
		Channels:     3,
		FlowChannels: 2,
	}
}

// minSide is the smallest frame edge the backbone reduces to at least one position.
const minSide = 32

func (conf Config) IsValid() bool {
	for i := range conf.Blocks {
		if conf.Blocks[i] < 1 || conf.Filters[i] < 1 {
			return false
		}
	}
	return conf.Classes >= 2 &&
		conf.MemSize >= 1 &&
		conf.Dropout >= 0 && conf.Dropout < 1 &&
		conf.BatchSize >= 1 &&
		conf.SeqLen >= 1 &&
		conf.Width >= minSide && conf.Height >= minSide &&
		conf.Channels > 0 &&
		conf.FlowChannels > 0
}

// clipSize is the number of values in one clip of c channel frames.
func (conf Config) clipSize(c int) int { return conf.SeqLen * c * conf.Height * conf.Width }
