package vidattn

import (
	"bytes"
	"fmt"
	"runtime"

	"github.com/gorgonia/vidattn/nets"
	"github.com/pkg/errors"
)

var numCPU = runtime.NumCPU()

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}

// input is one network input of an example.
type input struct {
	name     string
	channels int
	data     []float32
}

// inputsOf returns the inputs ex feeds to an arch network, in the order of nets.Net.Inputs.
func inputsOf(arch nets.Arch, conf nets.Config, ex Example) ([]input, error) {
	flow := input{"flow", conf.FlowChannels, ex.Flow}
	frames := input{"frames", conf.Channels, ex.Frames}
	var retVal []input
	switch arch {
	case nets.Attention:
		retVal = []input{frames}
	case nets.FlowAttention, nets.TwoStream:
		retVal = []input{flow, frames}
	case nets.Colorize:
		retVal = []input{flow}
	default:
		return nil, errors.Errorf("unknown architecture %v", arch)
	}
	for _, in := range retVal {
		want := conf.SeqLen * in.channels * conf.Height * conf.Width
		if len(in.data) != want {
			return nil, errors.Errorf("%v example has %d %s values, expected %d", arch, len(in.data), in.name, want)
		}
	}
	return retVal, nil
}
