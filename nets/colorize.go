package nets

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// colorFilters is the width of the colorization trunk.
const colorFilters = 64

// colorize predicts RGB frames (N, Channels, H, W) from time major flow frames (N, F, H, W).
func (b *builder) colorize(flow *G.Node, conf Config, prefix string) *G.Node {
	x := b.conv(flow, colorFilters, 7, 2, 3, prefix+"conv1")
	x = b.leaky(b.batchnorm(x, prefix+"bn1"), 0.01)
	x = b.maxpool(x, 3, 2, 0, prefix+"maxpool")
	for i := 0; i < 4; i++ {
		x = b.colorBlock(x, fmt.Sprintf("%sresidual_block.%d.", prefix, i))
	}
	x = b.conv(x, conf.Channels, 1, 1, 0, prefix+"conv2")
	x = b.upsample(x, conf.Height, conf.Width, prefix+"upS.0")
	return b.conv(x, conf.Channels, 1, 1, 0, prefix+"upS.1")
}

func (b *builder) colorBlock(input *G.Node, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	filters := input.Shape()[1]
	x := b.bias(b.conv(input, filters, 3, 1, 1, name+"conv1"), name+"conv1")
	x = b.leaky(b.batchnorm(x, name+"bn1"), 0.02)
	x = b.bias(b.conv(x, filters, 3, 1, 1, name+"conv2"), name+"conv2")
	x = b.batchnorm(x, name+"bn2")
	sum := b.do(func() (*G.Node, error) { return G.Add(input, x) })
	sum = b.record(sum, name+"add", "add", input, x)
	return b.leaky(sum, 0.02)
}
