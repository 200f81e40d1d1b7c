package nets

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// backbone holds the outputs of a residual network.
type backbone struct {
	logits   *G.Node // (N, K)
	features *G.Node // (N, C, h, w) after the last ReLU
	preact   *G.Node // (N, C, h, w) before the last ReLU
	fc       string  // name of the classifier layer
}

// resnet builds a residual network of basic blocks over a (N, C, H, W) input. Parameter names
// follow the torchvision layout under prefix.
func (b *builder) resnet(input *G.Node, conf Config, prefix string) (retVal backbone) {
	x := b.conv(input, conf.Filters[0], 7, 2, 3, prefix+"conv1")
	x = b.rectify(b.batchnorm(x, prefix+"bn1"))
	x = b.maxpool(x, 3, 2, 1, prefix+"maxpool")

	var pre *G.Node
	for stage, blocks := range conf.Blocks {
		for i := 0; i < blocks; i++ {
			stride := 1
			if stage > 0 && i == 0 {
				stride = 2
			}
			x, pre = b.basicBlock(x, conf.Filters[stage], stride, fmt.Sprintf("%slayer%d.%d.", prefix, stage+1, i))
		}
	}
	retVal.features = x
	retVal.preact = pre
	retVal.fc = prefix + "fc"
	retVal.logits = b.linear(b.avgpool(x, prefix+"avgpool"), conf.Classes, retVal.fc)
	return retVal
}

func (b *builder) basicBlock(input *G.Node, filters, stride int, name string) (out, pre *G.Node) {
	if b.err != nil {
		return nil, nil
	}
	x := b.conv(input, filters, 3, stride, 1, name+"conv1")
	x = b.rectify(b.batchnorm(x, name+"bn1"))
	x = b.conv(x, filters, 3, 1, 1, name+"conv2")
	x = b.batchnorm(x, name+"bn2")

	shortcut := input
	if stride != 1 || input.Shape()[1] != filters {
		shortcut = b.conv(input, filters, 1, stride, 0, name+"downsample.0")
		shortcut = b.batchnorm(shortcut, name+"downsample.1")
	}
	pre = b.do(func() (*G.Node, error) { return G.Add(x, shortcut) })
	pre = b.record(pre, name+"add", "add", x, shortcut)
	return b.rectify(pre), pre
}
