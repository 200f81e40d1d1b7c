package nets

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var gates = [4]string{"i", "f", "c", "o"}

// convLSTM is a convolutional LSTM cell. Every gate convolves the input (with a bias) and the
// hidden state (without one).
type convLSTM struct {
	xx, xb, hh [4]*G.Node
	size       int
}

func (b *builder) convLSTM(channels, mem, size int, name string) *convLSTM {
	cell := &convLSTM{size: size}
	for i, g := range gates {
		xx := fmt.Sprintf("%sconv_%s_xx", name, g)
		cell.xx[i] = b.filter(xx, mem, channels, size)
		cell.xb[i] = b.channelParam(xx+".bias", mem, G.Zeroes())
		cell.hh[i] = b.filter(fmt.Sprintf("%sconv_%s_hh", name, g), mem, mem, size)
	}
	return cell
}

// step advances the cell by one batch of frames x from the state (h, c).
func (b *builder) step(cell *convLSTM, x, h, c *G.Node) (*G.Node, *G.Node) {
	pad := cell.size / 2
	var pre [4]*G.Node
	for i := range gates {
		xx := b.addBias(b.convolve(x, cell.xx[i], cell.size, 1, pad), cell.xb[i])
		hh := b.convolve(h, cell.hh[i], cell.size, 1, pad)
		pre[i] = b.do(func() (*G.Node, error) { return G.Add(xx, hh) })
	}
	in := b.do(func() (*G.Node, error) { return G.Sigmoid(pre[0]) })
	forget := b.do(func() (*G.Node, error) { return G.Sigmoid(pre[1]) })
	cand := b.do(func() (*G.Node, error) { return G.Tanh(pre[2]) })
	out := b.do(func() (*G.Node, error) { return G.Sigmoid(pre[3]) })

	kept := b.do(func() (*G.Node, error) { return G.HadamardProd(forget, c) })
	added := b.do(func() (*G.Node, error) { return G.HadamardProd(in, cand) })
	c = b.do(func() (*G.Node, error) { return G.Add(kept, added) })
	squashed := b.do(func() (*G.Node, error) { return G.Tanh(c) })
	h = b.do(func() (*G.Node, error) { return G.HadamardProd(out, squashed) })
	return h, c
}

// recur runs a ConvLSTM over time major features (T*B, C, h, w), starting from a zero state, and
// returns the final cell state averaged over its positions, (B, M).
func (b *builder) recur(feats *G.Node, conf Config, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	s := feats.Shape()
	c, h, w := s[1], s[2], s[3]
	cell := b.convLSTM(c, conf.MemSize, 3, name)
	seq := b.reshape(feats, tensor.Shape{conf.SeqLen, conf.BatchSize, c, h, w})

	state := tensor.Shape{conf.BatchSize, conf.MemSize, h, w}
	hidden, mem := b.zeros(state, name+"h0"), b.zeros(state, name+"c0")
	for t := 0; t < conf.SeqLen; t++ {
		x := b.do(func() (*G.Node, error) { return G.Slice(seq, G.S(t)) })
		hidden, mem = b.step(cell, x, hidden, mem)
	}
	b.record(mem, name+"cell", "convlstm", feats)
	return b.avgpool(mem, name+"avgpool")
}
