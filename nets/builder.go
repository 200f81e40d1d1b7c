package nets

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// param is a named parameter of a network.
type param struct {
	name   string
	node   *G.Node
	linear bool // stored (in, out), checkpoints hold (out, in)
	vector bool // stored (1, C, ...), checkpoints hold (C)
	frozen bool // not trained
}

// layer is a node of the architecture dump.
type layer struct {
	name, kind string
	shape      tensor.Shape
	from       []string
}

// builder builds layers on one graph and records their parameters and topology.
type builder struct {
	maebe
	g       *G.ExprGraph
	fwdOnly bool

	params []*param
	byName map[string]*param

	layers []layer
	origin map[*G.Node]string

	attention []*G.Node // attention maps, in build order

	affine map[string][2]*G.Node // identity scale and shift of batchnorms, by input shape
}

func newBuilder(g *G.ExprGraph, fwdOnly bool) *builder {
	return &builder{
		g:       g,
		fwdOnly: fwdOnly,
		byName:  make(map[string]*param),
		origin:  make(map[*G.Node]string),
		affine:  make(map[string][2]*G.Node),
	}
}

func (b *builder) register(name string, n *G.Node) *param {
	if b.err != nil {
		return nil
	}
	if _, ok := b.byName[name]; ok {
		b.err = errors.Errorf("parameter %q declared twice", name)
		return nil
	}
	p := &param{name: name, node: n}
	b.params = append(b.params, p)
	b.byName[name] = p
	return p
}

func (b *builder) param(name string, shape tensor.Shape, init G.InitWFn) *G.Node {
	if b.err != nil {
		return nil
	}
	n := G.NewTensor(b.g, Float, shape.Dims(), G.WithShape(shape...), G.WithName(name), G.WithInit(init))
	b.register(name, n)
	return n
}

// node returns the parameter called name.
func (b *builder) node(name string) *G.Node {
	if b.err != nil {
		return nil
	}
	p, ok := b.byName[name]
	if !ok {
		b.err = errors.Errorf("no parameter %q", name)
		return nil
	}
	return p.node
}

// freeze excludes every parameter whose name starts with prefix from training.
func (b *builder) freeze(prefix string) {
	for _, p := range b.params {
		if strings.HasPrefix(p.name, prefix) {
			p.frozen = true
		}
	}
}

func (b *builder) input(name string, shape tensor.Shape) *G.Node {
	n := G.NewTensor(b.g, Float, shape.Dims(), G.WithShape(shape...), G.WithName(name))
	return b.record(n, name, "input")
}

// record adds a layer producing out from ins to the topology.
func (b *builder) record(out *G.Node, name, kind string, ins ...*G.Node) *G.Node {
	if b.err != nil || out == nil {
		return out
	}
	l := layer{name: name, kind: kind, shape: out.Shape().Clone()}
	seen := make(map[string]bool)
	for _, in := range ins {
		from, ok := b.origin[in]
		if !ok && len(b.layers) > 0 {
			from = b.layers[len(b.layers)-1].name
		}
		if from != "" && !seen[from] {
			seen[from] = true
			l.from = append(l.from, from)
		}
	}
	b.layers = append(b.layers, l)
	b.origin[out] = name
	return out
}

// pass marks out as coming from the same layer as in.
func (b *builder) pass(out, in *G.Node) *G.Node {
	if out != nil {
		if from, ok := b.origin[in]; ok {
			b.origin[out] = from
		}
	}
	return out
}

func (b *builder) filter(name string, filters, channels, size int) *G.Node {
	return b.param(name+".weight", tensor.Shape{filters, channels, size, size}, G.GlorotU(1.0))
}

func (b *builder) convolve(input, filter *G.Node, size, stride, pad int) (retVal *G.Node) {
	if b.err != nil {
		return nil
	}
	if retVal, b.err = nnops.Conv2d(input, filter, []int{size, size}, []int{pad, pad}, []int{stride, stride}, []int{1, 1}); b.err != nil {
		b.err = errors.WithStack(b.err)
	}
	return
}

// conv is a bias free convolution with its own filter.
func (b *builder) conv(input *G.Node, filters, size, stride, pad int, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	filter := b.filter(name, filters, input.Shape()[1], size)
	return b.record(b.convolve(input, filter, size, stride, pad), name, "conv", input)
}

// channelParam is a (1, C, 1, 1) parameter applied to every position of a (N, C, H, W) input.
func (b *builder) channelParam(name string, channels int, init G.InitWFn) *G.Node {
	n := b.param(name, tensor.Shape{1, channels, 1, 1}, init)
	if b.err != nil {
		return nil
	}
	b.byName[name].vector = true
	return n
}

// bias adds a learnt per channel bias to a (N, C, H, W) input.
func (b *builder) bias(input *G.Node, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	bias := b.channelParam(name+".bias", input.Shape()[1], G.Zeroes())
	return b.pass(b.addBias(input, bias), input)
}

func (b *builder) addBias(input, bias *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.BroadcastAdd(input, bias, nil, []byte{0, 2, 3}) })
}

func (b *builder) scale(input, scale *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(input, scale, nil, []byte{0, 2, 3}) })
}

// batchnorm normalizes every channel of a (N, C, H, W) input over the batch, then scales and
// shifts it per channel.
func (b *builder) batchnorm(input *G.Node, name string) (retVal *G.Node) {
	if b.err != nil {
		return nil
	}
	// gorgonia's own scale and shift span the whole input, so they are pinned to the identity.
	s := input.Shape().Clone()
	affine, ok := b.affine[fmt.Sprint(s)]
	if !ok {
		ones := tensor.New(tensor.Of(Float), tensor.WithShape(s...))
		if err := ones.Memset(float32(1)); err != nil {
			b.err = errors.WithStack(err)
			return nil
		}
		affine = [2]*G.Node{b.fixed(ones, "bn.ones"+fmt.Sprint(s)), b.zeros(s, "bn.zeros"+fmt.Sprint(s))}
		b.affine[fmt.Sprint(s)] = affine
	}
	if retVal, _, _, _, b.err = nnops.BatchNorm(input, affine[0], affine[1], 0.9, 1e-5); b.err != nil {
		b.err = errors.WithStack(b.err)
		return nil
	}
	weight := b.channelParam(name+".weight", s[1], G.Ones())
	bias := b.channelParam(name+".bias", s[1], G.Zeroes())
	retVal = b.addBias(b.scale(retVal, weight), bias)
	return b.record(retVal, name, "batchnorm", input)
}

func (b *builder) rectify(input *G.Node) (retVal *G.Node) {
	if b.err != nil {
		return nil
	}
	if retVal, b.err = nnops.Rectify(input); b.err != nil {
		b.err = errors.WithStack(b.err)
	}
	return b.pass(retVal, input)
}

func (b *builder) leaky(input *G.Node, alpha float64) *G.Node {
	return b.pass(b.do(func() (*G.Node, error) { return G.LeakyRelu(input, alpha) }), input)
}

func (b *builder) maxpool(input *G.Node, size, stride, pad int, name string) (retVal *G.Node) {
	if b.err != nil {
		return nil
	}
	if retVal, b.err = nnops.MaxPool2D(input, []int{size, size}, []int{pad, pad}, []int{stride, stride}); b.err != nil {
		b.err = errors.WithStack(b.err)
		return nil
	}
	return b.record(retVal, name, "maxpool", input)
}

// avgpool averages a (N, C, H, W) input over its positions, giving (N, C).
func (b *builder) avgpool(input *G.Node, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	s := input.Shape()
	flat := b.reshape(input, tensor.Shape{s[0], s[1], s[2] * s[3]})
	pooled := b.do(func() (*G.Node, error) { return G.Mean(flat, 2) })
	return b.record(pooled, name, "avgpool", input)
}

// linear is a fully connected layer. The weight is (in, units), the bias (1, units).
func (b *builder) linear(input *G.Node, units int, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	w := b.param(name+".weight", tensor.Shape{input.Shape()[1], units}, G.GlorotN(1.0))
	if b.err != nil {
		return nil
	}
	b.byName[name+".weight"].linear = true
	bias := b.param(name+".bias", tensor.Shape{1, units}, G.Zeroes())
	if b.err != nil {
		return nil
	}
	b.byName[name+".bias"].vector = true
	xw := b.do(func() (*G.Node, error) { return G.Mul(input, w) })
	out := b.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, bias, nil, []byte{0}) })
	return b.record(out, name, "linear", input)
}

func (b *builder) dropout(input *G.Node, prob float64) *G.Node {
	if b.fwdOnly || prob <= 0 {
		return input
	}
	return b.pass(b.do(func() (*G.Node, error) { return G.Dropout(input, prob) }), input)
}

func (b *builder) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if b.err != nil {
		return nil
	}
	if retVal, b.err = G.Reshape(input, to); b.err != nil {
		b.err = errors.WithStack(b.err)
	}
	return b.pass(retVal, input)
}

// fixed is a named node holding t that is not a parameter of the network.
func (b *builder) fixed(t *tensor.Dense, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	return G.NewTensor(b.g, Float, t.Dims(), G.WithShape(t.Shape()...), G.WithName(name), G.WithValue(t))
}

func (b *builder) zeros(shape tensor.Shape, name string) *G.Node {
	return b.fixed(tensor.New(tensor.Of(Float), tensor.WithShape(shape...)), name)
}

// xent is the mean categorical cross entropy of probabilities against one hot targets.
func (b *builder) xent(probs, target *G.Node) *G.Node {
	logp := b.do(func() (*G.Node, error) { return G.Log(probs) })
	prod := b.do(func() (*G.Node, error) { return G.HadamardProd(target, logp) })
	sum := b.do(func() (*G.Node, error) { return G.Sum(prod, 1) })
	mean := b.do(func() (*G.Node, error) { return G.Mean(sum) })
	return b.do(func() (*G.Node, error) { return G.Neg(mean) })
}
