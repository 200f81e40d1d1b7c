// Package nets builds the video classification networks on a gorgonia expression graph: a
// residual backbone, a convolutional LSTM, class activation attention, and the networks made of
// them.
//
// Clips are fed time major. A batch of B clips of T frames is a (T*B, C, H, W) tensor whose row
// t*B + b is frame t of clip b.
package nets

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/vidattn/checkpoint"
)

var Float = G.Float32

// ErrNoRGBCheckpoint is returned when a flow guided network is built without the RGB checkpoint
// its attention target comes from.
var ErrNoRGBCheckpoint = errors.New("no RGB checkpoint provided")

// Arch names a network architecture.
type Arch byte

const (
	Attention     Arch = iota // RGB frames, attention from the same backbone
	FlowAttention             // flow frames attend over RGB features
	TwoStream                 // FlowAttention and Attention fused
	Colorize                  // flow frames colorized and classified by Attention
	MAXARCH
)

func (a Arch) String() string {
	switch a {
	case Attention:
		return "attention"
	case FlowAttention:
		return "flow"
	case TwoStream:
		return "twostream"
	case Colorize:
		return "colorize"
	}
	return "unknown architecture"
}

// ParseArch parses the name of an architecture.
func ParseArch(s string) (Arch, error) {
	for a := Attention; a < MAXARCH; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return MAXARCH, errors.Errorf("unknown architecture %q", s)
}

// Net is a network of one architecture together with its graph.
type Net struct {
	Config
	Arch Arch

	g *G.ExprGraph
	b *builder

	flow, frames *G.Node // inputs, nil when unused
	labels       *G.Node // one hot, (B, K)

	probs, colors, attention  *G.Node
	probsVal, colorsVal, attn G.Value
	cost                      G.Value
}

// New returns a new, uninitialized *Net.
func New(arch Arch, conf Config) *Net {
	return &Net{
		Config: conf,
		Arch:   arch,
	}
}

func (n *Net) Init() error {
	n.reset()
	if !n.IsValid() {
		return errors.Errorf("invalid config %+v", n.Config)
	}
	n.g = G.NewGraph()
	n.b = newBuilder(n.g, n.FwdOnly)
	if err := n.fwd(); err != nil {
		return err
	}
	return n.bwd()
}

func (n *Net) fwd() error {
	b := n.b
	frames := n.SeqLen * n.BatchSize
	if n.Arch != Attention {
		n.flow = b.input("flow", tensor.Shape{frames, n.FlowChannels, n.Height, n.Width})
	}
	if n.Arch != Colorize {
		n.frames = b.input("frames", tensor.Shape{frames, n.Channels, n.Height, n.Width})
	}

	var logits *G.Node
	switch n.Arch {
	case Attention:
		logits, _ = b.attentionModel(n.frames, n.Config, "")
	case FlowAttention:
		logits, _ = b.flowAttentionModel(n.flow, n.frames, n.Config, "")
	case TwoStream:
		logits = b.twoStream(n.flow, n.frames, n.Config)
	case Colorize:
		n.colors = b.colorize(n.flow, n.Config, "")
		logits, _ = b.attentionModel(n.colors, n.Config, "RGBnet.")
	default:
		return errors.Errorf("cannot build %v", n.Arch)
	}

	n.probs = b.do(func() (*G.Node, error) { return G.SoftMax(logits) })
	if b.err != nil {
		return b.err
	}
	G.Read(n.probs, &n.probsVal)
	if n.colors != nil {
		G.Read(n.colors, &n.colorsVal)
	}
	if len(b.attention) > 0 {
		n.attention = b.attention[0]
		G.Read(n.attention, &n.attn)
	}
	return nil
}

func (n *Net) bwd() error {
	if n.FwdOnly {
		return nil
	}
	b := n.b
	n.labels = G.NewMatrix(n.g, Float, G.WithShape(n.BatchSize, n.Classes), G.WithName("labels"))
	cost := b.xent(n.probs, n.labels)
	if b.err != nil {
		return b.err
	}
	G.Read(cost, &n.cost)

	if _, err := G.Grad(cost, n.Learnables()...); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Model returns every parameter of the network, in build order.
func (n *Net) Model() G.Nodes {
	retVal := make(G.Nodes, 0, len(n.b.params))
	for _, p := range n.b.params {
		retVal = append(retVal, p.node)
	}
	return retVal
}

// Learnables returns the parameters that are trained. Classifier layers whose scores only pick
// the attended class are left out.
func (n *Net) Learnables() G.Nodes {
	retVal := make(G.Nodes, 0, len(n.b.params))
	for _, p := range n.b.params {
		if !p.frozen {
			retVal = append(retVal, p.node)
		}
	}
	return retVal
}

// Names returns the parameter names, in the order of Model.
func (n *Net) Names() []string {
	retVal := make([]string, 0, len(n.b.params))
	for _, p := range n.b.params {
		retVal = append(retVal, p.name)
	}
	return retVal
}

// Inputs returns the input nodes: the flow frames, then the RGB frames, whichever are used.
func (n *Net) Inputs() G.Nodes {
	var retVal G.Nodes
	for _, in := range []*G.Node{n.flow, n.frames} {
		if in != nil {
			retVal = append(retVal, in)
		}
	}
	return retVal
}

// Graph returns the expression graph.
func (n *Net) Graph() *G.ExprGraph { return n.g }

// Cost returns the cost of the last training pass.
func (n *Net) Cost() float32 {
	if n.cost == nil {
		return 0
	}
	return n.cost.Data().(float32)
}

// Probs returns the class probabilities of the last pass, one row per clip.
func (n *Net) Probs() [][]float32 {
	if n.probsVal == nil {
		return nil
	}
	data := n.probsVal.Data().([]float32)
	retVal := make([][]float32, n.BatchSize)
	for i := range retVal {
		retVal[i] = data[i*n.Classes : (i+1)*n.Classes]
	}
	return retVal
}

// Colors returns the colorized frames of the last pass, (T*B, Channels, H, W). It is nil for
// every architecture but Colorize.
func (n *Net) Colors() *tensor.Dense { return dense(n.colorsVal) }

// AttentionMap returns the attention map of the last pass, (T*B, 1, h, w), or nil when the
// network does not attend.
func (n *Net) AttentionMap() *tensor.Dense { return dense(n.attn) }

func dense(v G.Value) *tensor.Dense {
	if t, ok := v.(*tensor.Dense); ok {
		return t
	}
	return nil
}

// State returns a copy of the parameters. Linear weights are stored (out, in), biases and
// batchnorm scales as vectors.
func (n *Net) State() (checkpoint.State, error) {
	retVal := make(checkpoint.State, len(n.b.params))
	for _, p := range n.b.params {
		v, ok := p.node.Value().(*tensor.Dense)
		if !ok {
			return nil, errors.Errorf("parameter %q has no value", p.name)
		}
		if p.vector {
			c := v.Clone().(*tensor.Dense)
			if err := c.Reshape(c.Shape().TotalSize()); err != nil {
				return nil, errors.Wrapf(err, "flattening %q", p.name)
			}
			retVal[p.name] = c
			continue
		}
		if !p.linear {
			retVal[p.name] = v.Clone().(*tensor.Dense)
			continue
		}
		t, err := tensor.Transpose(v)
		if err != nil {
			return nil, errors.Wrapf(err, "transposing %q", p.name)
		}
		retVal[p.name] = t.(*tensor.Dense)
	}
	return retVal, nil
}

// Load copies every parameter found in s into the network and reports how many there were.
// Names the network does not have are ignored.
func (n *Net) Load(s checkpoint.State) (loaded int, err error) {
	for _, p := range n.b.params {
		src, ok := s[p.name]
		if !ok {
			continue
		}
		dst, ok := p.node.Value().(*tensor.Dense)
		if !ok {
			return loaded, errors.Errorf("parameter %q has no value", p.name)
		}
		if p.linear && src.Dims() == 2 {
			t, err := tensor.Transpose(src)
			if err != nil {
				return loaded, errors.Wrapf(err, "transposing %q", p.name)
			}
			src = t.(*tensor.Dense)
		}
		if err = checkpoint.Fit(dst, src); err != nil {
			return loaded, errors.Wrapf(err, "parameter %q", p.name)
		}
		loaded++
	}
	return loaded, nil
}

// warmStart loads the parameters of the checkpoint at path whose names start with from, renamed
// to start with to.
func (n *Net) warmStart(path, from, to string) error {
	s, err := checkpoint.Load(path)
	if err != nil {
		return err
	}
	loaded, err := n.Load(s.Filter(from).Rename(from, to))
	if err != nil {
		return errors.Wrapf(err, "warm start from %v", path)
	}
	if loaded == 0 {
		return errors.Errorf("%v holds no parameters under %q", path, from)
	}
	return nil
}

// NewAttention builds an RGB attention network, warm started from the checkpoint at path when
// path is not empty.
func NewAttention(conf Config, path string) (*Net, error) {
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		return nil, err
	}
	if path != "" {
		if err := n.warmStart(path, "", ""); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// NewFlowAttention builds a flow guided attention network. The RGB backbone is taken from the
// "resNet." parameters of the RGB checkpoint, which is required. A flow checkpoint, when
// given, is loaded whole.
func NewFlowAttention(conf Config, rgbCheckpoint, flowCheckpoint string) (*Net, error) {
	if rgbCheckpoint == "" {
		return nil, ErrNoRGBCheckpoint
	}
	n := New(FlowAttention, conf)
	if err := n.Init(); err != nil {
		return nil, err
	}
	if err := n.warmStart(rgbCheckpoint, "resNet.", "resNetRGB."); err != nil {
		return nil, err
	}
	if flowCheckpoint != "" {
		if err := n.warmStart(flowCheckpoint, "", ""); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// NewTwoStream builds the fused network. The flow checkpoint (of a FlowAttention network) and
// the frame checkpoint (of an Attention network) are optional.
func NewTwoStream(conf Config, flowCheckpoint, frameCheckpoint string) (*Net, error) {
	n := New(TwoStream, conf)
	if err := n.Init(); err != nil {
		return nil, err
	}
	if flowCheckpoint != "" {
		if err := n.warmStart(flowCheckpoint, "", "flowModel."); err != nil {
			return nil, err
		}
	}
	if frameCheckpoint != "" {
		if err := n.warmStart(frameCheckpoint, "", "frameModel."); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// NewColorize builds the colorization network. The downstream classifier can be warm started
// from the checkpoint of an Attention network.
func NewColorize(conf Config, rgbCheckpoint string) (*Net, error) {
	n := New(Colorize, conf)
	if err := n.Init(); err != nil {
		return nil, err
	}
	if rgbCheckpoint != "" {
		if err := n.warmStart(rgbCheckpoint, "", "RGBnet."); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Net) Clone() (*Net, error) {
	n2 := New(n.Arch, n.Config)
	if err := n2.Init(); err != nil {
		return nil, err
	}

	model := n.Model()
	model2 := n2.Model()
	for i, node := range model {
		v := node.Value().(*tensor.Dense).Clone().(*tensor.Dense)
		if err := G.Let(model2[i], v); err != nil {
			return nil, err
		}
	}
	return n2, nil
}

func (n *Net) reset() {
	n.g = nil
	n.b = nil
	n.flow = nil
	n.frames = nil
	n.labels = nil
	n.probs = nil
	n.colors = nil
	n.attention = nil
}

func (n *Net) GobEncode() (retVal []byte, err error) {
	s, err := n.State()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// GobDecode expects the Arch and Config to be set already.
func (n *Net) GobDecode(p []byte) error {
	if err := n.Init(); err != nil {
		return err
	}
	var s checkpoint.State
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&s); err != nil {
		return errors.WithStack(err)
	}
	_, err := n.Load(s)
	return err
}
