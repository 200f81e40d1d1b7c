package nets

import (
	"bytes"
	"encoding/gob"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/vidattn/checkpoint"
)

func tinyConf() Config {
	conf := DefaultConf(3)
	conf.MemSize = 4
	conf.Blocks = [4]int{1, 1, 1, 1}
	conf.Filters = [4]int{4, 4, 8, 8}
	conf.BatchSize = 2
	conf.SeqLen = 2
	conf.Width, conf.Height = 64, 64
	return conf
}

func random(size int) []float32 { return G.Uniform(-1, 1)(tensor.Float32, size).([]float32) }

func TestArch(t *testing.T) {
	for a := Attention; a < MAXARCH; a++ {
		got, err := ParseArch(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseArch("resnet")
	assert.Error(t, err)
}

func TestSanity(t *testing.T) {
	tests := []struct {
		arch    Arch
		inputs  int
		has     []string
		trained []string
		frozen  []string
	}{
		{Attention, 1,
			[]string{"resNet.layer4.0.downsample.0.weight", "lstm_cell.conv_i_xx.bias", "classifier.1.weight"},
			[]string{"resNet.fc.weight", "lstm_cell.conv_o_hh.weight"},
			[]string{"resNet.fc.bias"}},
		{FlowAttention, 2,
			[]string{"flowResNet.conv1.weight", "resNetRGB.layer1.0.bn2.bias"},
			[]string{"flowResNet.fc.weight", "resNetRGB.layer4.0.bn2.weight"},
			[]string{"flowResNet.fc.bias", "resNetRGB.fc.weight"}},
		{TwoStream, 2,
			[]string{"flowModel.flowResNet.conv1.weight", "frameModel.resNet.conv1.weight", "fc2.weight"},
			[]string{"fc2.bias", "frameModel.lstm_cell.conv_f_xx.weight"},
			[]string{"flowModel.classifier.1.weight", "frameModel.classifier.1.bias"}},
		{Colorize, 1,
			[]string{"conv1.weight", "residual_block.3.conv2.bias", "upS.1.weight", "RGBnet.resNet.conv1.weight"},
			[]string{"conv2.weight", "RGBnet.classifier.1.weight"},
			[]string{"RGBnet.resNet.fc.bias"}},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			n := New(tt.arch, tinyConf())
			if err := n.Init(); err != nil {
				t.Fatalf("%+v", err)
			}
			assert.Len(t, n.Inputs(), tt.inputs)

			names := n.Names()
			assert.Len(t, names, len(n.Model()))
			trained := make(map[*G.Node]bool)
			for _, l := range n.Learnables() {
				trained[l] = true
			}
			byName := make(map[string]*G.Node)
			for i, node := range n.Model() {
				byName[names[i]] = node
			}
			for _, name := range append(append(tt.has, tt.trained...), tt.frozen...) {
				assert.Contains(t, byName, name)
			}
			for _, name := range tt.trained {
				assert.True(t, trained[byName[name]], "%v should be trained", name)
			}
			for _, name := range tt.frozen {
				assert.False(t, trained[byName[name]], "%v should be frozen", name)
			}
			runtime.GC()
		})
	}
}

func TestConfigValidity(t *testing.T) {
	assert.True(t, DefaultConf(61).IsValid())
	assert.True(t, tinyConf().IsValid())

	broken := []func(*Config){
		func(c *Config) { c.Classes = 1 },
		func(c *Config) { c.Blocks[2] = 0 },
		func(c *Config) { c.Dropout = 1 },
		func(c *Config) { c.Width = 16 },
		func(c *Config) { c.SeqLen = 0 },
	}
	for i, br := range broken {
		conf := tinyConf()
		br(&conf)
		assert.False(t, conf.IsValid(), "case %d", i)
		assert.Error(t, New(Attention, conf).Init(), "case %d", i)
	}
}

func TestNoAttention(t *testing.T) {
	conf := tinyConf()
	conf.Attention = false
	n := New(FlowAttention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	for i, name := range n.Names() {
		if strings.HasPrefix(name, "resNetRGB.") || strings.HasPrefix(name, "flowResNet.fc.") {
			assert.NotContains(t, n.Learnables(), n.Model()[i], name)
		}
	}
	assert.Nil(t, n.AttentionMap())
}

func TestInferenceSanity(t *testing.T) {
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	inferer, err := Infer(n, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer inferer.Close()

	probs, err := inferer.Infer(random(conf.clipSize(conf.Channels)))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Len(t, probs, 1)
	require.Len(t, probs[0], conf.Classes)
	var sum float32
	for _, p := range probs[0] {
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-4)

	att := inferer.Net().AttentionMap()
	require.NotNil(t, att)
	assert.Equal(t, []int{conf.SeqLen * conf.BatchSize, 1, 2, 2}, []int(att.Shape()))
	data := att.Data().([]float32)
	for i := 0; i < len(data); i += 4 {
		assert.InDelta(t, 1, data[i]+data[i+1]+data[i+2]+data[i+3], 1e-4)
	}

	_, err = inferer.Infer(random(3))
	assert.Error(t, err)
	_, err = inferer.Infer(random(conf.clipSize(conf.Channels)), random(conf.clipSize(conf.Channels)))
	assert.Error(t, err)
}

func TestInferenceSlotIndependence(t *testing.T) {
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	inferer, err := Infer(n, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer inferer.Close()

	size := conf.clipSize(conf.Channels)
	a, b := random(size), random(size)
	ab, err := inferer.Infer(append(append([]float32(nil), a...), b...))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ba, err := inferer.Infer(append(append([]float32(nil), b...), a...))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDeltaSlice(t, ab[0], ba[1], 1e-4)
	assert.InDeltaSlice(t, ab[1], ba[0], 1e-4)
}

func TestBatchnormLayout(t *testing.T) {
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	s, err := n.State()
	require.NoError(t, err)
	assert.Equal(t, []int{conf.Filters[0]}, []int(s["resNet.bn1.weight"].Shape()))
	assert.Equal(t, []int{conf.Filters[0]}, []int(s["resNet.bn1.bias"].Shape()))
	assert.Equal(t, []int{conf.Classes}, []int(s["classifier.1.bias"].Shape()))
	for _, v := range s["resNet.bn1.weight"].Data().([]float32) {
		assert.Equal(t, float32(1), v)
	}

	// checkpoints do not depend on the batch size
	conf.BatchSize = 1
	n2 := New(Attention, conf)
	if err := n2.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	loaded, err := n2.Load(s)
	require.NoError(t, err)
	assert.Equal(t, len(s), loaded)
}

func TestInferencer_ExecLog(t *testing.T) {
	n := New(Attention, tinyConf())
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	inferer, err := Infer(n, false)
	if err != nil {
		t.Fatal(err)
	}
	defer inferer.Close()

	if inferer.ExecLog() != "" {
		t.Error("Should not have any logs")
	}
}

func TestColorize(t *testing.T) {
	conf := tinyConf()
	n, err := NewColorize(conf, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	inferer, err := Infer(n, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer inferer.Close()

	flow := random(2 * conf.clipSize(conf.FlowChannels))
	probs, err := inferer.Infer(flow)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Len(t, probs, 2)
	colors := inferer.Net().Colors()
	require.NotNil(t, colors)
	assert.Equal(t, []int{conf.SeqLen * conf.BatchSize, conf.Channels, conf.Height, conf.Width}, []int(colors.Shape()))
}

func TestTrain(t *testing.T) {
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	batches := 2
	clips := batches * conf.BatchSize
	Xs := tensor.New(tensor.WithShape(clips, conf.SeqLen, conf.Channels, conf.Height, conf.Width), tensor.WithBacking(random(clips*conf.clipSize(conf.Channels))))
	labels := tensor.New(tensor.WithShape(clips, conf.Classes), tensor.Of(tensor.Float32))
	for i := 0; i < clips; i++ {
		labels.SetAt(float32(1), i, i%conf.Classes)
	}

	before, err := n.State()
	require.NoError(t, err)
	cost, err := Train(n, []*tensor.Dense{Xs}, labels, batches, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.False(t, math.IsNaN(float64(cost)))
	assert.True(t, cost > 0)

	after, err := n.State()
	require.NoError(t, err)
	assert.NotEqual(t, before["lstm_cell.conv_i_xx.weight"].Data(), after["lstm_cell.conv_i_xx.weight"].Data())
	assert.Equal(t, before["resNet.fc.bias"].Data(), after["resNet.fc.bias"].Data(), "frozen parameters must not move")

	_, err = Train(n, nil, labels, batches, 1)
	assert.Error(t, err)
}

// weightGrad is a parameter with a fixed gradient.
type weightGrad struct{ w, g *tensor.Dense }

func (p weightGrad) Value() G.Value         { return p.w }
func (p weightGrad) Grad() (G.Value, error) { return p.g, nil }

func TestSolverOpts(t *testing.T) {
	conf := tinyConf()
	conf.BatchSize = 4
	conf.LearnRate = 0.5
	conf.L2 = 0
	p := weightGrad{
		w: tensor.New(tensor.WithBacking([]float32{0, 0})),
		g: tensor.New(tensor.WithBacking([]float32{1, -2})),
	}
	solver := G.NewVanillaSolver(solverOpts(conf)...)
	require.NoError(t, solver.Step([]G.ValueGrad{p}))
	assert.InDeltaSlice(t, []float32{-0.5, 1}, p.w.Data(), 1e-6, "the gradient of a batch mean is not divided by the batch size again")
}

func TestInferencePadding(t *testing.T) {
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	s, err := n.State()
	require.NoError(t, err)
	conf.BatchSize = 4
	wide := New(Attention, conf)
	if err := wide.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	_, err = wide.Load(s)
	require.NoError(t, err)

	narrowInf, err := Infer(n, false)
	require.NoError(t, err)
	defer narrowInf.Close()
	wideInf, err := Infer(wide, false)
	require.NoError(t, err)
	defer wideInf.Close()

	clips := random(2 * conf.clipSize(conf.Channels))
	want, err := narrowInf.Infer(clips)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := wideInf.Infer(clips)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Len(t, got, 2)
	for i := range want {
		assert.InDeltaSlice(t, want[i], got[i], 1e-4, "clip %d", i)
	}

	_, err = wideInf.Infer(nil)
	assert.Error(t, err)
}

func TestTimeMajor(t *testing.T) {
	backing := make([]float32, 6)
	for b := 0; b < 2; b++ {
		for f := 0; f < 3; f++ {
			backing[b*3+f] = float32(10*b + f)
		}
	}
	clips := tensor.New(tensor.WithShape(2, 3, 1, 1, 1), tensor.WithBacking(backing))
	batch, err := timeMajor(clips)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 1, 1, 1}, []int(batch.Shape()))
	assert.Equal(t, []float32{0, 10, 1, 11, 2, 12}, batch.Data())
	assert.Equal(t, []float32{0, 1, 2, 10, 11, 12}, clips.Data(), "input must not change")
}

func TestShuffleBatch(t *testing.T) {
	Xs := tensor.New(tensor.WithShape(5, 1, 1, 1, 2), tensor.WithBacking([]float32{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}))
	labels := tensor.New(tensor.WithShape(5, 5), tensor.Of(tensor.Float32))
	for i := 0; i < 5; i++ {
		labels.SetAt(float32(1), i, i)
	}
	if err := shuffleBatch([]*tensor.Dense{Xs}, labels); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []int{5, 1, 1, 1, 2}, []int(Xs.Shape()))
	assert.Equal(t, []int{5, 5}, []int(labels.Shape()))

	xs := Xs.Data().([]float32)
	ys := labels.Data().([]float32)
	for i := 0; i < 5; i++ {
		class := int(xs[2*i])
		assert.Equal(t, float32(1), ys[i*5+class], "row %d moved apart from its label", i)
	}
}

func TestEncodeDecode(t *testing.T) {
	assert := assert.New(t)
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		t.Fatalf("Encoding Failure %v", err)
	}
	n2 := New(Attention, conf)
	if err := gob.NewDecoder(&buf).Decode(n2); err != nil {
		t.Fatalf("Decoding Failure %+v", err)
	}

	model, model2 := n.Model(), n2.Model()
	for i, node := range model {
		assert.Equal(node.Value().Data(), model2[i].Value().Data(), "%d - %v should have the same data", i, n.Names()[i])
	}
}

func TestStateLayout(t *testing.T) {
	conf := tinyConf()
	n := New(Attention, conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	s, err := n.State()
	require.NoError(t, err)
	assert.Equal(t, []int{conf.Classes, conf.MemSize}, []int(s["classifier.1.weight"].Shape()))

	w := n.b.node("classifier.1.weight").Value().Data().([]float32)
	assert.Equal(t, w[1], s["classifier.1.weight"].Data().([]float32)[conf.MemSize], "(in, out) is stored (out, in)")

	clone, err := n.Clone()
	require.NoError(t, err)
	loaded, err := clone.Load(s)
	require.NoError(t, err)
	assert.Equal(t, len(s), loaded)
	assert.Equal(t, w, clone.b.node("classifier.1.weight").Value().Data())
}

func TestNewFlowAttention(t *testing.T) {
	conf := tinyConf()
	_, err := NewFlowAttention(conf, "", "")
	assert.Equal(t, ErrNoRGBCheckpoint, errors.Cause(err))

	rgb, err := NewAttention(conf, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	s, err := rgb.State()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "rgb.gob")
	require.NoError(t, checkpoint.Save(path, s))

	n, err := NewFlowAttention(conf, path, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := n.State()
	require.NoError(t, err)
	assert.Equal(t, s["resNet.conv1.weight"].Data(), got["resNetRGB.conv1.weight"].Data())
	assert.Equal(t, s["resNet.fc.weight"].Data(), got["resNetRGB.fc.weight"].Data())
	assert.NotContains(t, got, "resNet.conv1.weight")

	_, err = NewFlowAttention(conf, filepath.Join(t.TempDir(), "missing.gob"), "")
	assert.Error(t, err)
}

func TestNewTwoStream(t *testing.T) {
	conf := tinyConf()
	frame, err := NewAttention(conf, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	s, err := frame.State()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "frame.gob")
	require.NoError(t, checkpoint.Save(path, s))

	n, err := NewTwoStream(conf, "", path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := n.State()
	require.NoError(t, err)
	assert.Equal(t, s["lstm_cell.conv_c_hh.weight"].Data(), got["frameModel.lstm_cell.conv_c_hh.weight"].Data())
}

func TestToDot(t *testing.T) {
	n := New(FlowAttention, tinyConf())
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	dot, err := ToDot(n)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dot, "digraph G"))
	assert.Contains(t, dot, "cluster_flowResNet")
	assert.Contains(t, dot, "lstm_cell.cell")
	assert.Contains(t, dot, "lightgrey")

	_, err = ToDot(New(Attention, tinyConf()))
	assert.Error(t, err)
}

func TestInterpolation(t *testing.T) {
	tests := []struct{ in, out int }{{15, 64}, {2, 4}, {7, 7}, {8, 3}}
	for _, tt := range tests {
		m := interpolation(tt.in, tt.out)
		for o := 0; o < tt.out; o++ {
			var sum float32
			for i := 0; i < tt.in; i++ {
				sum += m[i*tt.out+o]
			}
			assert.InDelta(t, 1, sum, 1e-5, "%v column %d", tt, o)
		}
	}

	identity := interpolation(3, 3)
	assert.Equal(t, []float32{1, 0, 0, 0, 1, 0, 0, 0, 1}, identity)

	// doubling: output 1 sits a quarter of the way from input 0 to input 1
	double := interpolation(2, 4)
	assert.InDelta(t, 0.75, double[0*4+1], 1e-6)
	assert.InDelta(t, 0.25, double[1*4+1], 1e-6)
}
