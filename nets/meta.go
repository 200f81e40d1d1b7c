package nets

import (
	"bytes"
	"log"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// Train trains n for iterations passes over batches batches and returns the mean cost of the
// last pass. Xs holds one tensor per input of n, in the order of Inputs, each clip major
// (batches*BatchSize, SeqLen, C, H, W). labels is one hot (batches*BatchSize, Classes). The
// clips are shuffled in place after every pass.
func Train(n *Net, Xs []*tensor.Dense, labels *tensor.Dense, batches, iterations int) (cost float32, err error) {
	inputs := n.Inputs()
	if len(Xs) != len(inputs) {
		return 0, errors.Errorf("%v takes %d inputs, got %d", n.Arch, len(inputs), len(Xs))
	}
	if n.FwdOnly {
		return 0, errors.New("cannot train a forward only network")
	}

	learnables := n.Learnables()
	m := G.NewTapeMachine(n.g, G.BindDualValues(learnables...))
	defer m.Close()
	model := G.NodesToValueGrads(learnables)
	solver := G.NewAdamSolver(solverOpts(n.Config)...)

	var s slicer
	for i := 0; i < iterations; i++ {
		var total float32
		for bat := 0; bat < batches; bat++ {
			batchStart := bat * n.BatchSize
			batchEnd := batchStart + n.BatchSize

			for j, X := range Xs {
				clips := s.Slice(X, sli(batchStart, batchEnd))
				if s.err != nil {
					return 0, s.err
				}
				batch, err := timeMajor(clips)
				if err != nil {
					return 0, err
				}
				if err = G.Let(inputs[j], batch); err != nil {
					return 0, errors.WithStack(err)
				}
			}
			y := s.Slice(labels, sli(batchStart, batchEnd))
			if s.err != nil {
				return 0, s.err
			}
			if err = G.Let(n.labels, y.Materialize()); err != nil {
				return 0, errors.WithStack(err)
			}

			if err = m.RunAll(); err != nil {
				return 0, err
			}
			total += n.Cost()
			if err = solver.Step(model); err != nil {
				return 0, err
			}
			m.Reset()
		}
		cost = total / float32(batches)
		if err = shuffleBatch(Xs, labels); err != nil {
			return cost, err
		}
	}
	return cost, nil
}

// solverOpts configures the solver of conf. The cost is already a batch mean, so gradients are
// not scaled by the batch size again.
func solverOpts(conf Config) []G.SolverOpt {
	opts := []G.SolverOpt{G.WithLearnRate(conf.LearnRate)}
	if conf.L2 > 0 {
		opts = append(opts, G.WithL2Reg(conf.L2))
	}
	return opts
}

// timeMajor turns clip major clips (B, T, C, H, W) into a time major batch (T*B, C, H, W).
func timeMajor(clips *tensor.Dense) (*tensor.Dense, error) {
	s := clips.Shape().Clone()
	if s.Dims() != 5 {
		return nil, errors.Errorf("expected clips of shape (B, T, C, H, W), got %v", s)
	}
	t, err := tensor.Transpose(clips.Materialize(), 1, 0, 2, 3, 4)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	retVal := t.(*tensor.Dense)
	if err = retVal.Reshape(s[0]*s[1], s[2], s[3], s[4]); err != nil {
		return nil, errors.WithStack(err)
	}
	return retVal, nil
}

// shuffleBatch shuffles the clips of every input and their labels alike.
func shuffleBatch(Xs []*tensor.Dense, labels *tensor.Dense) (err error) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	all := append([]*tensor.Dense{labels}, Xs...)
	shapes := make([]tensor.Shape, len(all))
	mats := make([][][]float32, len(all))

	defer func() {
		if r := recover(); r != nil {
			log.Printf("%v", shapes)
			panic(r)
		}
	}()
	for i, t := range all {
		shapes[i] = t.Shape().Clone()
		if err = t.Reshape(as2D(shapes[i])...); err != nil {
			return errors.Wrapf(err, "shuffle batch failed - input %d", i)
		}
		if mats[i], err = native.MatrixF32(t); err != nil {
			return errors.Wrapf(err, "shuffle batch failed - input %d", i)
		}
	}

	tmps := make([][]float32, len(all))
	for k, mat := range mats {
		tmps[k] = make([]float32, len(mat[0]))
	}
	for i := range mats[0] {
		j := r.Intn(i + 1)
		for k, mat := range mats {
			copy(tmps[k], mat[i])
			copy(mat[i], mat[j])
			copy(mat[j], tmps[k])
		}
	}
	for i, t := range all {
		if err = t.Reshape(shapes[i]...); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func as2D(s tensor.Shape) tensor.Shape {
	retVal := tensor.BorrowInts(2)
	retVal[0] = s[0]
	retVal[1] = 1
	for i := 1; i < len(s); i++ {
		retVal[1] *= s[i]
	}
	return retVal
}

// Inferencer is a struct that holds the state for a *Net and a VM. By using an Inferencer struct,
// there is no longer a need to create a VM every time an inference needs to be done.
//
// Batch normalization uses the statistics of the batch being inferred.
type Inferencer struct {
	n *Net
	m G.VM

	clips  []*tensor.Dense // clip major staging, one per input
	inputs G.Nodes
	buf    *bytes.Buffer
}

// Infer takes a trained *Net, and creates an inference data structure such that it'd be easy to infer
func Infer(n *Net, toLog bool) (*Inferencer, error) {
	conf := n.Config
	conf.FwdOnly = true
	retVal := &Inferencer{n: New(n.Arch, conf)}
	if err := retVal.n.Init(); err != nil {
		return nil, err
	}

	infModel := retVal.n.Model()
	for i, node := range n.Model() {
		original := node.Value().Data().([]float32)
		cloned := infModel[i].Value().Data().([]float32)
		copy(cloned, original)
	}

	retVal.inputs = retVal.n.Inputs()
	for _, in := range retVal.inputs {
		s := in.Shape()
		retVal.clips = append(retVal.clips, tensor.New(tensor.WithShape(conf.BatchSize, conf.SeqLen, s[1], s[2], s[3]), tensor.Of(Float)))
	}

	retVal.buf = new(bytes.Buffer)
	if toLog {
		logger := log.New(retVal.buf, "", 0)
		retVal.m = G.NewTapeMachine(retVal.n.g,
			G.WithLogger(logger),
			G.WithWatchlist(),
			G.TraceExec(),
			G.WithValueFmt("%+1.1v"),
			G.WithNaNWatch(),
		)
	} else {
		retVal.m = G.NewTapeMachine(retVal.n.g)
	}
	return retVal, nil
}

// Net returns the forward only network the inferencer runs.
func (m *Inferencer) Net() *Net { return m.n }

// Infer classifies 1 to BatchSize clips. Each argument is one input of the network, in the order
// of Inputs, holding the clips back to back as (T, C, H, W) each. The clips given are repeated
// to fill the batch, which keeps the batch statistics theirs. It returns one row of class
// probabilities per clip given.
func (m *Inferencer) Infer(inputs ...[]float32) (probs [][]float32, err error) {
	if len(inputs) != len(m.clips) {
		return nil, errors.Errorf("%v takes %d inputs, got %d", m.n.Arch, len(m.clips), len(inputs))
	}
	var clips int
	for i, in := range inputs {
		size := m.n.clipSize(m.clips[i].Shape()[2])
		if len(in) == 0 || len(in)%size != 0 || len(in) > size*m.n.BatchSize {
			return nil, errors.Errorf("input %d holds %d values, not 1 to %d clips of %d", i, len(in), m.n.BatchSize, size)
		}
		if i > 0 && len(in)/size != clips {
			return nil, errors.Errorf("input %d holds %d clips, expected %d", i, len(in)/size, clips)
		}
		clips = len(in) / size

		data := m.clips[i].Data().([]float32)
		for n := 0; n < len(data); {
			n += copy(data[n:], in)
		}
		batch, err := timeMajor(m.clips[i])
		if err != nil {
			return nil, err
		}
		if err = G.Let(m.inputs[i], batch); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	m.m.Reset()
	m.buf.Reset()
	if err = m.m.RunAll(); err != nil {
		return nil, err
	}
	for _, row := range m.n.Probs()[:clips] {
		probs = append(probs, append([]float32(nil), row...))
	}
	return probs, nil
}

// Colors returns the flow input and the colorized frames of the last Infer, both time major and
// filled to BatchSize clips. They are nil unless the network colorizes.
func (m *Inferencer) Colors() (input, colors *tensor.Dense) {
	if colors = m.n.Colors(); colors == nil {
		return nil, nil
	}
	return dense(m.inputs[0].Value()), colors
}

// ExecLog returns the execution log. If Infer was called with toLog = false, then it will return an empty string
func (m *Inferencer) ExecLog() string { return m.buf.String() }

// Close implements a closer, because well, a gorgonia VM is a resource.
func (m *Inferencer) Close() error { return m.m.Close() }
