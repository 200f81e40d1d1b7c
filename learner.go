// Package vidattn classifies actions in video clips with attention gated convolutional
// recurrent networks.
//
// A Learner trains a network on labelled clips epoch by epoch, evaluating it on held out clips
// after every epoch. A Classifier serves a trained network.
package vidattn

import (
	"bytes"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gorgonia/vidattn/checkpoint"
	"github.com/gorgonia/vidattn/nets"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Learner is the top level structure and the entry point of the API. It trains a network and
// keeps track of how well it does.
type Learner struct {
	// state
	Statistics
	NN *nets.Net

	r      *rand.Rand
	buf    bytes.Buffer
	logger *log.Logger
	epoch  int

	// config
	name        string
	arch        nets.Arch
	nnConf      nets.Config
	maxExamples int
	inferers    int

	// io
	outEnc OutputEncoder
}

// New creates a Learner training nn, which must have been built with conf.Arch and
// conf.NNConf. A nil nn is replaced by a freshly initialized network.
func New(conf Config, nn *nets.Net, classes []string) (*Learner, error) {
	if !conf.NNConf.IsValid() {
		return nil, errors.Errorf("NNConf is not valid: %+v", conf.NNConf)
	}
	if nn == nil {
		nn = nets.New(conf.Arch, conf.NNConf)
		if err := nn.Init(); err != nil {
			return nil, err
		}
	}
	if nn.Arch != conf.Arch {
		return nil, errors.Errorf("network is %v, expected %v", nn.Arch, conf.Arch)
	}
	name := conf.Name
	if name == "" {
		name = "UNNAMED"
	}
	retVal := &Learner{
		Statistics:  makeStatistics(classes),
		NN:          nn,
		r:           rand.New(rand.NewSource(time.Now().UnixNano())),
		name:        name,
		arch:        conf.Arch,
		nnConf:      conf.NNConf,
		maxExamples: conf.MaxExamples,
		inferers:    conf.Inferers,
		outEnc:      conf.OutputEncoder,
	}
	retVal.logger = log.New(&retVal.buf, "", log.Ltime)
	return retVal, nil
}

// Learn trains on train for epochs, making iters passes over the examples every epoch. After
// every epoch the network classifies test, if any, and the results go to the Statistics.
// train is shuffled in place.
func (l *Learner) Learn(train, test []Example, epochs, iters int) error {
	for l.epoch = 0; l.epoch < epochs; l.epoch++ {
		l.buf.Reset()
		log.Printf("%v: epoch %d", l.name, l.epoch)
		l.logger.Printf("Epoch %d", l.epoch)

		ex := train
		if l.maxExamples > 0 && len(ex) > l.maxExamples {
			ex = append([]Example(nil), ex...)
			l.shuffleExamples(ex)
			ex = ex[:l.maxExamples]
		}
		Xs, labels, batches, err := l.prepareExamples(ex)
		if err != nil {
			return err
		}
		l.logger.SetPrefix("\t")
		l.logger.Printf("Training on %d batches of %d clips", batches, l.nnConf.BatchSize)
		cost, err := nets.Train(l.NN, Xs, labels, batches, iters)
		if err != nil {
			return errors.WithMessage(err, fmt.Sprintf("Train fail at epoch %d", l.epoch))
		}
		l.logger.Printf("Cost %v", cost)
		l.newEpoch(cost, l.nnConf.Classes)
		e := len(l.Costs) - 1

		if len(test) > 0 {
			if err = l.evaluate(test); err != nil {
				return err
			}
			l.logger.Printf("Accuracy %.3f", l.Accuracy(e))
		}
		l.logger.SetPrefix("")
		log.Printf("%v: epoch %d cost %v accuracy %.3f", l.name, l.epoch, cost, l.Accuracy(e))
	}
	return nil
}

// Log returns the log of the last epoch.
func (l *Learner) Log() string { return l.buf.String() }

func (l *Learner) evaluate(test []Example) (err error) {
	c, err := NewClassifier(l.NN, l.outEnc, l.inferers)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	c.Name = l.name
	c.Epoch = len(l.Costs) - 1

	classes, _, err := c.ClassifyAll(test)
	if err != nil {
		return err
	}
	for i, ex := range test {
		l.update(ex.Label, classes[i])
	}
	if l.outEnc != nil {
		return l.outEnc.Flush()
	}
	return nil
}

// Save writes the parameters of the network into filename as a checkpoint, which later
// networks may also warm start from.
func (l *Learner) Save(filename string) error {
	s, err := l.NN.State()
	if err != nil {
		return err
	}
	return checkpoint.Save(filename, s)
}

// Load replaces the network with the one saved in filename.
func (l *Learner) Load(filename string) error {
	nn, err := LoadNet(filename, l.arch, l.nnConf)
	if err != nil {
		return err
	}
	l.NN = nn
	return nil
}

// LoadNet builds an arch network and loads the checkpoint saved by Learner.Save into it. Every
// parameter of the network must be in the checkpoint.
func LoadNet(filename string, arch nets.Arch, conf nets.Config) (*nets.Net, error) {
	s, err := checkpoint.Load(filename)
	if err != nil {
		return nil, err
	}
	nn := nets.New(arch, conf)
	if err = nn.Init(); err != nil {
		return nil, err
	}
	loaded, err := nn.Load(s)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %v", filename)
	}
	if want := len(nn.Model()); loaded != want {
		return nil, errors.Errorf("%v holds %d of the %d parameters of a %v network", filename, loaded, want, arch)
	}
	return nn, nil
}

// prepareExamples shuffles the examples and stacks as many full batches as there are into one
// clip major tensor per network input and a one hot label matrix.
func (l *Learner) prepareExamples(examples []Example) (Xs []*tensor.Dense, labels *tensor.Dense, batches int, err error) {
	conf := l.nnConf
	batches = len(examples) / conf.BatchSize
	if batches == 0 {
		return nil, nil, 0, errors.Errorf("%d examples do not fill a batch of %d", len(examples), conf.BatchSize)
	}
	l.shuffleExamples(examples)
	total := batches * conf.BatchSize

	var backings [][]float32
	var channels []int
	labelsBacking := make([]float32, total*conf.Classes)
	for i, ex := range examples[:total] {
		ins, err := inputsOf(l.arch, conf, ex)
		if err != nil {
			return nil, nil, 0, errors.WithMessagef(err, "example %d", i)
		}
		if backings == nil {
			backings = make([][]float32, len(ins))
			for j, in := range ins {
				backings[j] = make([]float32, 0, total*len(in.data))
				channels = append(channels, in.channels)
			}
		}
		for j, in := range ins {
			backings[j] = append(backings[j], in.data...)
		}
		if ex.Label < 0 || ex.Label >= conf.Classes {
			return nil, nil, 0, errors.Errorf("example %d has label %d, expected [0, %d)", i, ex.Label, conf.Classes)
		}
		labelsBacking[i*conf.Classes+ex.Label] = 1
	}

	for j, backing := range backings {
		Xs = append(Xs, tensor.New(tensor.WithBacking(backing), tensor.WithShape(total, conf.SeqLen, channels[j], conf.Height, conf.Width)))
	}
	labels = tensor.New(tensor.WithBacking(labelsBacking), tensor.WithShape(total, conf.Classes))
	return Xs, labels, batches, nil
}

func (l *Learner) shuffleExamples(examples []Example) {
	for i := range examples {
		j := l.r.Intn(i + 1)
		examples[i], examples[j] = examples[j], examples[i]
	}
}
