package vidattn

import (
	"log"
	"sync"

	"github.com/gorgonia/vidattn/encoding"
	"github.com/gorgonia/vidattn/nets"
	"github.com/pkg/errors"
	"gorgonia.org/vecf32"
)

// A Classifier classifies clips with a trained network. It holds a fixed pool of inferencers,
// each with its own VM, so it may be used from many goroutines.
type Classifier struct {
	NN  *nets.Net
	Enc OutputEncoder // receives the colorized frames of a Colorize network, may be nil

	// reported to Enc
	Name  string
	Epoch int

	sync.Mutex // guards Enc
	inferer    chan Inferer
	inferers   []Inferer
}

// NewClassifier creates a classifier running n inferencers of nn. n <= 0 means one per CPU.
func NewClassifier(nn *nets.Net, enc OutputEncoder, n int) (*Classifier, error) {
	if n <= 0 {
		n = numCPU
	}
	infs := make([]Inferer, 0, n)
	for i := 0; i < n; i++ {
		inf, err := nets.Infer(nn, false)
		if err != nil {
			for _, inf := range infs {
				inf.Close()
			}
			return nil, err
		}
		infs = append(infs, inf)
	}
	return newClassifier(nn, enc, infs), nil
}

func newClassifier(nn *nets.Net, enc OutputEncoder, infs []Inferer) *Classifier {
	retVal := &Classifier{
		NN:       nn,
		Enc:      enc,
		inferer:  make(chan Inferer, len(infs)),
		inferers: infs,
	}
	for _, inf := range infs {
		retVal.inferer <- inf
	}
	return retVal
}

// Classify returns the most probable class of ex and the probabilities of all classes.
func (c *Classifier) Classify(ex Example) (class int, probs []float32, err error) {
	classes, ps, err := c.ClassifyBatch([]Example{ex})
	if err != nil {
		return -1, nil, err
	}
	return classes[0], ps[0], nil
}

// ClassifyBatch classifies up to BatchSize examples in one pass.
func (c *Classifier) ClassifyBatch(exs []Example) (classes []int, probs [][]float32, err error) {
	conf := c.NN.Config
	if len(exs) == 0 || len(exs) > conf.BatchSize {
		return nil, nil, errors.Errorf("expected 1 to %d examples, got %d", conf.BatchSize, len(exs))
	}

	var batch [][]float32
	for i, ex := range exs {
		ins, err := inputsOf(c.NN.Arch, conf, ex)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "example %d", i)
		}
		if batch == nil {
			batch = make([][]float32, len(ins))
			for j, in := range ins {
				batch[j] = borrowBatch(len(exs) * len(in.data))
			}
		}
		for j, in := range ins {
			copy(batch[j][i*len(in.data):], in.data)
		}
	}
	defer func() {
		for _, buf := range batch {
			returnBatch(buf)
		}
	}()

	inf := <-c.inferer
	defer func() { c.inferer <- inf }()

	if probs, err = inf.Infer(batch...); err != nil {
		if el, ok := inf.(ExecLogger); ok {
			log.Println(el.ExecLog())
		}
		return nil, nil, err
	}
	classes = make([]int, len(probs))
	for i, p := range probs {
		classes[i] = vecf32.Argmax(p)
	}

	if err = c.encode(inf, len(exs)); err != nil {
		return nil, nil, err
	}
	return classes, probs, nil
}

// ClassifyAll classifies any number of examples, spreading batches over the inferencers.
func (c *Classifier) ClassifyAll(exs []Example) (classes []int, probs [][]float32, err error) {
	size := c.NN.BatchSize
	classes = make([]int, len(exs))
	probs = make([][]float32, len(exs))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var allErrs manyErr
	for start := 0; start < len(exs); start += size {
		end := start + size
		if end > len(exs) {
			end = len(exs)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			cs, ps, err := c.ClassifyBatch(exs[start:end])
			if err != nil {
				mu.Lock()
				allErrs = append(allErrs, errors.WithMessagef(err, "examples %d to %d", start, end))
				mu.Unlock()
				return
			}
			copy(classes[start:], cs)
			copy(probs[start:], ps)
		}(start, end)
	}
	wg.Wait()
	if len(allErrs) > 0 {
		return nil, nil, allErrs
	}
	return classes, probs, nil
}

func (c *Classifier) encode(inf Inferer, clips int) error {
	if c.Enc == nil {
		return nil
	}
	col, ok := inf.(Colorizer)
	if !ok {
		return nil
	}
	input, colors := col.Colors()
	if colors == nil {
		return nil
	}
	c.Lock()
	defer c.Unlock()
	return c.Enc.Encode(encoding.Colorized{
		Name:   c.Name,
		Epoch:  c.Epoch,
		Input:  input,
		Colors: colors,
		SeqLen: c.NN.SeqLen,
		Batch:  c.NN.BatchSize,
		Clips:  clips,
	})
}

// Close closes every inferencer. The Classifier cannot be used afterwards.
func (c *Classifier) Close() error {
	close(c.inferer)
	var allErrs manyErr
	for _, inferer := range c.inferers {
		if err := inferer.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}
