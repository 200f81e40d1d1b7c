package vidattn

import (
	"encoding/csv"
	"os"
	"strconv"
)

// Statistics records, for every epoch, the training cost and how many evaluation clips of
// each class were classified correctly.
type Statistics struct {
	Classes []string // class names, optional
	Costs   []float32
	Correct [][]int // [epoch][class]
	Total   [][]int // [epoch][class]
}

func makeStatistics(classes []string) Statistics {
	return Statistics{
		Classes: classes,
		Costs:   make([]float32, 0, 64),
		Correct: make([][]int, 0, 64),
		Total:   make([][]int, 0, 64),
	}
}

// newEpoch starts the counters of an epoch trained to cost.
func (s *Statistics) newEpoch(cost float32, classes int) {
	s.Costs = append(s.Costs, cost)
	s.Correct = append(s.Correct, make([]int, classes))
	s.Total = append(s.Total, make([]int, classes))
}

// update counts one classified clip of the current epoch.
func (s *Statistics) update(label, class int) {
	if len(s.Total) == 0 {
		return
	}
	e := len(s.Total) - 1
	if label < 0 || label >= len(s.Total[e]) {
		return
	}
	s.Total[e][label]++
	if label == class {
		s.Correct[e][label]++
	}
}

// Accuracy is the fraction of correctly classified clips of an epoch, over all classes.
func (s *Statistics) Accuracy(epoch int) float32 {
	var correct, total int
	for i := range s.Total[epoch] {
		correct += s.Correct[epoch][i]
		total += s.Total[epoch][i]
	}
	if total == 0 {
		return 0
	}
	return float32(correct) / float32(total)
}

func (s *Statistics) className(i int) string {
	if i < len(s.Classes) {
		return s.Classes[i]
	}
	return strconv.Itoa(i)
}

// Dump writes one row per epoch: the epoch, its cost, the overall accuracy and the accuracy of
// every class. Classes without evaluation clips are left empty.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)

	var classes int
	for _, t := range s.Total {
		if len(t) > classes {
			classes = len(t)
		}
	}
	header := []string{"epoch", "cost", "accuracy"}
	for i := 0; i < classes; i++ {
		header = append(header, s.className(i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	var records [][]string
	for e, cost := range s.Costs {
		record := make([]string, len(header))
		record[0] = strconv.Itoa(e)
		record[1] = strconv.FormatFloat(float64(cost), 'f', 4, 32)
		record[2] = strconv.FormatFloat(float64(s.Accuracy(e)), 'f', 3, 32)
		for i, total := range s.Total[e] {
			if total == 0 {
				continue
			}
			acc := float32(s.Correct[e][i]) / float32(total)
			record[3+i] = strconv.FormatFloat(float64(acc), 'f', 3, 32)
		}
		records = append(records, record)
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return nil
}
