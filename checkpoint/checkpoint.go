// Package checkpoint stores named parameter tensors.
//
// Two on-disk formats are understood: gob files written by Save, and safetensors
// files, which is what PyTorch state dicts are usually exported to.
package checkpoint

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// State is a set of parameter values keyed by parameter name, e.g. "resNet.layer1.0.conv1.weight".
type State map[string]*tensor.Dense

// Names returns the parameter names, sorted.
func (s State) Names() []string {
	retVal := make([]string, 0, len(s))
	for k := range s {
		retVal = append(retVal, k)
	}
	sort.Strings(retVal)
	return retVal
}

// Filter returns the entries whose names start with prefix. The names are kept as is.
func (s State) Filter(prefix string) State {
	retVal := make(State)
	for k, v := range s {
		if strings.HasPrefix(k, prefix) {
			retVal[k] = v
		}
	}
	return retVal
}

// Rename replaces the prefix from with to on every name that carries it.
// Names without the prefix are kept unchanged.
func (s State) Rename(from, to string) State {
	retVal := make(State, len(s))
	for k, v := range s {
		if strings.HasPrefix(k, from) {
			k = to + strings.TrimPrefix(k, from)
		}
		retVal[k] = v
	}
	return retVal
}

// Merge copies all entries of other into s, overwriting existing names.
func (s State) Merge(other State) State {
	for k, v := range other {
		s[k] = v
	}
	return s
}

// Load reads a checkpoint. Files ending in ".safetensors" are read as safetensors,
// everything else is expected to be a gob file written by Save.
func Load(path string) (State, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		return ReadSafetensors(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var s State
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %q", path)
	}
	return s, nil
}

// Save writes the state as a gob file.
func Save(path string, s State) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = gob.NewEncoder(f).Encode(s); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding checkpoint %q", path)
	}
	return f.Close()
}
