package main

import (
	"os"

	"github.com/pkg/errors"

	"github.com/gorgonia/vidattn"
	"github.com/gorgonia/vidattn/encoding"
	"github.com/gorgonia/vidattn/encoding/gif"
	"github.com/gorgonia/vidattn/encoding/jpeg"
)

// encoders sends every colorization pass to all of its members.
type encoders struct {
	all   []vidattn.OutputEncoder
	files []*os.File
}

// outputs creates the encoders asked for. Both arguments may be empty.
func outputs(dumpDir, gifFile string) (*encoders, error) {
	enc := new(encoders)
	if dumpDir != "" {
		if err := os.MkdirAll(dumpDir, 0755); err != nil {
			return nil, errors.WithStack(err)
		}
		enc.all = append(enc.all, jpeg.NewDumper(dumpDir))
	}
	if gifFile != "" {
		f, err := os.Create(gifFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		enc.files = append(enc.files, f)
		enc.all = append(enc.all, gif.NewGifEncoder(f, 0))
	}
	return enc, nil
}

func (enc *encoders) Encode(c encoding.Colorized) error {
	for _, e := range enc.all {
		if err := e.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

func (enc *encoders) Flush() error {
	for _, e := range enc.all {
		if err := e.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (enc *encoders) Close() error {
	var err error
	for _, f := range enc.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.WithStack(cerr)
		}
	}
	return err
}
