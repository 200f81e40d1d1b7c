package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// safetensors layout:
//	[8 bytes: header length, little endian uint64]
//	[header: JSON object name -> {dtype, shape, data_offsets}, plus optional "__metadata__"]
//	[raw little endian tensor data]

const maxHeaderSize = 100 << 20

type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// ReadSafetensors reads every floating point tensor of a safetensors file. F32, F64 and
// BF16 tensors are converted to float32; integer tensors (e.g. BN batch counters) are skipped.
func ReadSafetensors(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var headerSize uint64
	if err = binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrapf(err, "reading header size of %q", path)
	}
	if headerSize > maxHeaderSize {
		return nil, errors.Errorf("%q: header size %d is too large", path, headerSize)
	}
	header := make([]byte, headerSize)
	if _, err = io.ReadFull(f, header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %q", path)
	}

	var raw map[string]json.RawMessage
	if err = json.Unmarshal(header, &raw); err != nil {
		return nil, errors.Wrapf(err, "parsing header of %q", path)
	}

	dataStart := int64(8 + headerSize)
	retVal := make(State, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err = json.Unmarshal(msg, &info); err != nil {
			return nil, errors.Wrapf(err, "parsing tensor info of %q", name)
		}
		width := dtypeWidth(info.DType)
		if width == 0 {
			continue
		}
		size := info.DataOffsets[1] - info.DataOffsets[0]
		if size < 0 {
			return nil, errors.Errorf("tensor %q has negative size", name)
		}
		buf := make([]byte, size)
		if _, err = f.ReadAt(buf, dataStart+info.DataOffsets[0]); err != nil {
			return nil, errors.Wrapf(err, "reading tensor %q", name)
		}
		data := decodeFloats(info.DType, buf)
		shape := info.Shape
		if len(shape) == 0 {
			shape = []int{1}
		}
		if tensor.Shape(shape).TotalSize() != len(data) {
			return nil, errors.Errorf("tensor %q: shape %v does not match %d elements", name, info.Shape, len(data))
		}
		retVal[name] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	}
	return retVal, nil
}

// WriteSafetensors writes the state as a safetensors file of F32 tensors.
func WriteSafetensors(path string, s State) error {
	names := s.Names()
	infos := make(map[string]tensorInfo, len(names))
	var data bytes.Buffer
	for _, name := range names {
		t := s[name]
		floats, ok := t.Data().([]float32)
		if !ok {
			return errors.Errorf("tensor %q is %v; only float32 tensors can be written", name, t.Dtype())
		}
		start := int64(data.Len())
		if err := binary.Write(&data, binary.LittleEndian, floats); err != nil {
			return errors.WithStack(err)
		}
		infos[name] = tensorInfo{
			DType:       "F32",
			Shape:       t.Shape().Clone(),
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}
	header, err := json.Marshal(infos)
	if err != nil {
		return errors.WithStack(err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = binary.Write(f, binary.LittleEndian, uint64(len(header))); err == nil {
		if _, err = f.Write(header); err == nil {
			_, err = f.Write(data.Bytes())
		}
	}
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	return f.Close()
}

func dtypeWidth(dt string) int {
	switch dt {
	case "F32":
		return 4
	case "F64":
		return 8
	case "BF16":
		return 2
	}
	return 0
}

func decodeFloats(dt string, buf []byte) []float32 {
	w := dtypeWidth(dt)
	retVal := make([]float32, len(buf)/w)
	for i := range retVal {
		b := buf[i*w : (i+1)*w]
		switch dt {
		case "F32":
			retVal[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		case "F64":
			retVal[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		case "BF16":
			retVal[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16)
		}
	}
	return retVal
}
