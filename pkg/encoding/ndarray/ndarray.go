// Package ndarray encodes dense float32 arrays for the widget side channel.
//
// The wire form is a JSON object carrying the dtype, the shape and the raw
// little-endian buffer as base64:
//
//	{"dtype":"float32","shape":[2,3],"buffer":"AACAPwAAAEA..."}
package ndarray

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/odvcencio/vegabridge/pkg/pool"
)

// DTypeFloat32 is the only dtype the side channel carries.
const DTypeFloat32 = "float32"

// Array is a row-major float32 array.
type Array struct {
	Shape []int
	Data  []float32
}

type wireArray struct {
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Buffer string `json:"buffer"`
}

// New builds a 2-D array from rows. All rows must have the same length.
func New(rows [][]float32) (Array, error) {
	if len(rows) == 0 {
		return Array{Shape: []int{0}}, nil
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return Array{}, fmt.Errorf("row %d has %d values, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return Array{Shape: []int{len(rows), cols}, Data: data}, nil
}

// Size is the number of elements implied by Shape.
func (a Array) Size() int {
	if len(a.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Rows is the length of the first dimension.
func (a Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// MarshalJSON implements json.Marshaler.
func (a Array) MarshalJSON() ([]byte, error) {
	if a.Size() != len(a.Data) {
		return nil, fmt.Errorf("ndarray: shape %v does not match %d elements", a.Shape, len(a.Data))
	}
	buf := pool.Get(4 * len(a.Data))
	defer pool.Put(buf)
	buf = buf[:4*len(a.Data)]
	for i, v := range a.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	shape := a.Shape
	if shape == nil {
		shape = []int{}
	}
	return json.Marshal(wireArray{
		DType:  DTypeFloat32,
		Shape:  shape,
		Buffer: base64.StdEncoding.EncodeToString(buf),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Array) UnmarshalJSON(data []byte) error {
	var w wireArray
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.DType != DTypeFloat32 {
		return fmt.Errorf("ndarray: unsupported dtype %q", w.DType)
	}
	raw, err := base64.StdEncoding.DecodeString(w.Buffer)
	if err != nil {
		return fmt.Errorf("ndarray: buffer: %w", err)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("ndarray: buffer length %d is not a multiple of 4", len(raw))
	}
	values := make([]float32, len(raw)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	out := Array{Shape: w.Shape, Data: values}
	if out.Size() != len(values) {
		return fmt.Errorf("ndarray: shape %v does not match %d elements", w.Shape, len(values))
	}
	*a = out
	return nil
}
