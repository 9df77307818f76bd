package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// DType represents the data type of tensor elements
type DType int

const (
	Float32 DType = iota
	Float16
	Int32
)

func (dt DType) String() string {
	switch dt {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case Int32:
		return "Int32"
	default:
		return fmt.Sprintf("Unknown(%d)", int(dt))
	}
}

// DeviceType represents where tensor data lives
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (dt DeviceType) String() string {
	switch dt {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return fmt.Sprintf("Unknown(%d)", int(dt))
	}
}

// Tensor is a dense n-dimensional array. Storage is a flat slice whose
// concrete type depends on DType: []float32 for Float32, []uint16 (IEEE
// half-precision bit patterns) for Float16, []int32 for Int32.
type Tensor struct {
	Shape    []int
	DType    DType
	Device   DeviceType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
}

// NewTensor creates a tensor from existing data
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	numElems := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		numElems *= dim
	}

	var dataLen int
	switch d := data.(type) {
	case []float32:
		if dtype != Float32 {
			return nil, fmt.Errorf("[]float32 data requires Float32 dtype, got %s", dtype)
		}
		dataLen = len(d)
	case []uint16:
		if dtype != Float16 {
			return nil, fmt.Errorf("[]uint16 data requires Float16 dtype, got %s", dtype)
		}
		dataLen = len(d)
	case []int32:
		if dtype != Int32 {
			return nil, fmt.Errorf("[]int32 data requires Int32 dtype, got %s", dtype)
		}
		dataLen = len(d)
	default:
		return nil, fmt.Errorf("unsupported data type %T", data)
	}

	if dataLen != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", dataLen, shape, numElems)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	numElems := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		numElems *= dim
	}

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Float16:
		data = make([]uint16, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

// FromScalar creates a single-element tensor holding the given value
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	var data interface{}
	switch dtype {
	case Float16:
		data = []uint16{float16.Fromfloat32(float32(value)).Bits()}
	case Int32:
		data = []int32{int32(value)}
	default:
		dtype = Float32
		data = []float32{float32(value)}
	}

	t, _ := NewTensor([]int{1}, dtype, device, data)
	return t
}

// Clone returns a deep copy of the tensor (gradient state is not copied)
func (t *Tensor) Clone() (*Tensor, error) {
	var data interface{}
	switch d := t.Data.(type) {
	case []float32:
		c := make([]float32, len(d))
		copy(c, d)
		data = c
	case []uint16:
		c := make([]uint16, len(d))
		copy(c, d)
		data = c
	case []int32:
		c := make([]int32, len(d))
		copy(c, d)
		data = c
	default:
		return nil, fmt.Errorf("unsupported data type %T", t.Data)
	}

	return NewTensor(t.Shape, t.DType, t.Device, data)
}

// Float32Slice returns the tensor elements decoded to float32. Float16
// payloads are decoded into a fresh slice; Float32 payloads are returned
// as-is, so callers must not mutate the result unless they own the tensor.
func (t *Tensor) Float32Slice() ([]float32, error) {
	switch d := t.Data.(type) {
	case []float32:
		return d, nil
	case []uint16:
		decoded := make([]float32, len(d))
		for i, bits := range d {
			decoded[i] = float16.Frombits(bits).Float32()
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("cannot decode %s tensor to float32", t.DType)
	}
}

// Int32Slice returns the raw int32 payload
func (t *Tensor) Int32Slice() ([]int32, error) {
	d, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return d, nil
}

// SetFloat32 overwrites the tensor payload with the given values, encoding
// to the tensor's current dtype
func (t *Tensor) SetFloat32(values []float32) error {
	if len(values) != t.NumElems {
		return fmt.Errorf("value length %d does not match tensor size %d", len(values), t.NumElems)
	}

	switch d := t.Data.(type) {
	case []float32:
		copy(d, values)
	case []uint16:
		for i, v := range values {
			d[i] = float16.Fromfloat32(v).Bits()
		}
	default:
		return fmt.Errorf("cannot set float32 values on %s tensor", t.DType)
	}

	return nil
}

// SetData replaces the tensor payload in place
func (t *Tensor) SetData(data interface{}) error {
	switch d := data.(type) {
	case []float32:
		if t.DType == Float32 {
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			copy(t.Data.([]float32), d)
			return nil
		}
		return t.SetFloat32(d)
	case []uint16:
		if t.DType != Float16 {
			return fmt.Errorf("cannot set []uint16 data on %s tensor", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]uint16), d)
		return nil
	case []int32:
		if t.DType != Int32 {
			return fmt.Errorf("cannot set []int32 data on %s tensor", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		copy(t.Data.([]int32), d)
		return nil
	default:
		return fmt.Errorf("unsupported data type %T", data)
	}
}

// RequiresGrad reports whether this tensor accumulates gradients
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as trainable
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
	if !requires {
		t.grad = nil
	}
}

// Grad returns the accumulated gradient tensor, or nil if none
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad replaces the gradient tensor
func (t *Tensor) SetGrad(grad *Tensor) {
	t.grad = grad
}

// AccumulateGrad adds the given float32 gradient values into the tensor's
// gradient, allocating a Float32 gradient tensor on first use
func (t *Tensor) AccumulateGrad(values []float32) error {
	if len(values) != t.NumElems {
		return fmt.Errorf("gradient length %d does not match tensor size %d", len(values), t.NumElems)
	}

	if t.grad == nil {
		grad, err := Zeros(t.Shape, Float32, t.Device)
		if err != nil {
			return fmt.Errorf("gradient allocation failed: %v", err)
		}
		t.grad = grad
	}

	gradData, err := t.grad.Float32Slice()
	if err != nil {
		return fmt.Errorf("gradient access failed: %v", err)
	}

	for i, v := range values {
		gradData[i] += v
	}

	if t.grad.DType == Float16 {
		return t.grad.SetFloat32(gradData)
	}
	return nil
}

// ZeroGrad clears the gradients of all given parameters
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.grad = nil
	}
}
