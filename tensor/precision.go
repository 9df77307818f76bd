package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// Mixed-precision support. Parameters live in half precision between
// optimizer steps on accelerated devices; the optimizer math itself runs in
// full precision. ToFull and ToHalf convert payloads in place so parameter
// identity (and optimizer state keyed on it) is preserved.

// ToFull converts a Float16 tensor payload to Float32 in place, including
// its gradient if present. No-op for tensors already in full precision.
func (t *Tensor) ToFull() error {
	if t.DType == Float32 {
		return nil
	}
	if t.DType != Float16 {
		return fmt.Errorf("cannot convert %s tensor to full precision", t.DType)
	}

	bits := t.Data.([]uint16)
	decoded := make([]float32, len(bits))
	for i, b := range bits {
		decoded[i] = float16.Frombits(b).Float32()
	}
	t.Data = decoded
	t.DType = Float32

	if t.grad != nil {
		if err := t.grad.ToFull(); err != nil {
			return fmt.Errorf("gradient conversion failed: %v", err)
		}
	}
	return nil
}

// ToHalf converts a Float32 tensor payload to Float16 in place. Values pass
// through 16-bit storage, so the round trip quantizes. No-op for tensors
// already in half precision. Gradients are left in full precision; they are
// discarded by ZeroGrad before the next forward pass anyway.
func (t *Tensor) ToHalf() error {
	if t.DType == Float16 {
		return nil
	}
	if t.DType != Float32 {
		return fmt.Errorf("cannot convert %s tensor to half precision", t.DType)
	}

	values := t.Data.([]float32)
	encoded := make([]uint16, len(values))
	for i, v := range values {
		encoded[i] = float16.Fromfloat32(v).Bits()
	}
	t.Data = encoded
	t.DType = Float16
	return nil
}
