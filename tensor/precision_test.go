package tensor

import (
	"math"
	"testing"
)

func TestPrecisionRoundTrip(t *testing.T) {
	t.Run("ToHalf then ToFull quantizes", func(t *testing.T) {
		param, _ := NewTensor([]int{3}, Float32, CPU, []float32{1.0, 0.1, 3.14159})
		param.SetRequiresGrad(true)

		if err := param.ToHalf(); err != nil {
			t.Fatalf("ToHalf failed: %v", err)
		}
		if param.DType != Float16 {
			t.Fatalf("Expected Float16 after ToHalf, got %s", param.DType)
		}

		if err := param.ToFull(); err != nil {
			t.Fatalf("ToFull failed: %v", err)
		}
		if param.DType != Float32 {
			t.Fatalf("Expected Float32 after ToFull, got %s", param.DType)
		}

		data := param.Data.([]float32)

		// 1.0 is exact in half precision
		if data[0] != 1.0 {
			t.Errorf("Expected 1.0 preserved, got %v", data[0])
		}

		// 0.1 is not exact, but must survive within half-precision tolerance
		if math.Abs(float64(data[1]-0.1)) > 1e-3 {
			t.Errorf("Half round trip of 0.1 out of tolerance: %v", data[1])
		}
	})

	t.Run("ToFull is idempotent", func(t *testing.T) {
		param, _ := NewTensor([]int{1}, Float32, CPU, []float32{2.5})
		if err := param.ToFull(); err != nil {
			t.Fatalf("ToFull on Float32 tensor should be a no-op, got %v", err)
		}
		if param.Data.([]float32)[0] != 2.5 {
			t.Error("ToFull no-op modified data")
		}
	})

	t.Run("ToFull converts gradient", func(t *testing.T) {
		param, _ := NewTensor([]int{1}, Float32, CPU, []float32{1.0})
		param.SetRequiresGrad(true)

		grad, _ := Zeros([]int{1}, Float16, CPU)
		if err := grad.SetFloat32([]float32{0.5}); err != nil {
			t.Fatalf("SetFloat32 failed: %v", err)
		}
		param.SetGrad(grad)

		if err := param.ToHalf(); err != nil {
			t.Fatalf("ToHalf failed: %v", err)
		}
		if err := param.ToFull(); err != nil {
			t.Fatalf("ToFull failed: %v", err)
		}

		if param.Grad().DType != Float32 {
			t.Errorf("Expected Float32 gradient after ToFull, got %s", param.Grad().DType)
		}

		gradData, _ := param.Grad().Float32Slice()
		if gradData[0] != 0.5 {
			t.Errorf("Expected gradient 0.5, got %v", gradData[0])
		}
	})

	t.Run("Int32 conversion rejected", func(t *testing.T) {
		labels, _ := Zeros([]int{2}, Int32, CPU)
		if err := labels.ToHalf(); err == nil {
			t.Error("Expected error converting Int32 tensor to half precision")
		}
		if err := labels.ToFull(); err == nil {
			t.Error("Expected error converting Int32 tensor to full precision")
		}
	})
}
