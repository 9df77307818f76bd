package model

import (
	"fmt"

	"github.com/tsawler/go-medclip/checkpoints"
	"github.com/tsawler/go-medclip/prompts"
	"github.com/tsawler/go-medclip/tensor"
)

// Config is the explicit model configuration threaded through construction.
// There is no ambient global state: device and precision policy live here.
type Config struct {
	Device     tensor.DeviceType
	ImageSize  int // square input edge in pixels
	Channels   int
	EmbedDim   int
	VocabSize  int
	MaxSeqLen  int
	PatchCount int // ViT pooling granularity
	Seed       int64

	// PretrainedPath optionally points at a checkpoint file whose weights
	// are loaded after construction
	PretrainedPath string
}

// DefaultConfig returns the configuration used by the reference runners
func DefaultConfig() Config {
	return Config{
		Device:     tensor.CPU,
		ImageSize:  224,
		Channels:   3,
		EmbedDim:   128,
		VocabSize:  4096,
		MaxSeqLen:  32,
		PatchCount: 49,
		Seed:       1,
	}
}

// Handle is the model surface the training and evaluation code depends on
type Handle interface {
	Forward(pixels *tensor.Tensor, set *prompts.Set) (*Output, error)
	Backward(gradLogits *tensor.Tensor) error
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
	PrecisionCycle(step func() error) error
}

// Adapter wraps a dual encoder with device placement and mixed-precision
// management. On accelerated devices parameters are held in half precision
// between optimizer steps; on CPU everything stays in full precision.
type Adapter struct {
	encoder       DualEncoder
	device        tensor.DeviceType
	halfPrecision bool
	config        Config
}

// Load constructs the dual encoder for the given vision backbone, loads
// pretrained weights when configured, places the model on the configured
// device, and sets the initial precision mode.
func Load(backbone VisionBackbone, cfg Config) (*Adapter, error) {
	if cfg.ImageSize < 1 || cfg.Channels < 1 {
		return nil, fmt.Errorf("invalid image configuration: %dx%d with %d channels", cfg.ImageSize, cfg.ImageSize, cfg.Channels)
	}

	pixelDim := cfg.Channels * cfg.ImageSize * cfg.ImageSize
	encoder, err := NewLinearDualEncoder(backbone, pixelDim, cfg.PatchCount, cfg.EmbedDim, cfg.VocabSize, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s encoder: %v", backbone, err)
	}

	adapter := &Adapter{
		encoder:       encoder,
		device:        cfg.Device,
		halfPrecision: cfg.Device == tensor.GPU,
		config:        cfg,
	}

	if cfg.PretrainedPath != "" {
		checkpoint, err := checkpoints.ReadFile(cfg.PretrainedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load pretrained weights: %v", err)
		}
		if err := checkpoints.RestoreWeights(checkpoint.Weights, encoder.Parameters()); err != nil {
			return nil, fmt.Errorf("failed to restore pretrained weights: %v", err)
		}
	}

	for _, p := range encoder.Parameters() {
		p.Device = cfg.Device
	}

	// Reduced precision on accelerated hardware, full precision on CPU
	if adapter.halfPrecision {
		for _, p := range encoder.Parameters() {
			if err := p.ToHalf(); err != nil {
				return nil, fmt.Errorf("failed to set initial precision: %v", err)
			}
		}
	}

	return adapter, nil
}

// Wrap adapts an existing dual encoder without changing its precision.
// Used by tests and by callers that build encoders directly.
func Wrap(encoder DualEncoder, device tensor.DeviceType) *Adapter {
	return &Adapter{
		encoder:       encoder,
		device:        device,
		halfPrecision: device == tensor.GPU,
	}
}

// Device returns the compute device the model is placed on
func (a *Adapter) Device() tensor.DeviceType {
	return a.device
}

// HalfPrecision reports whether parameters are held in reduced precision
func (a *Adapter) HalfPrecision() bool {
	return a.halfPrecision
}

// Forward runs the dual encoder on a pixel batch and prompt set
func (a *Adapter) Forward(pixels *tensor.Tensor, set *prompts.Set) (*Output, error) {
	return a.encoder.Forward(pixels, set)
}

// Backward accumulates parameter gradients
func (a *Adapter) Backward(gradLogits *tensor.Tensor) error {
	return a.encoder.Backward(gradLogits)
}

// Parameters returns the trainable parameters
func (a *Adapter) Parameters() []*tensor.Tensor {
	return a.encoder.Parameters()
}

// Train sets training mode
func (a *Adapter) Train() {
	a.encoder.Train()
}

// Eval sets evaluation mode
func (a *Adapter) Eval() {
	a.encoder.Eval()
}

// IsTraining reports the current mode
func (a *Adapter) IsTraining() bool {
	return a.encoder.IsTraining()
}

// PrecisionCycle runs the given optimizer step with parameters and
// gradients in full precision, then returns parameters to reduced
// precision. The parameters are back in half precision even when the step
// fails, so the precision invariant holds for the next forward pass. On
// non-accelerated devices this is a plain passthrough.
func (a *Adapter) PrecisionCycle(step func() error) error {
	if !a.halfPrecision {
		return step()
	}

	params := a.encoder.Parameters()
	for i, p := range params {
		if err := p.ToFull(); err != nil {
			return fmt.Errorf("failed to raise parameter %d to full precision: %v", i, err)
		}
	}

	stepErr := step()

	for i, p := range params {
		if err := p.ToHalf(); err != nil {
			return fmt.Errorf("failed to return parameter %d to half precision: %v", i, err)
		}
	}

	return stepErr
}
