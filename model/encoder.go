package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-medclip/prompts"
	"github.com/tsawler/go-medclip/tensor"
)

// VisionBackbone selects the image tower variant
type VisionBackbone int

const (
	// VisionViT pools the pixel grid into patches and projects the patch
	// average, mirroring a ViT-style tokenized image encoder
	VisionViT VisionBackbone = iota
	// VisionLinear projects the full flattened pixel vector
	VisionLinear
)

func (vb VisionBackbone) String() string {
	switch vb {
	case VisionViT:
		return "ViT"
	case VisionLinear:
		return "Linear"
	default:
		return fmt.Sprintf("Unknown(%d)", int(vb))
	}
}

// Output holds the similarity logits of one forward pass. LogitsPerText is
// the transposed pairing of LogitsPerImage: [numCaptions, batchSize].
type Output struct {
	LogitsPerImage *tensor.Tensor // [batchSize, numCaptions]
	LogitsPerText  *tensor.Tensor // [numCaptions, batchSize]
}

// DualEncoder is the joint image/text embedding model. Forward is a pure
// function of current parameters and inputs; Backward consumes the gradient
// of the loss with respect to LogitsPerImage and accumulates parameter
// gradients from the most recent forward pass.
type DualEncoder interface {
	Forward(pixels *tensor.Tensor, set *prompts.Set) (*Output, error)
	Backward(gradLogits *tensor.Tensor) error
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

const normEps = 1e-12

// LinearDualEncoder embeds images through a pooled linear projection and
// captions through a mask-weighted mean of token embeddings. Both towers are
// L2-normalized and compared by a learned-temperature dot product, CLIP
// style: logits = exp(logitScale) * imgEmb @ txtEmb^T.
type LinearDualEncoder struct {
	backbone   VisionBackbone
	pixelDim   int
	pooledDim  int
	patchCount int
	embedDim   int
	vocabSize  int

	wImage     *tensor.Tensor // [pooledDim, embedDim]
	tokenEmbed *tensor.Tensor // [vocabSize, embedDim]
	logitScale *tensor.Tensor // [1]

	training bool

	// Forward-pass caches consumed by Backward. Single-threaded use only.
	cacheValid  bool
	lastPooled  []float32 // [B, pooledDim]
	lastImgU    []float32 // [B, embedDim] normalized
	lastImgNorm []float32 // [B]
	lastTxtU    []float32 // [N, embedDim] normalized
	lastTxtNorm []float32 // [N]
	lastIDs     []int32   // [N, L]
	lastMask    []int32   // [N, L]
	lastTokens  []float32 // [N] active token counts
	lastScale   float32
	lastB       int
	lastN       int
}

// NewLinearDualEncoder constructs a randomly initialized dual encoder.
// pixelDim is the flattened pixel count per image; for the ViT backbone it
// must be divisible by patchCount.
func NewLinearDualEncoder(backbone VisionBackbone, pixelDim, patchCount, embedDim, vocabSize int, seed int64) (*LinearDualEncoder, error) {
	if pixelDim < 1 || embedDim < 1 || vocabSize < 2 {
		return nil, fmt.Errorf("invalid encoder dimensions: pixelDim=%d embedDim=%d vocabSize=%d", pixelDim, embedDim, vocabSize)
	}

	pooledDim := pixelDim
	if backbone == VisionViT {
		if patchCount < 1 {
			return nil, fmt.Errorf("ViT backbone requires a positive patch count, got %d", patchCount)
		}
		if pixelDim%patchCount != 0 {
			return nil, fmt.Errorf("pixel dimension %d not divisible by patch count %d", pixelDim, patchCount)
		}
		pooledDim = pixelDim / patchCount
	}

	rng := rand.New(rand.NewSource(seed))

	// Xavier uniform for the image projection
	bound := math.Sqrt(6.0 / float64(pooledDim+embedDim))
	wData := make([]float32, pooledDim*embedDim)
	for i := range wData {
		wData[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	wImage, err := tensor.NewTensor([]int{pooledDim, embedDim}, tensor.Float32, tensor.CPU, wData)
	if err != nil {
		return nil, fmt.Errorf("failed to create image projection: %v", err)
	}
	wImage.SetRequiresGrad(true)

	embBound := 1.0 / math.Sqrt(float64(embedDim))
	embData := make([]float32, vocabSize*embedDim)
	for i := range embData {
		embData[i] = float32((rng.Float64()*2.0 - 1.0) * embBound)
	}
	tokenEmbed, err := tensor.NewTensor([]int{vocabSize, embedDim}, tensor.Float32, tensor.CPU, embData)
	if err != nil {
		return nil, fmt.Errorf("failed to create token embedding table: %v", err)
	}
	tokenEmbed.SetRequiresGrad(true)

	// CLIP temperature initialization: exp(logitScale) = 1/0.07
	logitScale, err := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{float32(math.Log(1.0 / 0.07))})
	if err != nil {
		return nil, fmt.Errorf("failed to create logit scale: %v", err)
	}
	logitScale.SetRequiresGrad(true)

	return &LinearDualEncoder{
		backbone:   backbone,
		pixelDim:   pixelDim,
		pooledDim:  pooledDim,
		patchCount: patchCount,
		embedDim:   embedDim,
		vocabSize:  vocabSize,
		wImage:     wImage,
		tokenEmbed: tokenEmbed,
		logitScale: logitScale,
		training:   true,
	}, nil
}

// Parameters returns the trainable parameters in a stable order
func (m *LinearDualEncoder) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.wImage, m.tokenEmbed, m.logitScale}
}

// Train sets training mode
func (m *LinearDualEncoder) Train() {
	m.training = true
}

// Eval sets evaluation mode and drops cached activations
func (m *LinearDualEncoder) Eval() {
	m.training = false
	m.cacheValid = false
}

// IsTraining reports the current mode
func (m *LinearDualEncoder) IsTraining() bool {
	return m.training
}

// pool reduces the flattened pixel batch to the projection input
func (m *LinearDualEncoder) pool(flat []float32, batchSize int) []float32 {
	if m.backbone != VisionViT {
		return flat
	}

	pooled := make([]float32, batchSize*m.pooledDim)
	inv := float32(1.0 / float64(m.patchCount))
	for b := 0; b < batchSize; b++ {
		sample := flat[b*m.pixelDim : (b+1)*m.pixelDim]
		out := pooled[b*m.pooledDim : (b+1)*m.pooledDim]
		for p := 0; p < m.patchCount; p++ {
			patch := sample[p*m.pooledDim : (p+1)*m.pooledDim]
			for d, v := range patch {
				out[d] += v
			}
		}
		for d := range out {
			out[d] *= inv
		}
	}
	return pooled
}

func normalizeRows(raw []float32, rows, cols int) (normalized, norms []float32) {
	normalized = make([]float32, len(raw))
	norms = make([]float32, rows)
	for r := 0; r < rows; r++ {
		row := raw[r*cols : (r+1)*cols]
		var sum float64
		for _, v := range row {
			sum += float64(v) * float64(v)
		}
		norm := float32(math.Sqrt(sum + normEps))
		norms[r] = norm
		out := normalized[r*cols : (r+1)*cols]
		for c, v := range row {
			out[c] = v / norm
		}
	}
	return normalized, norms
}

// Forward embeds the pixel batch and the prompt set and returns the paired
// similarity logits
func (m *LinearDualEncoder) Forward(pixels *tensor.Tensor, set *prompts.Set) (*Output, error) {
	if pixels == nil || set == nil {
		return nil, fmt.Errorf("pixels and prompt set must not be nil")
	}
	if len(pixels.Shape) < 2 {
		return nil, fmt.Errorf("pixel batch must have a leading batch dimension, got shape %v", pixels.Shape)
	}

	batchSize := pixels.Shape[0]
	if pixels.NumElems/batchSize != m.pixelDim {
		return nil, fmt.Errorf("pixel dimension mismatch: expected %d per image, got %d", m.pixelDim, pixels.NumElems/batchSize)
	}

	flat, err := pixels.Float32Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read pixel batch: %v", err)
	}

	pooled := m.pool(flat, batchSize)

	wData, err := m.wImage.Float32Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read image projection: %v", err)
	}

	// imgRaw = pooled @ wImage
	imgRaw := make([]float32, batchSize*m.embedDim)
	for b := 0; b < batchSize; b++ {
		sample := pooled[b*m.pooledDim : (b+1)*m.pooledDim]
		out := imgRaw[b*m.embedDim : (b+1)*m.embedDim]
		for d, x := range sample {
			if x == 0 {
				continue
			}
			row := wData[d*m.embedDim : (d+1)*m.embedDim]
			for e, w := range row {
				out[e] += x * w
			}
		}
	}

	imgU, imgNorm := normalizeRows(imgRaw, batchSize, m.embedDim)

	// Text tower: mask-weighted mean of token embeddings
	ids, err := set.InputIDs.Int32Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read input ids: %v", err)
	}
	mask, err := set.AttentionMask.Int32Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read attention mask: %v", err)
	}

	numCaptions := set.InputIDs.Shape[0]
	seqLen := set.InputIDs.Shape[1]

	embData, err := m.tokenEmbed.Float32Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read token embeddings: %v", err)
	}

	txtRaw := make([]float32, numCaptions*m.embedDim)
	tokenCounts := make([]float32, numCaptions)
	for n := 0; n < numCaptions; n++ {
		out := txtRaw[n*m.embedDim : (n+1)*m.embedDim]
		var count float32
		for l := 0; l < seqLen; l++ {
			if mask[n*seqLen+l] == 0 {
				continue
			}
			id := ids[n*seqLen+l]
			if id < 0 || int(id) >= m.vocabSize {
				return nil, fmt.Errorf("token id %d outside vocabulary [0, %d)", id, m.vocabSize)
			}
			row := embData[int(id)*m.embedDim : (int(id)+1)*m.embedDim]
			for e, v := range row {
				out[e] += v
			}
			count++
		}
		if count == 0 {
			return nil, fmt.Errorf("caption %d has an empty attention mask", n)
		}
		inv := 1.0 / count
		for e := range out {
			out[e] *= inv
		}
		tokenCounts[n] = count
	}

	txtU, txtNorm := normalizeRows(txtRaw, numCaptions, m.embedDim)

	scaleData, err := m.logitScale.Float32Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read logit scale: %v", err)
	}
	scale := float32(math.Exp(float64(scaleData[0])))

	logits := make([]float32, batchSize*numCaptions)
	for b := 0; b < batchSize; b++ {
		uRow := imgU[b*m.embedDim : (b+1)*m.embedDim]
		for n := 0; n < numCaptions; n++ {
			tRow := txtU[n*m.embedDim : (n+1)*m.embedDim]
			var dot float32
			for e, v := range uRow {
				dot += v * tRow[e]
			}
			logits[b*numCaptions+n] = scale * dot
		}
	}

	logitsPerImage, err := tensor.NewTensor([]int{batchSize, numCaptions}, tensor.Float32, pixels.Device, logits)
	if err != nil {
		return nil, fmt.Errorf("failed to create image logits: %v", err)
	}
	logitsPerText, err := tensor.Transpose(logitsPerImage)
	if err != nil {
		return nil, fmt.Errorf("failed to transpose logits: %v", err)
	}

	if m.training {
		m.lastPooled = pooled
		m.lastImgU = imgU
		m.lastImgNorm = imgNorm
		m.lastTxtU = txtU
		m.lastTxtNorm = txtNorm
		m.lastIDs = ids
		m.lastMask = mask
		m.lastTokens = tokenCounts
		m.lastScale = scale
		m.lastB = batchSize
		m.lastN = numCaptions
		m.cacheValid = true
	}

	return &Output{LogitsPerImage: logitsPerImage, LogitsPerText: logitsPerText}, nil
}

// Backward accumulates parameter gradients given dLoss/dLogitsPerImage from
// the most recent training-mode forward pass
func (m *LinearDualEncoder) Backward(gradLogits *tensor.Tensor) error {
	if !m.cacheValid {
		return fmt.Errorf("no cached forward pass; Backward requires a preceding training-mode Forward")
	}
	if len(gradLogits.Shape) != 2 || gradLogits.Shape[0] != m.lastB || gradLogits.Shape[1] != m.lastN {
		return fmt.Errorf("gradient shape %v does not match logits [%d, %d]", gradLogits.Shape, m.lastB, m.lastN)
	}

	g, err := gradLogits.Float32Slice()
	if err != nil {
		return fmt.Errorf("failed to read logit gradient: %v", err)
	}

	B, N, E := m.lastB, m.lastN, m.embedDim
	s := m.lastScale

	// Gradient of the temperature parameter: logits = exp(theta) * sim,
	// so dTheta = sum(g * logits) = sum(g * s * sim)
	var dTheta float32

	dImgU := make([]float32, B*E)
	dTxtU := make([]float32, N*E)

	for b := 0; b < B; b++ {
		uRow := m.lastImgU[b*E : (b+1)*E]
		dURow := dImgU[b*E : (b+1)*E]
		for n := 0; n < N; n++ {
			gv := g[b*N+n]
			if gv == 0 {
				continue
			}
			tRow := m.lastTxtU[n*E : (n+1)*E]
			dTRow := dTxtU[n*E : (n+1)*E]

			var sim float32
			for e, v := range uRow {
				sim += v * tRow[e]
			}
			dTheta += gv * s * sim

			sg := s * gv
			for e := range uRow {
				dURow[e] += sg * tRow[e]
				dTRow[e] += sg * uRow[e]
			}
		}
	}

	// Backprop through L2 normalization: for u = v/||v||,
	// dv = (du - u * (u . du)) / ||v||
	dImgRaw := make([]float32, B*E)
	for b := 0; b < B; b++ {
		uRow := m.lastImgU[b*E : (b+1)*E]
		dURow := dImgU[b*E : (b+1)*E]
		out := dImgRaw[b*E : (b+1)*E]
		var dot float32
		for e, v := range uRow {
			dot += v * dURow[e]
		}
		inv := 1.0 / m.lastImgNorm[b]
		for e := range out {
			out[e] = (dURow[e] - uRow[e]*dot) * inv
		}
	}

	dTxtRaw := make([]float32, N*E)
	for n := 0; n < N; n++ {
		uRow := m.lastTxtU[n*E : (n+1)*E]
		dURow := dTxtU[n*E : (n+1)*E]
		out := dTxtRaw[n*E : (n+1)*E]
		var dot float32
		for e, v := range uRow {
			dot += v * dURow[e]
		}
		inv := 1.0 / m.lastTxtNorm[n]
		for e := range out {
			out[e] = (dURow[e] - uRow[e]*dot) * inv
		}
	}

	// dWimage = pooled^T @ dImgRaw
	dW := make([]float32, m.pooledDim*E)
	for b := 0; b < B; b++ {
		sample := m.lastPooled[b*m.pooledDim : (b+1)*m.pooledDim]
		dRow := dImgRaw[b*E : (b+1)*E]
		for d, x := range sample {
			if x == 0 {
				continue
			}
			out := dW[d*E : (d+1)*E]
			for e, dv := range dRow {
				out[e] += x * dv
			}
		}
	}

	// Token embedding gradients: each active token row receives the caption
	// gradient scaled by 1/tokenCount
	dEmb := make([]float32, m.vocabSize*E)
	seqLen := len(m.lastIDs) / N
	for n := 0; n < N; n++ {
		dRow := dTxtRaw[n*E : (n+1)*E]
		inv := 1.0 / m.lastTokens[n]
		for l := 0; l < seqLen; l++ {
			if m.lastMask[n*seqLen+l] == 0 {
				continue
			}
			id := int(m.lastIDs[n*seqLen+l])
			out := dEmb[id*E : (id+1)*E]
			for e, dv := range dRow {
				out[e] += dv * inv
			}
		}
	}

	if err := m.wImage.AccumulateGrad(dW); err != nil {
		return fmt.Errorf("image projection gradient failed: %v", err)
	}
	if err := m.tokenEmbed.AccumulateGrad(dEmb); err != nil {
		return fmt.Errorf("token embedding gradient failed: %v", err)
	}
	if err := m.logitScale.AccumulateGrad([]float32{dTheta}); err != nil {
		return fmt.Errorf("logit scale gradient failed: %v", err)
	}

	return nil
}
