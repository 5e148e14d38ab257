package embedding

import (
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXOptions configures the local transformer embedding engine.
type ONNXOptions struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string // onnxruntime shared library; empty uses the default
	Device        string // cuda | coreml | cpu
	Dimension     int
	MaxSeqLen     int
	Model         string // model tag stored with embeddings
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// NewONNXEngine loads a sentence-transformer ONNX model and wraps it in an
// Engine with the tiered device fallback. The tokenizer file is the HF
// tokenizer.json exported alongside the model.
func NewONNXEngine(opts ONNXOptions, log *zap.Logger) (*Engine, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("onnx engine: dimension must be positive")
	}
	if opts.MaxSeqLen <= 0 {
		opts.MaxSeqLen = 512
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx engine: initialize runtime: %w", err)
	}

	tk, err := pretrained.FromFile(opts.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx engine: load tokenizer: %w", err)
	}

	primary, err := newONNXEncoder(opts.ModelPath, tk, opts.Device, opts.Dimension, opts.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("onnx engine: open session on %s: %w", opts.Device, err)
	}

	newCPU := func() (encoder, error) {
		return newONNXEncoder(opts.ModelPath, tk, "cpu", opts.Dimension, opts.MaxSeqLen)
	}

	model := opts.Model
	if model == "" {
		model = "onnx-local"
	}
	return newEngine(primary, newCPU, batchSizeForDevice(opts.Device), opts.Dimension, model, log), nil
}

// onnxEncoder drives one onnxruntime session. It expects the standard
// sentence-transformer export surface: input_ids + attention_mask in,
// last_hidden_state out.
type onnxEncoder struct {
	session   *ort.DynamicAdvancedSession
	tk        *tokenizer.Tokenizer
	dim       int
	maxSeqLen int
}

func newONNXEncoder(modelPath string, tk *tokenizer.Tokenizer, device string, dim, maxSeqLen int) (*onnxEncoder, error) {
	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer sessOpts.Destroy()

	switch device {
	case "cuda":
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := sessOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	case "coreml":
		if err := sessOpts.AppendExecutionProviderCoreML(0); err != nil {
			return nil, fmt.Errorf("append coreml provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		sessOpts)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	return &onnxEncoder{
		session:   session,
		tk:        tk,
		dim:       dim,
		maxSeqLen: maxSeqLen,
	}, nil
}

func (o *onnxEncoder) encode(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ids, mask, seqLen, err := o.tokenize(texts)
	if err != nil {
		return nil, err
	}
	batch := len(texts)

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := o.session.Run([]ort.Value{idsTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("model forward pass: %w", err)
	}
	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	defer hidden.Destroy()

	outShape := hidden.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("unexpected output rank %d", len(outShape))
	}
	hiddenDim := int(outShape[2])
	if hiddenDim != o.dim {
		return nil, fmt.Errorf("model hidden size %d does not match configured dimension %d",
			hiddenDim, o.dim)
	}

	return meanPool(hidden.GetData(), mask, batch, seqLen, hiddenDim), nil
}

// tokenize pads every encoding in the batch to the longest sequence,
// truncated at maxSeqLen, and flattens ids and mask row-major.
func (o *onnxEncoder) tokenize(texts []string) (ids []int64, mask []int64, seqLen int, err error) {
	encodings := make([]*tokenizer.Encoding, len(texts))
	for i, text := range texts {
		en, err := o.tk.EncodeSingle(text, true)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("tokenize item %d: %w", i, err)
		}
		encodings[i] = en
		if n := len(en.Ids); n > seqLen {
			seqLen = n
		}
	}
	if seqLen > o.maxSeqLen {
		seqLen = o.maxSeqLen
	}
	if seqLen == 0 {
		seqLen = 1
	}

	ids = make([]int64, len(texts)*seqLen)
	mask = make([]int64, len(texts)*seqLen)
	for i, en := range encodings {
		row := i * seqLen
		n := len(en.Ids)
		if n > seqLen {
			n = seqLen
		}
		for j := 0; j < n; j++ {
			ids[row+j] = int64(en.Ids[j])
			mask[row+j] = 1
		}
	}
	return ids, mask, seqLen, nil
}

func (o *onnxEncoder) close() error {
	return o.session.Destroy()
}

// meanPool averages token hidden states weighted by the attention mask.
// Both the mask sum and the final vector norm use clamped denominators so a
// fully-masked row cannot divide by zero.
func meanPool(hidden []float32, mask []int64, batch, seqLen, dim int) [][]float32 {
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		vec := make([]float32, dim)
		var masked float32
		for s := 0; s < seqLen; s++ {
			if mask[b*seqLen+s] == 0 {
				continue
			}
			masked++
			base := (b*seqLen + s) * dim
			for d := 0; d < dim; d++ {
				vec[d] += hidden[base+d]
			}
		}
		if masked < 1 {
			masked = 1
		}
		for d := 0; d < dim; d++ {
			vec[d] /= masked
		}
		out[b] = vec
	}
	return out
}
