package embedding

import (
	"context"
	"math"

	"go.uber.org/zap"

	"ragstore/internal/types"
)

// Embedder converts batches of text into L2-normalized dense vectors.
// Implementations must return exactly one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]types.Vector, error)
	Dimension() int
	Model() string
}

// Tier records which stage of the fallback chain produced a batch.
type Tier int

const (
	TierPrimary Tier = iota // configured device
	TierCPU                 // permanent CPU downgrade
	TierPerItem             // CPU, one item at a time
	TierZero                // at least one zero vector emitted
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierCPU:
		return "cpu"
	case TierPerItem:
		return "per_item"
	case TierZero:
		return "zero"
	}
	return "unknown"
}

// encoder is the raw model-invocation surface behind the Engine. The Engine
// owns batching, fallback, and normalization policy on top of it.
type encoder interface {
	encode(texts []string) ([][]float32, error)
	close() error
}

// Batch sizes by compute device. CPU stays conservative; the per-item tier
// uses cpuRetryBatch when a full CPU batch fails.
const (
	batchSizeCUDA   = 128
	batchSizeCoreML = 64
	batchSizeCPU    = 32
	cpuRetryBatch   = 8
)

// Engine runs an encoder with device-aware batching and a tiered failure
// path: Primary -> CPUFallback -> PerItemFallback -> ZeroVector. A device
// failure downgrades the engine to CPU for the remainder of its lifetime.
// Engine is safe for concurrent use; calls are serialized because the model
// and device are single-owner resources.
type Engine struct {
	log        *zap.Logger
	active     encoder
	newCPU     func() (encoder, error)
	degraded   bool
	batchSize  int
	dim        int
	model      string
	sem        chan struct{}
	lastTier   Tier
	totalZeros int
}

func newEngine(primary encoder, newCPU func() (encoder, error), batchSize, dim int, model string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = batchSizeCPU
	}
	return &Engine{
		log:       log,
		active:    primary,
		newCPU:    newCPU,
		batchSize: batchSize,
		dim:       dim,
		model:     model,
		sem:       make(chan struct{}, 1),
	}
}

// Dimension returns the embedding dimension.
func (e *Engine) Dimension() int { return e.dim }

// Model returns the embedding model tag.
func (e *Engine) Model() string { return e.model }

// LastTier reports the fallback tier of the most recent batch.
func (e *Engine) LastTier() Tier { return e.lastTier }

// Embed encodes texts in sequential sub-batches sized for the active device.
// The result always has len(texts) entries; inputs that could not be encoded
// at any tier come back as zero vectors and are logged, never dropped.
func (e *Engine) Embed(ctx context.Context, texts []string) ([]types.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	out := make([]types.Vector, 0, len(texts))
	total := len(texts)
	for start := 0; start < total; start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.batchSize
		if end > total {
			end = total
		}
		vecs, tier := e.encodeWithFallback(texts[start:end])
		out = append(out, vecs...)
		e.lastTier = tier
		if total > e.batchSize {
			e.log.Info("embedding progress",
				zap.Int("processed", end),
				zap.Int("total", total),
				zap.String("tier", tier.String()))
		}
	}
	return out, nil
}

// encodeWithFallback walks the tier chain for one sub-batch.
func (e *Engine) encodeWithFallback(batch []string) ([]types.Vector, Tier) {
	ok := TierPrimary
	if e.degraded {
		ok = TierCPU
	}
	if vecs, err := e.active.encode(batch); err == nil {
		return e.normalizeAll(vecs, len(batch)), ok
	} else if !e.degraded {
		e.downgrade(err)
	}

	// CPU retry with a smaller internal batch size.
	out := make([]types.Vector, 0, len(batch))
	worst := TierCPU
	for start := 0; start < len(batch); start += cpuRetryBatch {
		end := start + cpuRetryBatch
		if end > len(batch) {
			end = len(batch)
		}
		sub := batch[start:end]
		if vecs, err := e.active.encode(sub); err == nil {
			out = append(out, e.normalizeAll(vecs, len(sub))...)
			continue
		}
		if worst < TierPerItem {
			worst = TierPerItem
		}
		for _, text := range sub {
			vecs, err := e.active.encode([]string{text})
			if err != nil || len(vecs) != 1 {
				worst = TierZero
				e.totalZeros++
				e.log.Error("all embedding tiers failed, emitting zero vector",
					zap.Int("text_len", len(text)),
					zap.Error(err))
				out = append(out, make(types.Vector, e.dim))
				continue
			}
			out = append(out, e.normalizeAll(vecs, 1)...)
		}
	}
	return out, worst
}

// downgrade permanently switches the engine to its CPU encoder. The failed
// accelerator session is closed first, which releases device memory.
func (e *Engine) downgrade(cause error) {
	e.degraded = true
	e.log.Warn("device failure, downgrading embedding engine to cpu",
		zap.Error(cause))
	if e.newCPU == nil {
		return
	}
	cpu, err := e.newCPU()
	if err != nil {
		e.log.Error("cpu fallback encoder unavailable, keeping current encoder",
			zap.Error(err))
		return
	}
	_ = e.active.close()
	e.active = cpu
	e.batchSize = batchSizeCPU
}

// normalizeAll L2-normalizes encoder output, padding short results with
// zero vectors so output length always matches input length.
func (e *Engine) normalizeAll(vecs [][]float32, want int) []types.Vector {
	out := make([]types.Vector, 0, want)
	for _, v := range vecs {
		nv := types.Vector(v)
		L2Normalize(nv)
		out = append(out, nv)
	}
	for len(out) < want {
		e.totalZeros++
		out = append(out, make(types.Vector, e.dim))
	}
	return out
}

// Close releases the active encoder.
func (e *Engine) Close() error { return e.active.close() }

// L2Normalize scales v to unit length in place. The denominator is clamped
// so degenerate inputs stay finite.
func L2Normalize(v types.Vector) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm < 1e-12 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}

func batchSizeForDevice(device string) int {
	switch device {
	case "cuda":
		return batchSizeCUDA
	case "coreml":
		return batchSizeCoreML
	default:
		return batchSizeCPU
	}
}
