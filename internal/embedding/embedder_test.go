package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragstore/internal/types"
)

// fakeEncoder scripts failures for the fallback state machine.
type fakeEncoder struct {
	dim        int
	failAlways bool
	failBatch  bool // fail any call with more than one text
	calls      int
}

func (f *fakeEncoder) encode(texts []string) ([][]float32, error) {
	f.calls++
	if f.failAlways {
		return nil, errors.New("device fault")
	}
	if f.failBatch && len(texts) > 1 {
		return nil, errors.New("batch too large")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 3
		v[1] = 4
		out[i] = v
	}
	return out, nil
}

func (f *fakeEncoder) close() error { return nil }

func norm(v types.Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "some text"
	}
	return out
}

func TestEngine_PrimarySuccess(t *testing.T) {
	primary := &fakeEncoder{dim: 8}
	e := newEngine(primary, nil, 4, 8, "fake", zap.NewNop())

	vecs, err := e.Embed(context.Background(), texts(10))
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	assert.Equal(t, TierPrimary, e.LastTier())
	for _, v := range vecs {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
}

func TestEngine_DowngradesToCPUPermanently(t *testing.T) {
	primary := &fakeEncoder{dim: 8, failAlways: true}
	cpu := &fakeEncoder{dim: 8}
	e := newEngine(primary, func() (encoder, error) { return cpu, nil }, 4, 8, "fake", zap.NewNop())

	vecs, err := e.Embed(context.Background(), texts(4))
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, TierCPU, e.LastTier())

	// Downgrade is sticky: the primary encoder is never tried again.
	primaryCalls := primary.calls
	_, err = e.Embed(context.Background(), texts(4))
	require.NoError(t, err)
	assert.Equal(t, primaryCalls, primary.calls)
	assert.Equal(t, TierCPU, e.LastTier())
}

func TestEngine_PerItemFallback(t *testing.T) {
	primary := &fakeEncoder{dim: 8, failAlways: true}
	cpu := &fakeEncoder{dim: 8, failBatch: true}
	e := newEngine(primary, func() (encoder, error) { return cpu, nil }, 16, 8, "fake", zap.NewNop())

	vecs, err := e.Embed(context.Background(), texts(5))
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, TierPerItem, e.LastTier())
	for _, v := range vecs {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
}

func TestEngine_ZeroVectorsWhenEverythingFails(t *testing.T) {
	primary := &fakeEncoder{dim: 8, failAlways: true}
	cpu := &fakeEncoder{dim: 8, failAlways: true}
	e := newEngine(primary, func() (encoder, error) { return cpu, nil }, 16, 8, "fake", zap.NewNop())

	vecs, err := e.Embed(context.Background(), texts(3))
	require.NoError(t, err)
	require.Len(t, vecs, 3, "inputs must never be dropped")
	assert.Equal(t, TierZero, e.LastTier())
	for _, v := range vecs {
		require.Len(t, v, 8)
		assert.Zero(t, norm(v))
	}
}

func TestEngine_ContextCancellation(t *testing.T) {
	e := newEngine(&fakeEncoder{dim: 8}, nil, 4, 8, "fake", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Embed(ctx, texts(4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatic_Deterministic(t *testing.T) {
	s := NewStatic(64)
	ctx := context.Background()

	a, err := s.Embed(ctx, []string{"the quick brown fox", "the quick brown fox", "something else entirely"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a[0], a[1])
	assert.NotEqual(t, a[0], a[2])
	for _, v := range a[:3] {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
}

func TestMeanPool_MaskWeighted(t *testing.T) {
	// batch=1, seq=3, dim=2; third token masked out.
	hidden := []float32{1, 2, 3, 4, 100, 100}
	mask := []int64{1, 1, 0}
	out := meanPool(hidden, mask, 1, 3, 2)
	require.Len(t, out, 1)
	assert.InDelta(t, 2.0, out[0][0], 1e-6)
	assert.InDelta(t, 3.0, out[0][1], 1e-6)
}

func TestMeanPool_FullyMaskedRowIsFinite(t *testing.T) {
	hidden := []float32{5, 5}
	mask := []int64{0}
	out := meanPool(hidden, mask, 1, 1, 2)
	require.Len(t, out, 1)
	for _, x := range out[0] {
		assert.False(t, math.IsNaN(float64(x)))
		assert.False(t, math.IsInf(float64(x), 0))
	}
}

func TestL2Normalize_ZeroVectorUnchanged(t *testing.T) {
	v := make(types.Vector, 4)
	L2Normalize(v)
	assert.Zero(t, norm(v))
}
