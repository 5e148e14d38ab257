package index

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/storage"
	"ragstore/internal/types"
)

func newTestVectorStore(t *testing.T, dim int) storage.VectorStore {
	t.Helper()
	vecs, err := storage.NewMmapVectorStore(filepath.Join(t.TempDir(), "vectors.bin"), dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })
	return vecs
}

func randomUnitVector(rng *rand.Rand, dim int) types.Vector {
	v := make(types.Vector, dim)
	var norm float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func TestFlat_OrdersByScore(t *testing.T) {
	vecs := newTestVectorStore(t, 2)
	// ids 0..3 in append order
	for _, v := range []types.Vector{
		{1, 0},
		{0, 1},
		{0.7071, 0.7071},
		{-1, 0},
	} {
		_, err := vecs.Append(v)
		require.NoError(t, err)
	}

	flat := NewFlat(vecs)
	got, err := flat.Search(types.Vector{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, uint64(0), got[0].VectorID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, uint64(2), got[1].VectorID)
	assert.InDelta(t, 0.7071, got[1].Score, 1e-4)
	assert.Equal(t, uint64(1), got[2].VectorID)
}

func TestFlat_EmptyStore(t *testing.T) {
	flat := NewFlat(newTestVectorStore(t, 4))
	got, err := flat.Search(types.Vector{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHNSW_AgreesWithFlat(t *testing.T) {
	const (
		dim = 16
		n   = 200
	)
	rng := rand.New(rand.NewSource(42))
	vecs := newTestVectorStore(t, dim)

	hnsw, err := OpenHNSW(filepath.Join(t.TempDir(), "index.gob"), vecs, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		id, err := vecs.Append(randomUnitVector(rng, dim))
		require.NoError(t, err)
		vec, err := vecs.Get(id)
		require.NoError(t, err)
		require.NoError(t, hnsw.Add(id, vec))
	}
	flat := NewFlat(vecs)

	for q := 0; q < 10; q++ {
		query := randomUnitVector(rng, dim)

		exact, err := flat.Search(query, 10)
		require.NoError(t, err)
		approx, err := hnsw.Search(query, 10)
		require.NoError(t, err)
		require.NotEmpty(t, approx)

		assert.Equal(t, exact[0].VectorID, approx[0].VectorID,
			"top hit should match the exact scan")

		exactIDs := map[uint64]bool{}
		for _, c := range exact {
			exactIDs[c.VectorID] = true
		}
		overlap := 0
		for _, c := range approx {
			if exactIDs[c.VectorID] {
				overlap++
			}
		}
		assert.GreaterOrEqual(t, overlap, 8, "top-10 recall too low")

		for i := 1; i < len(approx); i++ {
			assert.LessOrEqual(t, approx[i].Score, approx[i-1].Score,
				"results must be sorted by descending score")
		}
	}
}

func TestHNSW_SnapshotReload(t *testing.T) {
	const dim = 8
	rng := rand.New(rand.NewSource(7))
	vecs := newTestVectorStore(t, dim)
	snapPath := filepath.Join(t.TempDir(), "index.gob")

	hnsw, err := OpenHNSW(snapPath, vecs, nil)
	require.NoError(t, err)
	var query types.Vector
	for i := 0; i < 50; i++ {
		v := randomUnitVector(rng, dim)
		if i == 20 {
			query = v
		}
		id, err := vecs.Append(v)
		require.NoError(t, err)
		require.NoError(t, hnsw.Add(id, v))
	}
	require.NoError(t, hnsw.Close())

	reopened, err := OpenHNSW(snapPath, vecs, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, reopened.Len())

	got, err := reopened.Search(query, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(20), got[0].VectorID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-5)
}

func TestHNSW_RebuildsFromStoreWithoutSnapshot(t *testing.T) {
	const dim = 8
	rng := rand.New(rand.NewSource(9))
	vecs := newTestVectorStore(t, dim)
	for i := 0; i < 30; i++ {
		_, err := vecs.Append(randomUnitVector(rng, dim))
		require.NoError(t, err)
	}

	hnsw, err := OpenHNSW(filepath.Join(t.TempDir(), "index.gob"), vecs, nil)
	require.NoError(t, err)
	assert.Equal(t, 30, hnsw.Len())

	target, err := vecs.Get(11)
	require.NoError(t, err)
	got, err := hnsw.Search(target, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(11), got[0].VectorID)
}

func TestOpen_UnknownBackendFallsBack(t *testing.T) {
	vecs := newTestVectorStore(t, 4)
	idx, err := Open("turbo", t.TempDir(), vecs, nil)
	require.NoError(t, err)
	assert.IsType(t, &Flat{}, idx)
}
