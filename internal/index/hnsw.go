package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ragstore/internal/storage"
)

const (
	maxLevel       = 16
	maxConns       = 16 // max connections per layer
	maxConnsLayer0 = 32
	efConstruction = 40
	efSearch       = 50

	// How many adds between graph snapshots. The vector store is the
	// source of truth, so a crash between flushes only costs a partial
	// rebuild at startup, never data.
	snapshotEvery = 256
)

type hnswNode struct {
	ID        uint64
	Level     int
	Neighbors [][]uint64 // [level][neighbors]
}

// HNSW is the accelerated backend: a hierarchical small-world graph kept
// in memory and snapshotted to disk with gob. Vectors themselves stay in
// the mmap store; the graph holds only IDs.
//
// Graph traversal runs on euclidean distance; final scores are the exact
// inner product against the stored vectors, so both backends report
// candidates on the same scale.
type HNSW struct {
	mu       sync.RWMutex
	vecs     storage.VectorStore
	log      *zap.Logger
	path     string
	nodes    map[uint64]*hnswNode
	entryID  uint64
	topLevel int
	rng      *rand.Rand
	dirty    int
}

type hnswSnapshot struct {
	EntryID  uint64
	TopLevel int
	Nodes    map[uint64]*hnswNode
}

// OpenHNSW loads the graph snapshot at path, then re-adds any vectors the
// store holds that the snapshot predates. A missing or unreadable snapshot
// just means a full rebuild.
func OpenHNSW(path string, vecs storage.VectorStore, log *zap.Logger) (*HNSW, error) {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &HNSW{
		vecs:     vecs,
		log:      log,
		path:     path,
		nodes:    make(map[uint64]*hnswNode),
		topLevel: -1,
		rng:      rand.New(rand.NewSource(1)),
	}

	if err := idx.loadSnapshot(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("index snapshot unreadable, rebuilding graph", zap.Error(err))
		}
		idx.nodes = make(map[uint64]*hnswNode)
		idx.entryID = 0
		idx.topLevel = -1
	}

	// Backfill vectors appended after the last snapshot.
	rebuilt := 0
	for id := uint64(0); id < vecs.Count(); id++ {
		if _, ok := idx.nodes[id]; ok {
			continue
		}
		vec, err := vecs.Get(id)
		if err != nil {
			return nil, fmt.Errorf("rebuild index at vector %d: %w", id, err)
		}
		idx.addLocked(id, vec)
		rebuilt++
	}
	if rebuilt > 0 {
		log.Info("rebuilt index entries from vector store", zap.Int("count", rebuilt))
		if err := idx.saveSnapshot(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *HNSW) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

func (idx *HNSW) Add(id uint64, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.addLocked(id, vector)
	idx.dirty++
	if idx.dirty >= snapshotEvery {
		return idx.saveSnapshot()
	}
	return nil
}

func (idx *HNSW) addLocked(id uint64, vector []float32) {
	level := idx.randomLevel()
	node := &hnswNode{
		ID:        id,
		Level:     level,
		Neighbors: make([][]uint64, level+1),
	}
	idx.nodes[id] = node

	if idx.topLevel == -1 {
		idx.entryID = id
		idx.topLevel = level
		return
	}

	curr := idx.entryID
	for l := idx.topLevel; l > level; l-- {
		curr = idx.greedyNearest(vector, curr, l)
	}

	for l := minInt(level, idx.topLevel); l >= 0; l-- {
		nearest := idx.searchLayer(vector, curr, efConstruction, l)

		m := maxConns
		if l == 0 {
			m = maxConnsLayer0
		}
		if len(nearest) > m {
			nearest = nearest[:m]
		}

		node.Neighbors[l] = ids(nearest)
		for _, nb := range nearest {
			other := idx.nodes[nb.id]
			other.Neighbors[l] = append(other.Neighbors[l], id)
		}

		if len(nearest) > 0 {
			curr = nearest[0].id
		}
	}

	if level > idx.topLevel {
		idx.entryID = id
		idx.topLevel = level
	}
}

func (idx *HNSW) Search(query []float32, k int) ([]Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.topLevel == -1 || k <= 0 {
		return nil, nil
	}

	curr := idx.entryID
	for l := idx.topLevel; l > 0; l-- {
		curr = idx.greedyNearest(query, curr, l)
	}

	ef := efSearch
	if k > ef {
		ef = k
	}
	nearest := idx.searchLayer(query, curr, ef, 0)
	if len(nearest) > k {
		nearest = nearest[:k]
	}

	out := make([]Candidate, 0, len(nearest))
	for _, nb := range nearest {
		vec, err := idx.vecs.Get(nb.id)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{VectorID: nb.id, Score: dot(query, vec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Close writes a final snapshot.
func (idx *HNSW) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.saveSnapshot()
}

// greedyNearest walks a single level toward the query, one hop at a time.
func (idx *HNSW) greedyNearest(query []float32, entry uint64, level int) uint64 {
	curr := entry
	currDist := idx.distanceTo(query, curr)

	for changed := true; changed; {
		changed = false
		for _, nb := range idx.nodes[curr].Neighbors[level] {
			if d := idx.distanceTo(query, nb); d < currDist {
				currDist = d
				curr = nb
				changed = true
			}
		}
	}
	return curr
}

type scored struct {
	id   uint64
	dist float32
}

// searchLayer is a beam search over one level, keeping the ef closest
// nodes found so far.
func (idx *HNSW) searchLayer(query []float32, entry uint64, ef, level int) []scored {
	start := scored{entry, idx.distanceTo(query, entry)}
	visited := map[uint64]bool{entry: true}
	candidates := []scored{start}
	results := []scored{start}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= ef && c.dist > results[len(results)-1].dist {
			continue
		}

		for _, nb := range idx.nodes[c.id].Neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := idx.distanceTo(query, nb)

			if len(results) < ef || d < results[len(results)-1].dist {
				s := scored{nb, d}
				candidates = append(candidates, s)
				results = append(results, s)

				sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
				if len(results) > ef {
					results = results[:ef]
				}
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
			}
		}
	}
	return results
}

func (idx *HNSW) distanceTo(query []float32, id uint64) float32 {
	vec, err := idx.vecs.Get(id)
	if err != nil {
		// Indexed IDs always exist in the store; an error here means the
		// graph references a vector past the store's count. Treat it as
		// infinitely far so the walk routes around it.
		return float32(math.Inf(1))
	}
	var sum float32
	for i := range query {
		diff := query[i] - vec[i]
		sum += diff * diff
	}
	return float32(math.Sqrt(float64(sum)))
}

func (idx *HNSW) randomLevel() int {
	lvl := 0
	for idx.rng.Float64() < 0.5 && lvl < maxLevel {
		lvl++
	}
	return lvl
}

func (idx *HNSW) loadSnapshot() error {
	f, err := os.Open(idx.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var snap hnswSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode index snapshot: %w", err)
	}
	idx.entryID = snap.EntryID
	idx.topLevel = snap.TopLevel
	idx.nodes = snap.Nodes
	if idx.nodes == nil {
		idx.nodes = make(map[uint64]*hnswNode)
	}
	return nil
}

// saveSnapshot writes the graph atomically via a temp file rename.
func (idx *HNSW) saveSnapshot() error {
	tmp := idx.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	snap := hnswSnapshot{EntryID: idx.entryID, TopLevel: idx.topLevel, Nodes: idx.nodes}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return err
	}
	idx.dirty = 0
	return nil
}

func ids(nbs []scored) []uint64 {
	out := make([]uint64, len(nbs))
	for i, nb := range nbs {
		out[i] = nb.id
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
