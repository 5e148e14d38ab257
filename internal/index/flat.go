package index

import (
	"container/heap"

	"ragstore/internal/storage"
)

// Flat is the brute-force backend: every search scans the whole vector
// store. It needs no graph state, so Add is a no-op and nothing is persisted.
// Exact results make it the reference the accelerated backend is checked
// against.
type Flat struct {
	vecs storage.VectorStore
}

func NewFlat(vecs storage.VectorStore) *Flat {
	return &Flat{vecs: vecs}
}

func (f *Flat) Add(id uint64, vector []float32) error { return nil }

func (f *Flat) Len() int { return int(f.vecs.Count()) }

func (f *Flat) Close() error { return nil }

func (f *Flat) Search(query []float32, k int) ([]Candidate, error) {
	n := f.vecs.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}

	h := &candidateHeap{}
	heap.Init(h)
	for id := uint64(0); id < n; id++ {
		vec, err := f.vecs.Get(id)
		if err != nil {
			return nil, err
		}
		score := dot(query, vec)
		if h.Len() < k {
			heap.Push(h, Candidate{VectorID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = Candidate{VectorID: id, Score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Candidate)
	}
	return out, nil
}

// candidateHeap is a min-heap on score, keeping the k best seen so far.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
