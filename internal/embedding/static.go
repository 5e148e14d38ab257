package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"ragstore/internal/types"
)

// Static is a deterministic bag-of-words hash embedder. It needs no model
// files or network and is used for tests and offline operation. Identical
// texts map to identical unit vectors, so exact-text queries score ~1.0.
type Static struct {
	dim int
}

// NewStatic returns a static embedder of the given dimension.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		dim = 384
	}
	return &Static{dim: dim}
}

func (s *Static) Embed(_ context.Context, texts []string) ([]types.Vector, error) {
	out := make([]types.Vector, len(texts))
	for i, text := range texts {
		out[i] = s.embedOne(text)
	}
	return out, nil
}

func (s *Static) embedOne(text string) types.Vector {
	vec := make(types.Vector, s.dim)
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		idx := int(sum % uint32(s.dim))
		// Alternate sign off a second hash bit to spread mass.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	L2Normalize(vec)
	return vec
}

func (s *Static) Dimension() int { return s.dim }

func (s *Static) Model() string { return "static-hash-v1" }
