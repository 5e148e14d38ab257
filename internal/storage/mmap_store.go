package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"ragstore/internal/types"
)

const (
	float32Bytes = 4

	// File header (v1):
	//   0..7   magic "RAGVEC01"
	//   8..15  dim (uint64)
	//   16..23 count (uint64)
	// Embeddings follow the header as a dense float32 matrix in vector_id
	// order, which is also the brute-force search layout.
	HeaderSize = 24
)

var fileMagic = [8]byte{'R', 'A', 'G', 'V', 'E', 'C', '0', '1'}

// MmapVectorStore is a memory-mapped dense matrix of embeddings. Appends
// are visible on disk immediately; the header count is the commit point.
// Vector IDs are row indexes, allocated under the store's mutex so they are
// unique and strictly increasing even with concurrent writers.
type MmapVectorStore struct {
	filename   string
	file       *os.File
	mu         sync.RWMutex
	mapped     []byte
	dim        int
	count      uint64
	mapHandle  uintptr // used by the windows implementation
	viewHandle uintptr
}

// NewMmapVectorStore opens or creates the embeddings file. The dimension is
// stored in the header and must match on reopen.
func NewMmapVectorStore(filename string, dim int) (*MmapVectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", dim)
	}

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open embeddings file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	store := &MmapVectorStore{
		filename: filename,
		file:     f,
		dim:      dim,
	}

	if info.Size() == 0 {
		if err := store.initNew(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if err := store.remap(); err != nil {
		_ = f.Close()
		return nil, err
	}

	onDiskDim, onDiskCount, err := store.readAndValidateHeader()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if int(onDiskDim) != store.dim {
		_ = store.Close()
		return nil, fmt.Errorf("embedding dimension mismatch: file dim=%d, requested dim=%d (delete %s to reset)",
			onDiskDim, store.dim, filename)
	}
	store.count = onDiskCount

	return store, nil
}

func (s *MmapVectorStore) initNew() error {
	// Preallocate room for 1024 embeddings; Append grows the file by half
	// whenever it runs out.
	initialSize := int64(HeaderSize + 1024*s.dim*float32Bytes)
	if err := s.resize(initialSize); err != nil {
		return err
	}
	if err := s.remap(); err != nil {
		return err
	}
	s.writeHeader(uint64(s.dim), 0)
	s.count = 0
	return nil
}

func (s *MmapVectorStore) readAndValidateHeader() (dim uint64, count uint64, err error) {
	if len(s.mapped) < HeaderSize {
		return 0, 0, fmt.Errorf("embeddings file too small for header: %d < %d", len(s.mapped), HeaderSize)
	}

	var mg [8]byte
	copy(mg[:], s.mapped[:8])
	if mg != fileMagic {
		return 0, 0, errors.New("invalid embeddings file header (magic mismatch): delete the file to reset")
	}

	dim = binary.LittleEndian.Uint64(s.mapped[8:16])
	count = binary.LittleEndian.Uint64(s.mapped[16:24])
	if dim == 0 {
		return 0, 0, errors.New("invalid embeddings file header (dim=0): delete the file to reset")
	}
	return dim, count, nil
}

func (s *MmapVectorStore) writeHeader(dim uint64, count uint64) {
	copy(s.mapped[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(s.mapped[8:16], dim)
	binary.LittleEndian.PutUint64(s.mapped[16:24], count)
}

func (s *MmapVectorStore) resize(newSize int64) error {
	if err := s.munmap(); err != nil {
		return err
	}
	return s.file.Truncate(newSize)
}

func (s *MmapVectorStore) remap() error {
	// Always drop any existing view first; re-mapping without unmapping
	// leaks handles on some platforms.
	if err := s.munmap(); err != nil {
		return err
	}

	fi, err := s.file.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size == 0 {
		return nil
	}

	return s.mmap(size)
}

// Append writes one embedding and returns its vector_id (the row index).
func (s *MmapVectorStore) Append(vector types.Vector) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(vector)
}

// AppendBatch writes embeddings in order under one lock acquisition and
// returns their vector_ids.
func (s *MmapVectorStore) AppendBatch(vectors []types.Vector) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(vectors))
	for _, v := range vectors {
		id, err := s.appendLocked(v)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MmapVectorStore) appendLocked(vector types.Vector) (uint64, error) {
	if len(vector) != s.dim {
		return 0, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dim, len(vector))
	}

	requiredSize := int64(HeaderSize + (int(s.count)+1)*s.dim*float32Bytes)
	if requiredSize > int64(len(s.mapped)) {
		newSize := int64(len(s.mapped)) + int64(len(s.mapped))/2
		if newSize < requiredSize {
			newSize = requiredSize
		}
		if err := s.resize(newSize); err != nil {
			return 0, fmt.Errorf("grow embeddings file: %w", err)
		}
		if err := s.remap(); err != nil {
			return 0, fmt.Errorf("remap embeddings file: %w", err)
		}
		s.writeHeader(uint64(s.dim), s.count)
	}

	offset := HeaderSize + int(s.count)*s.dim*float32Bytes
	for i, v := range vector {
		bits := *(*uint32)(unsafe.Pointer(&v))
		binary.LittleEndian.PutUint32(s.mapped[offset+i*4:], bits)
	}

	s.count++
	// Count is updated last so readers never see a partially written row.
	s.writeHeader(uint64(s.dim), s.count)

	return s.count - 1, nil
}

// Get reads the embedding stored at vector_id.
func (s *MmapVectorStore) Get(id uint64) (types.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= s.count {
		return nil, fmt.Errorf("vector_id out of range: %d >= %d", id, s.count)
	}

	offset := HeaderSize + int(id)*s.dim*float32Bytes
	vec := make(types.Vector, s.dim)
	for i := 0; i < s.dim; i++ {
		bits := binary.LittleEndian.Uint32(s.mapped[offset+i*4:])
		vec[i] = *(*float32)(unsafe.Pointer(&bits))
	}
	return vec, nil
}

// Count returns the number of stored embeddings.
func (s *MmapVectorStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dim returns the fixed embedding dimension.
func (s *MmapVectorStore) Dim() int { return s.dim }

// Close unmaps and closes the file.
func (s *MmapVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.munmap()
	return s.file.Close()
}
