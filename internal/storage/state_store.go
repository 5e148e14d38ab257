package storage

import (
	"time"

	"go.etcd.io/bbolt"
)

var bucketFileHashes = []byte("file_hashes")

// StateStore tracks the content hash of every indexed file so the scanner
// can skip unchanged files and notice deletions.
type StateStore struct {
	db *bbolt.DB
}

// NewStateStore opens the ingest-state database at path.
func NewStateStore(path string) (*StateStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFileHashes)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &StateStore{db: db}, nil
}

// FileHash returns the recorded hash for path, or "" if unknown.
func (s *StateStore) FileHash(path string) (string, error) {
	var hash string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketFileHashes).Get([]byte(path)); data != nil {
			hash = string(data)
		}
		return nil
	})
	return hash, err
}

// SetFileHash records the hash for path.
func (s *StateStore) SetFileHash(path, hash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFileHashes).Put([]byte(path), []byte(hash))
	})
}

// DeleteFileHash forgets a path.
func (s *StateStore) DeleteFileHash(path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFileHashes).Delete([]byte(path))
	})
}

// IndexedFiles returns all tracked paths and their hashes.
func (s *StateStore) IndexedFiles() (map[string]string, error) {
	out := map[string]string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFileHashes).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// Close closes the database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
