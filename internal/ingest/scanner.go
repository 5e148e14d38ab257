package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragstore/internal/storage"
	"ragstore/internal/store"
)

// scanConcurrency bounds parallel file ingestion. Embedding and metadata
// writes serialize downstream, so this mostly overlaps file IO and hashing.
const scanConcurrency = 4

// Scanner ingests text files from a directory into one collection,
// using content hashes to skip unchanged files across runs.
type Scanner struct {
	docs       *store.DocumentStore
	state      *storage.StateStore
	collection string
	log        *zap.Logger
}

func NewScanner(docs *store.DocumentStore, state *storage.StateStore, collection string, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{docs: docs, state: state, collection: collection, log: log}
}

// Scan walks dir once: new and changed files are (re)ingested, files that
// disappeared since the last run are removed from the collection.
func (s *Scanner) Scan(ctx context.Context, dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if indexableFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, path := range files {
		path := path
		g.Go(func() error {
			changed, err := s.IndexFile(ctx, path)
			if err != nil {
				s.log.Error("file ingestion failed", zap.String("path", path), zap.Error(err))
				return nil // one bad file must not abort the scan
			}
			if changed {
				s.log.Info("file indexed", zap.String("path", path))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.removeVanished(ctx, dir, files)
}

// IndexFile ingests one file if its content changed since the last run.
// It reports whether anything was (re)ingested.
func (s *Scanner) IndexFile(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	prev, err := s.state.FileHash(path)
	if err != nil {
		return false, err
	}
	if prev == hash {
		return false, nil
	}
	if prev != "" {
		if _, err := s.docs.DeleteByFilePath(ctx, s.collection, path); err != nil {
			return false, err
		}
	}

	_, err = s.docs.AddDocument(ctx, store.AddDocumentParams{
		Collection: s.collection,
		FilePath:   path,
		Text:       string(data),
	})
	if errors.Is(err, store.ErrEmptyDocument) {
		// Track empty files too, or every scan would retry them.
		return false, s.state.SetFileHash(path, hash)
	}
	if err != nil {
		return false, err
	}
	return true, s.state.SetFileHash(path, hash)
}

// RemoveFile drops a file's document and forgets its hash.
func (s *Scanner) RemoveFile(ctx context.Context, path string) error {
	if _, err := s.docs.DeleteByFilePath(ctx, s.collection, path); err != nil {
		return err
	}
	return s.state.DeleteFileHash(path)
}

func (s *Scanner) removeVanished(ctx context.Context, dir string, present []string) error {
	onDisk := make(map[string]bool, len(present))
	for _, p := range present {
		onDisk[p] = true
	}
	tracked, err := s.state.IndexedFiles()
	if err != nil {
		return err
	}
	for path := range tracked {
		if onDisk[path] || !underDir(path, dir) {
			continue
		}
		if err := s.RemoveFile(ctx, path); err != nil {
			return err
		}
		s.log.Info("removed vanished file", zap.String("path", path))
	}
	return nil
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func indexableFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}
