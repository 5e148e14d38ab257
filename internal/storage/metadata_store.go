package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"ragstore/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id          TEXT PRIMARY KEY,
	collection_name TEXT NOT NULL,
	file_path       TEXT NOT NULL DEFAULT '',
	file_type       TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	subcategory     TEXT NOT NULL DEFAULT '',
	total_chunks    INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id        TEXT PRIMARY KEY,
	doc_id          TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	chunk_order     INTEGER NOT NULL,
	chunk_text      TEXT NOT NULL,
	token_count     INTEGER NOT NULL DEFAULT 0,
	vector_id       INTEGER NOT NULL UNIQUE,
	embedding_model TEXT NOT NULL DEFAULT '',
	UNIQUE (doc_id, chunk_order)
);

CREATE INDEX IF NOT EXISTS idx_chunks_vector_id ON chunks(vector_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_name);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
CREATE INDEX IF NOT EXISTS idx_documents_file_path ON documents(collection_name, file_path);
`

// MetadataStore is the relational home of documents and chunks. Every chunk
// row carries the vector_id that links it to the vector index; that link is
// the only coupling between the two stores.
type MetadataStore struct {
	db  *sql.DB
	log *zap.Logger
}

// ChunkWithDoc is a chunk joined with its owning document.
type ChunkWithDoc struct {
	Chunk    types.Chunk
	Document types.Document
}

// NewMetadataStore opens (and migrates) the SQLite database at path.
func NewMetadataStore(path string, log *zap.Logger) (*MetadataStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate metadata db: %w", err)
	}
	return &MetadataStore{db: db, log: log}, nil
}

// InsertDocument writes a document and all of its chunks in one transaction.
// Any failure rolls the whole unit back; partial writes are never visible.
func (s *MetadataStore) InsertDocument(ctx context.Context, doc types.Document, chunks []types.Chunk) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents
			(doc_id, collection_name, file_path, file_type, summary, category,
			 subcategory, total_chunks, embedding_model, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID, doc.Collection, doc.FilePath, doc.FileType, doc.Summary,
		doc.Category, doc.Subcategory, len(chunks), doc.EmbeddingModel,
		string(metaJSON), doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.DocID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(chunk_id, doc_id, chunk_order, chunk_text, token_count, vector_id, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, doc.DocID, c.Order,
			c.Text, c.TokenCount, int64(c.VectorID), c.EmbeddingModel); err != nil {
			return fmt.Errorf("insert chunk %s (order %d): %w", c.ChunkID, c.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document %s: %w", doc.DocID, err)
	}

	s.log.Debug("document inserted",
		zap.String("doc_id", doc.DocID),
		zap.String("collection", doc.Collection),
		zap.Int("chunks", len(chunks)))
	return nil
}

const docColumns = `doc_id, collection_name, file_path, file_type, summary,
	category, subcategory, total_chunks, embedding_model, metadata, created_at`

const chunkColumns = `chunk_id, doc_id, chunk_order, chunk_text, token_count,
	vector_id, embedding_model`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var doc types.Document
	var metaJSON string
	err := row.Scan(&doc.DocID, &doc.Collection, &doc.FilePath, &doc.FileType,
		&doc.Summary, &doc.Category, &doc.Subcategory, &doc.TotalChunks,
		&doc.EmbeddingModel, &metaJSON, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", doc.DocID, err)
		}
	}
	return &doc, nil
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var c types.Chunk
	var vectorID int64
	err := row.Scan(&c.ChunkID, &c.DocID, &c.Order, &c.Text, &c.TokenCount,
		&vectorID, &c.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	c.VectorID = uint64(vectorID)
	return &c, nil
}

// Document looks up a document by id.
func (s *MetadataStore) Document(ctx context.Context, docID string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE doc_id = ?`, docID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docID, err)
	}
	return doc, nil
}

// ChunkByVectorID resolves a vector index hit back to its chunk and owning
// document in one join.
func (s *MetadataStore) ChunkByVectorID(ctx context.Context, vectorID uint64) (*types.Chunk, *types.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.chunk_order, c.chunk_text, c.token_count,
		       c.vector_id, c.embedding_model,
		       d.doc_id, d.collection_name, d.file_path, d.file_type, d.summary,
		       d.category, d.subcategory, d.total_chunks, d.embedding_model,
		       d.metadata, d.created_at
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.vector_id = ?`, int64(vectorID))

	var c types.Chunk
	var doc types.Document
	var cVectorID int64
	var metaJSON string
	err := row.Scan(&c.ChunkID, &c.DocID, &c.Order, &c.Text, &c.TokenCount,
		&cVectorID, &c.EmbeddingModel,
		&doc.DocID, &doc.Collection, &doc.FilePath, &doc.FileType, &doc.Summary,
		&doc.Category, &doc.Subcategory, &doc.TotalChunks, &doc.EmbeddingModel,
		&metaJSON, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get chunk by vector_id %d: %w", vectorID, err)
	}
	c.VectorID = uint64(cVectorID)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, nil, fmt.Errorf("decode metadata for %s: %w", doc.DocID, err)
		}
	}
	return &c, &doc, nil
}

// ChunkByOrder fetches the chunk at a given position within a document.
// Context expansion walks chunk_order with this.
func (s *MetadataStore) ChunkByOrder(ctx context.Context, docID string, order int) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE doc_id = ? AND chunk_order = ?`,
		docID, order)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s/%d: %w", docID, order, err)
	}
	return c, nil
}

// DocumentsByCollection lists all documents in a collection.
func (s *MetadataStore) DocumentsByCollection(ctx context.Context, collection string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE collection_name = ? ORDER BY created_at`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("list documents in %s: %w", collection, err)
	}
	defer rows.Close()

	var out []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// ChunksByFileType is the pure metadata scan behind file_type filters; it
// bypasses vector search entirely.
func (s *MetadataStore) ChunksByFileType(ctx context.Context, collection, fileType string, limit int) ([]ChunkWithDoc, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.chunk_order, c.chunk_text, c.token_count,
		       c.vector_id, c.embedding_model,
		       d.doc_id, d.collection_name, d.file_path, d.file_type, d.summary,
		       d.category, d.subcategory, d.total_chunks, d.embedding_model,
		       d.metadata, d.created_at
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE d.collection_name = ? AND d.file_type = ?
		ORDER BY d.created_at, c.chunk_order
		LIMIT ?`, collection, fileType, limit)
	if err != nil {
		return nil, fmt.Errorf("scan chunks by file_type %s: %w", fileType, err)
	}
	defer rows.Close()

	var out []ChunkWithDoc
	for rows.Next() {
		var c types.Chunk
		var doc types.Document
		var vectorID int64
		var metaJSON string
		err := rows.Scan(&c.ChunkID, &c.DocID, &c.Order, &c.Text, &c.TokenCount,
			&vectorID, &c.EmbeddingModel,
			&doc.DocID, &doc.Collection, &doc.FilePath, &doc.FileType, &doc.Summary,
			&doc.Category, &doc.Subcategory, &doc.TotalChunks, &doc.EmbeddingModel,
			&metaJSON, &doc.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		c.VectorID = uint64(vectorID)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", doc.DocID, err)
			}
		}
		out = append(out, ChunkWithDoc{Chunk: c, Document: doc})
	}
	return out, rows.Err()
}

// CollectionStats aggregates document and chunk counts plus file-type and
// category histograms for one collection.
func (s *MetadataStore) CollectionStats(ctx context.Context, collection string) (*types.CollectionStats, error) {
	stats := &types.CollectionStats{
		Collection: collection,
		FileTypes:  map[string]int{},
		Categories: map[string]int{},
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_chunks), 0)
		FROM documents WHERE collection_name = ?`, collection)
	if err := row.Scan(&stats.DocumentCount, &stats.ChunkCount); err != nil {
		return nil, fmt.Errorf("count collection %s: %w", collection, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_type, COUNT(*) FROM documents
		WHERE collection_name = ? GROUP BY file_type`, collection)
	if err != nil {
		return nil, fmt.Errorf("file_type histogram for %s: %w", collection, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, err
		}
		stats.FileTypes[ft] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	catRows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM documents
		WHERE collection_name = ? AND category != '' GROUP BY category`, collection)
	if err != nil {
		return nil, fmt.Errorf("category histogram for %s: %w", collection, err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var cat string
		var n int
		if err := catRows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		stats.Categories[cat] = n
	}
	return stats, catRows.Err()
}

// DeleteCollection removes every document (and, via cascade, every chunk)
// in a collection. Vectors already written to the index are not touched;
// they simply stop resolving to metadata.
func (s *MetadataStore) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection_name = ?`, collection)
	if err != nil {
		return 0, fmt.Errorf("delete collection %s: %w", collection, err)
	}
	n, _ := res.RowsAffected()
	s.log.Info("collection deleted",
		zap.String("collection", collection),
		zap.Int64("documents", n))
	return n, nil
}

// DeleteByFilePath removes all documents for a file path within a
// collection. Used when a source file changes or disappears.
func (s *MetadataStore) DeleteByFilePath(ctx context.Context, collection, filePath string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection_name = ? AND file_path = ?`,
		collection, filePath)
	if err != nil {
		return 0, fmt.Errorf("delete documents for %s: %w", filePath, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}
