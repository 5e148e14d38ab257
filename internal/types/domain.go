package types

import "time"

// Vector represents a high-dimensional float32 vector.
// Vectors persisted by the store are always L2-normalized, so the inner
// product of two stored vectors equals their cosine similarity.
type Vector []float32

// Metadata stores associated key-value pairs for a document.
type Metadata map[string]interface{}

// SectionType identifies how a header line was detected.
type SectionType string

const (
	SectionMarkdown   SectionType = "markdown"
	SectionNumbered   SectionType = "numbered"
	SectionUnderlined SectionType = "underlined"
	SectionAllCaps    SectionType = "allcaps"
)

// Section is a chunking-time view of a header and the body below it.
// Sections partition a document's line range; a section's content is the
// lines strictly between its header and the next header.
type Section struct {
	Type      SectionType
	Level     int
	Title     string
	StartLine int
}

// Document represents one ingested source text and owns 1..N chunks.
type Document struct {
	DocID          string    `json:"doc_id"`
	Collection     string    `json:"collection_name"`
	FilePath       string    `json:"file_path"`
	FileType       string    `json:"file_type"`
	Summary        string    `json:"summary"`
	Category       string    `json:"category"`
	Subcategory    string    `json:"subcategory"`
	TotalChunks    int       `json:"total_chunks"`
	EmbeddingModel string    `json:"embedding_model"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
}

// Chunk is a bounded span of a document's text, the unit of embedding
// and retrieval. VectorID is the only linkage into the vector index.
type Chunk struct {
	ChunkID        string `json:"chunk_id"`
	DocID          string `json:"doc_id"`
	Order          int    `json:"chunk_order"` // dense 0..N-1 within a document
	Text           string `json:"chunk_text"`
	TokenCount     int    `json:"token_count"`
	VectorID       uint64 `json:"vector_id"`
	EmbeddingModel string `json:"embedding_model"`
}

// Match is one retrieval hit. Main matches carry their raw similarity
// score; context matches (neighbors by chunk order) carry a discounted one.
type Match struct {
	ChunkID     string   `json:"chunk_id"`
	ChunkText   string   `json:"chunk_text"`
	ChunkOrder  int      `json:"chunk_order"`
	Score       float32  `json:"score"`
	IsMainMatch bool     `json:"is_main_match"`
	Document    Document `json:"document"`
}

// CollectionStats aggregates per-collection counts.
type CollectionStats struct {
	Collection    string         `json:"collection_name"`
	DocumentCount int            `json:"document_count"`
	ChunkCount    int            `json:"chunk_count"`
	FileTypes     map[string]int `json:"file_types"`
	Categories    map[string]int `json:"categories"`
}
