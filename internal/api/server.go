package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ragstore/internal/store"
	"ragstore/internal/types"
)

// Server exposes the document store over HTTP. It is a thin translation
// layer: all semantics live in the store.
type Server struct {
	docs *store.DocumentStore
	log  *zap.Logger
}

func NewServer(docs *store.DocumentStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{docs: docs, log: log}
}

type ingestRequest struct {
	Collection string         `json:"collection"`
	FilePath   string         `json:"file_path"`
	Text       string         `json:"text"`
	Summary    string         `json:"summary"`
	Categories []string       `json:"categories"`
	Metadata   types.Metadata `json:"metadata"`
	// Chunks, when set, is stored as-is and Text is ignored for chunking.
	Chunks []string `json:"chunks"`
}

type searchRequest struct {
	Collection  string `json:"collection"`
	Query       string `json:"query"`
	N           int    `json:"n_results"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	FileType    string `json:"file_type"`
	// Categories is accepted as an alternative to Category; the first entry
	// becomes the category filter, the second the subcategory filter.
	Categories []string `json:"categories"`
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	api := r.Group("/api")
	{
		api.POST("/documents", s.handleIngest)
		api.POST("/search", s.handleSearch)
		api.GET("/collections/:name/stats", s.handleStats)
		api.DELETE("/collections/:name", s.handleDeleteCollection)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" && len(req.Chunks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or chunks is required"})
		return
	}

	params := store.AddDocumentParams{
		Collection: req.Collection,
		FilePath:   req.FilePath,
		Text:       req.Text,
		Summary:    req.Summary,
		Categories: req.Categories,
		Metadata:   req.Metadata,
	}

	var (
		res *store.IngestResult
		err error
	)
	if len(req.Chunks) > 0 {
		res, err = s.docs.AddDocumentChunks(c.Request.Context(), params, req.Chunks)
	} else {
		res, err = s.docs.AddDocument(c.Request.Context(), params)
	}
	if errors.Is(err, store.ErrEmptyDocument) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document is empty"})
		return
	}
	if err != nil {
		s.log.Error("ingest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"doc_id":      res.DocID,
		"chunk_count": res.ChunkCount,
		"token_count": res.TokenCount,
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category, subcategory := req.Category, req.Subcategory
	if category == "" && len(req.Categories) > 0 {
		category = req.Categories[0]
		if subcategory == "" && len(req.Categories) > 1 {
			subcategory = req.Categories[1]
		}
	}

	results, err := s.docs.SearchSimilarChunks(c.Request.Context(), req.Collection, req.Query, req.N, store.SearchFilters{
		Category:    category,
		Subcategory: subcategory,
		FileType:    req.FileType,
	})
	if err != nil {
		s.log.Error("search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.docs.CollectionStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.log.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDeleteCollection(c *gin.Context) {
	n, err := s.docs.DeleteCollection(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.log.Error("delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_documents": n})
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
