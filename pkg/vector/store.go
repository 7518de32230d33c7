// Package vector provides the knowledge base searched by the
// SEARCH_VECTOR_STORE tool.
package vector

import (
	"context"
	"fmt"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
)

// Document is one stored knowledge base entry.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult pairs a document with its cosine similarity to the query.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// Config holds vector store settings.
type Config struct {
	PersistPath string // empty = in-memory only
	Collection  string
}

// EmbeddingFunc maps text to an embedding vector.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// NewOpenAIEmbedding returns the default embedding backend
// (text-embedding-3-small). The API key is read from OPENAI_API_KEY.
func NewOpenAIEmbedding() EmbeddingFunc {
	return EmbeddingFunc(chromem.NewEmbeddingFuncDefault())
}

// Store wraps a chromem collection per company.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewStore opens (or creates) the knowledge base collection.
func NewStore(cfg Config, embed EmbeddingFunc) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "knowledge_base"
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	return &Store{db: db, collection: collection}, nil
}

// Add inserts documents into the knowledge base.
func (s *Store) Add(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("failed to add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search returns the topK most similar documents to the query text.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if s.collection.Count() == 0 {
		return nil, nil
	}
	if n := s.collection.Count(); topK > n {
		topK = n
	}

	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Document:   Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	return s.collection.Count()
}
