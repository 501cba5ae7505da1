package service

import (
	"context"
	"log"

	"plansight-backend/models"
	"plansight-backend/repository"
)

// QueryEmbedder embeds retrieval queries
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// ChunkSearcher performs similarity search over the embedded corpus
type ChunkSearcher interface {
	Search(ctx context.Context, embedding []float64, limit int, poolMultiplier int, filters repository.SearchFilters) ([]models.PolicyChunk, error)
}

// RetrievalService embeds a focus string and returns the most similar
// policy chunks for a corpus.
type RetrievalService struct {
	embedder QueryEmbedder
	searcher ChunkSearcher
}

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(embedder QueryEmbedder, searcher ChunkSearcher) *RetrievalService {
	return &RetrievalService{
		embedder: embedder,
		searcher: searcher,
	}
}

// RetrieveContext returns up to limit chunks from the corpus most similar
// to the focus text. Failures of any kind (embedding, search, missing
// corpus) are non-fatal: the caller receives an empty slice and proceeds
// with an ungrounded prompt rather than aborting the whole analysis.
func (s *RetrievalService) RetrieveContext(ctx context.Context, corpus, focus string, limit int) []models.PolicyChunk {
	if corpus == "" {
		return nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, focus)
	if err != nil {
		log.Printf("Warning: Failed to embed retrieval query: %v. Continuing with empty context.", err)
		return nil
	}

	chunks, err := s.searcher.Search(ctx, embedding, limit, repository.DefaultPoolMultiplier, repository.SearchFilters{
		Council: corpus,
	})
	if err != nil {
		log.Printf("Warning: Failed to search policy chunks: %v. Continuing with empty context.", err)
		return nil
	}

	return chunks
}
