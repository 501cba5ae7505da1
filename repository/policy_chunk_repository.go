package repository

import (
	"context"
	"fmt"
	"log"
	"strings"

	"plansight-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EmbeddingDimensions is fixed per corpus and must match the vector index
const EmbeddingDimensions = 768

// DefaultPoolMultiplier sizes the approximate candidate pool relative to the
// requested limit before exact re-ranking.
const DefaultPoolMultiplier = 10

// PolicyChunkRepository handles database operations for policy chunks
type PolicyChunkRepository struct {
	db *pgxpool.Pool
}

// NewPolicyChunkRepository creates a new policy chunk repository
func NewPolicyChunkRepository(db *pgxpool.Pool) *PolicyChunkRepository {
	return &PolicyChunkRepository{db: db}
}

// FormatVector formats an embedding vector as a string for pgx
func FormatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, 0, len(embedding))
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// EnsureIndex creates the pgvector extension, chunk table and ANN index if
// they do not already exist. Creation failures are logged as warnings, not
// returned: on managed Postgres the extension or index may need to be
// provisioned out-of-band with higher privileges.
func (r *PolicyChunkRepository) EnsureIndex(ctx context.Context) {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS policy_chunks (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			source_document VARCHAR(255) NOT NULL,
			council VARCHAR(255) NOT NULL,
			section_heading TEXT,
			section_type VARCHAR(50) NOT NULL CHECK (section_type IN ('policy', 'objective', 'site_allocation', 'evidence_base', 'guidance')),
			page INTEGER NOT NULL DEFAULT 0,
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			char_count INTEGER NOT NULL,
			embedding vector(%d)
		)`, EmbeddingDimensions),
		`CREATE INDEX IF NOT EXISTS policy_chunks_embedding_idx ON policy_chunks
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS policy_chunks_council_idx ON policy_chunks (council)`,
		`CREATE INDEX IF NOT EXISTS policy_chunks_source_idx ON policy_chunks (source_document)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			log.Printf("Warning: Failed to ensure vector index: %v", err)
		}
	}
}

// ReplaceSource deletes all chunks belonging to sourceDocument and inserts
// the new set in a single transaction. Deletion runs first and insertion
// last so a half-completed run leaves either the old set or the new set,
// never a merge of both.
func (r *PolicyChunkRepository) ReplaceSource(ctx context.Context, sourceDocument string, chunks []models.PolicyChunk) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM policy_chunks WHERE source_document = $1`, sourceDocument); err != nil {
		return fmt.Errorf("failed to delete existing chunks for %s: %w", sourceDocument, err)
	}

	query := `
		INSERT INTO policy_chunks (
			id, source_document, council, section_heading, section_type,
			page, chunk_index, chunk_text, char_count, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)`

	for _, chunk := range chunks {
		if len(chunk.Embedding) != EmbeddingDimensions {
			return fmt.Errorf("chunk %d: embedding must be %d dimensions, got %d",
				chunk.ChunkIndex, EmbeddingDimensions, len(chunk.Embedding))
		}

		_, err = tx.Exec(ctx, query,
			chunk.ID, chunk.SourceDocument, chunk.Council, chunk.SectionHeading,
			chunk.SectionType, chunk.Page, chunk.ChunkIndex, chunk.Text,
			chunk.CharCount, FormatVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SearchFilters restricts a similarity search by equality on metadata fields
type SearchFilters struct {
	Council     string
	SectionType models.SectionType
}

// FilterClause builds the WHERE fragment and arguments for the filters,
// numbering placeholders from startIdx. Both filters are optional.
func (f SearchFilters) FilterClause(startIdx int) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Council != "" {
		clauses = append(clauses, fmt.Sprintf("council = $%d", startIdx+len(args)))
		args = append(args, f.Council)
	}
	if f.SectionType != "" {
		clauses = append(clauses, fmt.Sprintf("section_type = $%d", startIdx+len(args)))
		args = append(args, string(f.SectionType))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Search performs an approximate nearest-neighbour search with cosine
// similarity, pulling a candidate pool of limit*poolMultiplier before exact
// re-ranking. Results are ordered by ascending distance with chunk_index as
// the deterministic tie-break.
func (r *PolicyChunkRepository) Search(
	ctx context.Context,
	embedding []float64,
	limit int,
	poolMultiplier int,
	filters SearchFilters,
) ([]models.PolicyChunk, error) {
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}
	if poolMultiplier <= 0 {
		poolMultiplier = DefaultPoolMultiplier
	}

	args := []interface{}{FormatVector(embedding)}
	filterSQL, filterArgs := filters.FilterClause(2)
	args = append(args, filterArgs...)

	poolArg := len(args) + 1
	limitArg := len(args) + 2
	args = append(args, limit*poolMultiplier, limit)

	query := fmt.Sprintf(`
		SELECT id, source_document, council, section_heading, section_type,
			page, chunk_index, chunk_text, char_count, distance
		FROM (
			SELECT id, source_document, council, section_heading, section_type,
				page, chunk_index, chunk_text, char_count,
				embedding <=> $1::vector AS distance
			FROM policy_chunks
			%s
			ORDER BY embedding <=> $1::vector
			LIMIT $%d
		) candidates
		ORDER BY distance, chunk_index
		LIMIT $%d`, filterSQL, poolArg, limitArg)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.PolicyChunk
	for rows.Next() {
		var chunk models.PolicyChunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.SourceDocument,
			&chunk.Council,
			&chunk.SectionHeading,
			&chunk.SectionType,
			&chunk.Page,
			&chunk.ChunkIndex,
			&chunk.Text,
			&chunk.CharCount,
			&chunk.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy chunks: %w", err)
	}

	return chunks, nil
}
