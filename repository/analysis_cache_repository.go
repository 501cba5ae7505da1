package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"plansight-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalysisCacheRepository handles database operations for per-region
// analysis caches
type AnalysisCacheRepository struct {
	db *pgxpool.Pool
}

// NewAnalysisCacheRepository creates a new analysis cache repository
func NewAnalysisCacheRepository(db *pgxpool.Pool) *AnalysisCacheRepository {
	return &AnalysisCacheRepository{db: db}
}

// Get retrieves the cache record for a region. A missing record returns
// (nil, nil), not an error.
func (r *AnalysisCacheRepository) Get(ctx context.Context, regionID string) (*models.AnalysisCache, error) {
	cache := &models.AnalysisCache{}
	query := `
		SELECT region_id, council, bounds, stages, updated_at
		FROM analysis_caches
		WHERE region_id = $1`

	err := r.db.QueryRow(ctx, query, regionID).Scan(
		&cache.RegionID,
		&cache.Council,
		&cache.Bounds,
		&cache.Stages,
		&cache.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load analysis cache: %w", err)
	}

	if cache.Stages == nil {
		cache.Stages = make(models.StageResults)
	}

	return cache, nil
}

// UpsertStage writes one stage's result into the region's cache record,
// creating the record on first write. Only the entry for this stage number
// is replaced; other stage entries are untouched (jsonb concatenation at
// the storage layer, so the per-stage write is atomic).
func (r *AnalysisCacheRepository) UpsertStage(
	ctx context.Context,
	regionID string,
	council string,
	bounds models.Bounds,
	result models.StageResult,
) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal stage result: %w", err)
	}

	query := `
		INSERT INTO analysis_caches (region_id, council, bounds, stages, updated_at)
		VALUES ($1, $2, $3, jsonb_build_object($4::text, $5::jsonb), NOW())
		ON CONFLICT (region_id) DO UPDATE SET
			council = EXCLUDED.council,
			bounds = EXCLUDED.bounds,
			stages = analysis_caches.stages || EXCLUDED.stages,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		regionID, council, bounds, strconv.Itoa(result.StageNum), resultJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stage %d for region %s: %w", result.StageNum, regionID, err)
	}

	return nil
}

// Clear deletes the cache record for a region, or every record when
// regionID is nil. Deleting an absent record is not an error; the returned
// count is simply zero.
func (r *AnalysisCacheRepository) Clear(ctx context.Context, regionID *string) (int64, error) {
	var query string
	var args []interface{}

	if regionID != nil {
		query = `DELETE FROM analysis_caches WHERE region_id = $1`
		args = []interface{}{*regionID}
	} else {
		query = `DELETE FROM analysis_caches`
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear analysis cache: %w", err)
	}

	return tag.RowsAffected(), nil
}
