package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/database"
	"github.com/ledgerline/merchant-engine/pkg/models"
)

// MerchantMappingRepository provides data access for pattern-to-group mappings.
type MerchantMappingRepository interface {
	// Upsert records a sighting of a canonical pattern. On first sighting it
	// creates the mapping; on conflict it increments the usage counter and
	// refreshes last_used_at while keeping the winner's group assignment.
	// Returns the stored row and whether this call created it.
	Upsert(ctx context.Context, mapping *models.MerchantMapping) (bool, error)
	GetByCanonical(ctx context.Context, accountID uuid.UUID, canonical string) (*models.MerchantMapping, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.MerchantMapping, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantMapping, error)
	// SetGroupManual records a user curation: the group link changes (or
	// clears) and the mapping stops being automatic.
	SetGroupManual(ctx context.Context, id uuid.UUID, groupID *uuid.UUID) error
	// AssignGroupAutomatic links a pattern to a group only while the mapping
	// is still automatic; manual curation always wins over re-clustering.
	AssignGroupAutomatic(ctx context.Context, accountID uuid.UUID, canonical string, groupID uuid.UUID, confidence float64) (bool, error)
}

type merchantMappingRepository struct{}

// NewMerchantMappingRepository creates a new MerchantMappingRepository.
func NewMerchantMappingRepository() MerchantMappingRepository {
	return &merchantMappingRepository{}
}

var _ MerchantMappingRepository = (*merchantMappingRepository)(nil)

const mappingColumns = `id, account_id, raw_pattern, canonical_pattern, merchant_group_id,
		is_automatic, confidence, usage_count, last_used_at, created_at, updated_at`

func (r *merchantMappingRepository) Upsert(ctx context.Context, mapping *models.MerchantMapping) (bool, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return false, fmt.Errorf("no account scope in context")
	}

	now := time.Now()
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}

	// Usage-count increments are monotonic and safe to apply out of order;
	// the group assignment of an existing row is never touched here.
	query := `
		INSERT INTO merchant_mappings (
			` + mappingColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8, $8)
		ON CONFLICT (account_id, canonical_pattern)
		DO UPDATE SET
			usage_count = merchant_mappings.usage_count + 1,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + mappingColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	err := scope.Conn.QueryRow(ctx, query,
		mapping.ID, mapping.AccountID, mapping.RawPattern, mapping.CanonicalPattern,
		mapping.MerchantGroupID, mapping.IsAutomatic, mapping.Confidence, now,
	).Scan(
		&mapping.ID, &mapping.AccountID, &mapping.RawPattern, &mapping.CanonicalPattern,
		&mapping.MerchantGroupID, &mapping.IsAutomatic, &mapping.Confidence,
		&mapping.UsageCount, &mapping.LastUsedAt, &mapping.CreatedAt, &mapping.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert merchant mapping: %w", err)
	}
	return inserted, nil
}

func (r *merchantMappingRepository) GetByCanonical(ctx context.Context, accountID uuid.UUID, canonical string) (*models.MerchantMapping, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT ` + mappingColumns + `
		FROM merchant_mappings
		WHERE account_id = $1 AND canonical_pattern = $2`

	m, err := scanMerchantMapping(scope.Conn.QueryRow(ctx, query, accountID, canonical))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return m, nil
}

func (r *merchantMappingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MerchantMapping, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT ` + mappingColumns + `
		FROM merchant_mappings
		WHERE id = $1`

	m, err := scanMerchantMapping(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *merchantMappingRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantMapping, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT ` + mappingColumns + `
		FROM merchant_mappings
		WHERE account_id = $1
		ORDER BY canonical_pattern`

	rows, err := scope.Conn.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchant mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*models.MerchantMapping, 0)
	for rows.Next() {
		m, err := scanMerchantMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchant mappings: %w", err)
	}
	return mappings, nil
}

func (r *merchantMappingRepository) SetGroupManual(ctx context.Context, id uuid.UUID, groupID *uuid.UUID) error {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return fmt.Errorf("no account scope in context")
	}

	query := `
		UPDATE merchant_mappings
		SET merchant_group_id = $2, is_automatic = FALSE, updated_at = $3
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, groupID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set mapping group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *merchantMappingRepository) AssignGroupAutomatic(ctx context.Context, accountID uuid.UUID, canonical string, groupID uuid.UUID, confidence float64) (bool, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return false, fmt.Errorf("no account scope in context")
	}

	query := `
		UPDATE merchant_mappings
		SET merchant_group_id = $3, confidence = $4, updated_at = $5
		WHERE account_id = $1 AND canonical_pattern = $2 AND is_automatic = TRUE`

	result, err := scope.Conn.Exec(ctx, query, accountID, canonical, groupID, confidence, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to assign mapping group: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func scanMerchantMapping(row pgx.Row) (*models.MerchantMapping, error) {
	var m models.MerchantMapping
	err := row.Scan(
		&m.ID, &m.AccountID, &m.RawPattern, &m.CanonicalPattern, &m.MerchantGroupID,
		&m.IsAutomatic, &m.Confidence, &m.UsageCount, &m.LastUsedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan merchant mapping: %w", err)
	}
	return &m, nil
}
