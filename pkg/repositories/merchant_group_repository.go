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

// MerchantGroupRepository provides data access for merchant groups.
type MerchantGroupRepository interface {
	Create(ctx context.Context, group *models.MerchantGroup) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MerchantGroup, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantGroup, error)
	// GetOrCreateByName upserts a group keyed on (account, name) and reports
	// whether the call created it. Concurrent callers converge on one row.
	GetOrCreateByName(ctx context.Context, accountID uuid.UUID, name string) (*models.MerchantGroup, bool, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
}

type merchantGroupRepository struct{}

// NewMerchantGroupRepository creates a new MerchantGroupRepository.
func NewMerchantGroupRepository() MerchantGroupRepository {
	return &merchantGroupRepository{}
}

var _ MerchantGroupRepository = (*merchantGroupRepository)(nil)

func (r *merchantGroupRepository) Create(ctx context.Context, group *models.MerchantGroup) error {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return fmt.Errorf("no account scope in context")
	}

	now := time.Now()
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	group.CreatedAt = now
	group.UpdatedAt = now

	query := `
		INSERT INTO merchant_groups (id, account_id, name, global_merchant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		group.ID, group.AccountID, group.Name, group.GlobalMerchantID,
		group.CreatedAt, group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create merchant group: %w", err)
	}
	return nil
}

func (r *merchantGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MerchantGroup, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT id, account_id, name, global_merchant_id, created_at, updated_at
		FROM merchant_groups
		WHERE id = $1`

	group, err := scanMerchantGroup(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return group, nil
}

func (r *merchantGroupRepository) GetByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.MerchantGroup, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT id, account_id, name, global_merchant_id, created_at, updated_at
		FROM merchant_groups
		WHERE account_id = $1
		ORDER BY name`

	rows, err := scope.Conn.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.MerchantGroup, 0)
	for rows.Next() {
		g, err := scanMerchantGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchant groups: %w", err)
	}
	return groups, nil
}

func (r *merchantGroupRepository) GetOrCreateByName(ctx context.Context, accountID uuid.UUID, name string) (*models.MerchantGroup, bool, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, false, fmt.Errorf("no account scope in context")
	}

	now := time.Now()

	// Insert-then-read-back: ON CONFLICT keeps the winner, xmax reveals
	// whether this statement created the row.
	query := `
		INSERT INTO merchant_groups (id, account_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (account_id, name)
		DO UPDATE SET updated_at = merchant_groups.updated_at
		RETURNING id, account_id, name, global_merchant_id, created_at, updated_at, (xmax = 0) AS inserted`

	var g models.MerchantGroup
	var inserted bool
	err := scope.Conn.QueryRow(ctx, query, uuid.New(), accountID, name, now).Scan(
		&g.ID, &g.AccountID, &g.Name, &g.GlobalMerchantID, &g.CreatedAt, &g.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create merchant group: %w", err)
	}
	return &g, inserted, nil
}

func (r *merchantGroupRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return fmt.Errorf("no account scope in context")
	}

	query := `UPDATE merchant_groups SET name = $2, updated_at = $3 WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, name, time.Now())
	if err != nil {
		return fmt.Errorf("failed to rename merchant group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanMerchantGroup(row pgx.Row) (*models.MerchantGroup, error) {
	var g models.MerchantGroup
	err := row.Scan(&g.ID, &g.AccountID, &g.Name, &g.GlobalMerchantID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan merchant group: %w", err)
	}
	return &g, nil
}
