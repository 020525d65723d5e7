package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/merchant-engine/pkg/database"
	"github.com/ledgerline/merchant-engine/pkg/models"
)

// DescriptionCount is a distinct raw description and its transaction count.
type DescriptionCount struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// TransactionRepository is the engine's read/backfill view over the ledger
// owned by the surrounding application.
type TransactionRepository interface {
	// DistinctDescriptions returns every distinct description for an account
	// with its frequency, most frequent first (ties by description).
	DistinctDescriptions(ctx context.Context, accountID uuid.UUID) ([]DescriptionCount, error)
	// DistinctUnlinkedDescriptions is DistinctDescriptions restricted to
	// transactions with no merchant group link yet.
	DistinctUnlinkedDescriptions(ctx context.Context, accountID uuid.UUID) ([]DescriptionCount, error)
	// HistoryByGroup returns one merchant group's transactions since the
	// given date, ordered by date ascending.
	HistoryByGroup(ctx context.Context, accountID, groupID uuid.UUID, since time.Time) ([]models.Transaction, error)
	// LinkByDescription stamps a merchant group onto unlinked transactions
	// carrying the exact raw description. Returns rows updated.
	LinkByDescription(ctx context.Context, accountID uuid.UUID, description string, groupID uuid.UUID) (int64, error)
}

type transactionRepository struct{}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository() TransactionRepository {
	return &transactionRepository{}
}

var _ TransactionRepository = (*transactionRepository)(nil)

func (r *transactionRepository) DistinctDescriptions(ctx context.Context, accountID uuid.UUID) ([]DescriptionCount, error) {
	return r.distinctDescriptions(ctx, accountID, false)
}

func (r *transactionRepository) DistinctUnlinkedDescriptions(ctx context.Context, accountID uuid.UUID) ([]DescriptionCount, error) {
	return r.distinctDescriptions(ctx, accountID, true)
}

func (r *transactionRepository) distinctDescriptions(ctx context.Context, accountID uuid.UUID, unlinkedOnly bool) ([]DescriptionCount, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT description, COUNT(*) AS cnt
		FROM transactions
		WHERE account_id = $1`
	if unlinkedOnly {
		query += ` AND merchant_group_id IS NULL`
	}
	// Deterministic ordering keeps clustering reproducible run to run.
	query += `
		GROUP BY description
		ORDER BY cnt DESC, description`

	rows, err := scope.Conn.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get distinct descriptions: %w", err)
	}
	defer rows.Close()

	counts := make([]DescriptionCount, 0)
	for rows.Next() {
		var dc DescriptionCount
		if err := rows.Scan(&dc.Description, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan description count: %w", err)
		}
		counts = append(counts, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating descriptions: %w", err)
	}
	return counts, nil
}

func (r *transactionRepository) HistoryByGroup(ctx context.Context, accountID, groupID uuid.UUID, since time.Time) ([]models.Transaction, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT id, account_id, date, amount::text, description, type, merchant_group_id
		FROM transactions
		WHERE account_id = $1 AND merchant_group_id = $2 AND date >= $3
		ORDER BY date, id`

	rows, err := scope.Conn.Query(ctx, query, accountID, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get group history: %w", err)
	}
	defer rows.Close()

	txns := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Date, &amount, &t.Description, &t.Type, &t.MerchantGroupID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction amount %q: %w", amount, err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func (r *transactionRepository) LinkByDescription(ctx context.Context, accountID uuid.UUID, description string, groupID uuid.UUID) (int64, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no account scope in context")
	}

	query := `
		UPDATE transactions
		SET merchant_group_id = $3
		WHERE account_id = $1 AND description = $2 AND merchant_group_id IS NULL`

	result, err := scope.Conn.Exec(ctx, query, accountID, description, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to link transactions: %w", err)
	}
	return result.RowsAffected(), nil
}
