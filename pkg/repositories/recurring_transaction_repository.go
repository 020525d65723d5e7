package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/database"
	"github.com/ledgerline/merchant-engine/pkg/models"
)

// RecurringTransactionRepository provides data access for detected
// recurrence patterns.
type RecurringTransactionRepository interface {
	ListByGroup(ctx context.Context, accountID, groupID uuid.UUID) ([]*models.RecurringTransaction, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, includeLapsed bool) ([]*models.RecurringTransaction, error)
	Insert(ctx context.Context, rec *models.RecurringTransaction) error
	Update(ctx context.Context, rec *models.RecurringTransaction) error
}

type recurringTransactionRepository struct{}

// NewRecurringTransactionRepository creates a new RecurringTransactionRepository.
func NewRecurringTransactionRepository() RecurringTransactionRepository {
	return &recurringTransactionRepository{}
}

var _ RecurringTransactionRepository = (*recurringTransactionRepository)(nil)

const recurringColumns = `id, account_id, merchant_group_id, type, frequency,
		amount_min::text, amount_max::text, amount_typical::text,
		first_seen, last_seen, next_expected, confidence, occurrence_count,
		transaction_ids, is_lapsed, user_confirmed, created_at, updated_at`

func (r *recurringTransactionRepository) ListByGroup(ctx context.Context, accountID, groupID uuid.UUID) ([]*models.RecurringTransaction, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT ` + recurringColumns + `
		FROM recurring_transactions
		WHERE account_id = $1 AND merchant_group_id = $2
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, accountID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring transactions: %w", err)
	}
	defer rows.Close()

	return collectRecurring(rows)
}

func (r *recurringTransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, includeLapsed bool) ([]*models.RecurringTransaction, error) {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no account scope in context")
	}

	query := `
		SELECT ` + recurringColumns + `
		FROM recurring_transactions
		WHERE account_id = $1`
	if !includeLapsed {
		query += ` AND is_lapsed = FALSE`
	}
	query += `
		ORDER BY confidence DESC, created_at, id`

	rows, err := scope.Conn.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring transactions: %w", err)
	}
	defer rows.Close()

	return collectRecurring(rows)
}

func (r *recurringTransactionRepository) Insert(ctx context.Context, rec *models.RecurringTransaction) error {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return fmt.Errorf("no account scope in context")
	}

	now := time.Now()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO recurring_transactions (
			id, account_id, merchant_group_id, type, frequency,
			amount_min, amount_max, amount_typical,
			first_seen, last_seen, next_expected, confidence, occurrence_count,
			transaction_ids, is_lapsed, user_confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := scope.Conn.Exec(ctx, query,
		rec.ID, rec.AccountID, rec.MerchantGroupID, rec.Type, rec.Frequency,
		rec.AmountMin.String(), rec.AmountMax.String(), rec.AmountTypical.String(),
		rec.FirstSeen, rec.LastSeen, rec.NextExpected, rec.Confidence, rec.OccurrenceCount,
		rec.TransactionIDs, rec.IsLapsed, rec.UserConfirmed, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recurring transaction: %w", err)
	}
	return nil
}

func (r *recurringTransactionRepository) Update(ctx context.Context, rec *models.RecurringTransaction) error {
	scope, ok := database.GetAccountScope(ctx)
	if !ok {
		return fmt.Errorf("no account scope in context")
	}

	rec.UpdatedAt = time.Now()

	query := `
		UPDATE recurring_transactions
		SET amount_min = $2, amount_max = $3, amount_typical = $4,
			first_seen = $5, last_seen = $6, next_expected = $7,
			confidence = $8, occurrence_count = $9, transaction_ids = $10,
			is_lapsed = $11, user_confirmed = $12, updated_at = $13
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query,
		rec.ID,
		rec.AmountMin.String(), rec.AmountMax.String(), rec.AmountTypical.String(),
		rec.FirstSeen, rec.LastSeen, rec.NextExpected,
		rec.Confidence, rec.OccurrenceCount, rec.TransactionIDs,
		rec.IsLapsed, rec.UserConfirmed, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update recurring transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func collectRecurring(rows pgx.Rows) ([]*models.RecurringTransaction, error) {
	recs := make([]*models.RecurringTransaction, 0)
	for rows.Next() {
		rec, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recurring transactions: %w", err)
	}
	return recs, nil
}

func scanRecurring(rows pgx.Rows) (*models.RecurringTransaction, error) {
	var rec models.RecurringTransaction
	var amountMin, amountMax, amountTypical string

	err := rows.Scan(
		&rec.ID, &rec.AccountID, &rec.MerchantGroupID, &rec.Type, &rec.Frequency,
		&amountMin, &amountMax, &amountTypical,
		&rec.FirstSeen, &rec.LastSeen, &rec.NextExpected, &rec.Confidence, &rec.OccurrenceCount,
		&rec.TransactionIDs, &rec.IsLapsed, &rec.UserConfirmed, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan recurring transaction: %w", err)
	}

	for name, raw := range map[string]struct {
		dst *decimal.Decimal
		val string
	}{
		"amount_min":     {&rec.AmountMin, amountMin},
		"amount_max":     {&rec.AmountMax, amountMax},
		"amount_typical": {&rec.AmountTypical, amountTypical},
	} {
		d, err := decimal.NewFromString(raw.val)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s %q: %w", name, raw.val, err)
		}
		*raw.dst = d
	}

	return &rec, nil
}
