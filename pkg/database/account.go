package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountScope wraps a connection carrying the account context every engine
// query is scoped to. The connection has app.current_account_id set so RLS
// policies confine reads and writes to one account.
type AccountScope struct {
	Conn      *pgxpool.Conn
	AccountID uuid.UUID
}

// Close resets the account context and releases the connection to the pool.
// This MUST be called to prevent account context leaking to the next request.
func (s *AccountScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_account_id")
	s.Conn.Release()
	s.Conn = nil
}

// WithAccount acquires a connection and sets the account context for RLS.
// The returned AccountScope MUST be closed with defer scope.Close().
func (db *DB) WithAccount(ctx context.Context, accountID uuid.UUID) (*AccountScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_account_id', $1, false)", accountID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &AccountScope{Conn: conn, AccountID: accountID}, nil
}

type contextKey string

// AccountScopeKey is the context key for the account-scoped connection.
const AccountScopeKey contextKey = "accountScope"

// GetAccountScope retrieves the account-scoped database connection from context.
func GetAccountScope(ctx context.Context) (*AccountScope, bool) {
	scope, ok := ctx.Value(AccountScopeKey).(*AccountScope)
	return scope, ok
}

// SetAccountScope stores the account-scoped database connection in context.
func SetAccountScope(ctx context.Context, scope *AccountScope) context.Context {
	return context.WithValue(ctx, AccountScopeKey, scope)
}
