package database

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithAccountContext creates middleware that sets up an account-scoped DB
// connection for the account id in the request path ({aid}). The caller
// supplies the scope; the engine performs no authentication of its own.
// The connection is cleaned up after the handler returns, and every store
// call inherits the configured statement timeout.
func WithAccountContext(db *DB, timeout time.Duration, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			accountID, err := uuid.Parse(r.PathValue("aid"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_account_id", "Invalid account ID format")
				return
			}

			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			scope, err := db.WithAccount(ctx, accountID)
			if err != nil {
				logger.Error("Failed to acquire account connection",
					zap.String("account_id", accountID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetAccountScope(ctx, scope)))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
