package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/models"
	"github.com/ledgerline/merchant-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// DetectRequest for POST /recurrences/detect
type DetectRequest struct {
	LookbackMonths int `json:"lookback_months,omitempty"`
}

// RecurrenceListResponse for GET /recurrences
type RecurrenceListResponse struct {
	Recurrences []*models.RecurringTransaction `json:"recurrences"`
	Total       int                            `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// RecurrenceHandler handles recurrence detection HTTP requests.
type RecurrenceHandler struct {
	recurrenceService services.RecurrenceService
	logger            *zap.Logger
}

// NewRecurrenceHandler creates a new recurrence handler.
func NewRecurrenceHandler(recurrenceService services.RecurrenceService, logger *zap.Logger) *RecurrenceHandler {
	return &RecurrenceHandler{
		recurrenceService: recurrenceService,
		logger:            logger,
	}
}

// RegisterRoutes registers the recurrence handler's routes on the given mux.
func (h *RecurrenceHandler) RegisterRoutes(mux *http.ServeMux, accountMiddleware AccountMiddleware) {
	base := "/api/accounts/{aid}/recurrences"

	mux.HandleFunc("POST "+base+"/detect", accountMiddleware(h.Detect))
	mux.HandleFunc("GET "+base, accountMiddleware(h.List))
}

// Detect handles POST /api/accounts/{aid}/recurrences/detect
func (h *RecurrenceHandler) Detect(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	// Body is optional; an empty body runs with the configured lookback.
	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	report, err := h.recurrenceService.DetectForAccount(r.Context(), accountID, req.LookbackMonths)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidLookback) {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_lookback", err.Error()); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Recurrence detection failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "detection_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// Per-group failures ride inside the report so the caller can retry
	// selectively; the run itself still succeeded.
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/accounts/{aid}/recurrences
func (h *RecurrenceHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	includeLapsed := r.URL.Query().Get("include_lapsed") == "true"

	recurrences, err := h.recurrenceService.ListForAccount(r.Context(), accountID, includeLapsed)
	if err != nil {
		h.logger.Error("Failed to list recurrences",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_recurrences_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := RecurrenceListResponse{Recurrences: recurrences, Total: len(recurrences)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
