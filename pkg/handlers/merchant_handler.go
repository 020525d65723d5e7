package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/models"
	"github.com/ledgerline/merchant-engine/pkg/services"
)

// AccountMiddleware wires the account-scoped store connection into the
// request context before a handler runs.
type AccountMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// ResolveRequest for POST /merchants/resolve
type ResolveRequest struct {
	Description string `json:"description"`
}

// ResolveBatchRequest for POST /merchants/resolve/batch
type ResolveBatchRequest struct {
	Descriptions []string `json:"descriptions"`
}

// ResolveBatchResponse summarizes a batch resolve.
type ResolveBatchResponse struct {
	Outcomes []services.ResolveOutcome `json:"outcomes"`
	Total    int                       `json:"total"`
	Failed   int                       `json:"failed"`
}

// AutoGroupRequest for POST /merchants/auto-group
type AutoGroupRequest struct {
	Threshold float64 `json:"threshold,omitempty"`
	DryRun    bool    `json:"dry_run,omitempty"`
}

// MerchantGroupListResponse for GET /merchant-groups
type MerchantGroupListResponse struct {
	Groups []*models.MerchantGroup `json:"groups"`
	Total  int                     `json:"total"`
}

// RenameGroupRequest for PATCH /merchant-groups/{gid}
type RenameGroupRequest struct {
	Name string `json:"name"`
}

// AssignMappingGroupRequest for PUT /merchant-mappings/{mid}/group.
// A null merchant_group_id ungroups the mapping.
type AssignMappingGroupRequest struct {
	MerchantGroupID *uuid.UUID `json:"merchant_group_id"`
}

// MerchantMappingListResponse for GET /merchant-mappings
type MerchantMappingListResponse struct {
	Mappings []*models.MerchantMapping `json:"mappings"`
	Total    int                       `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// MerchantHandler handles merchant resolution and grouping HTTP requests.
type MerchantHandler struct {
	merchantService services.MerchantService
	logger          *zap.Logger
}

// NewMerchantHandler creates a new merchant handler.
func NewMerchantHandler(merchantService services.MerchantService, logger *zap.Logger) *MerchantHandler {
	return &MerchantHandler{
		merchantService: merchantService,
		logger:          logger,
	}
}

// RegisterRoutes registers the merchant handler's routes on the given mux.
func (h *MerchantHandler) RegisterRoutes(mux *http.ServeMux, accountMiddleware AccountMiddleware) {
	base := "/api/accounts/{aid}"

	mux.HandleFunc("POST "+base+"/merchants/resolve", accountMiddleware(h.Resolve))
	mux.HandleFunc("POST "+base+"/merchants/resolve/batch", accountMiddleware(h.ResolveBatch))
	mux.HandleFunc("POST "+base+"/merchants/auto-group", accountMiddleware(h.AutoGroup))
	mux.HandleFunc("POST "+base+"/merchants/backfill", accountMiddleware(h.Backfill))

	mux.HandleFunc("GET "+base+"/merchant-groups", accountMiddleware(h.ListGroups))
	mux.HandleFunc("PATCH "+base+"/merchant-groups/{gid}", accountMiddleware(h.RenameGroup))

	mux.HandleFunc("GET "+base+"/merchant-mappings", accountMiddleware(h.ListMappings))
	mux.HandleFunc("PUT "+base+"/merchant-mappings/{mid}/group", accountMiddleware(h.AssignMappingGroup))
}

// Resolve handles POST /api/accounts/{aid}/merchants/resolve
func (h *MerchantHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		h.writeBadRequest(w, "empty_description", "Description is required")
		return
	}

	resolution, err := h.merchantService.ResolveDescription(r.Context(), accountID, req.Description)
	if err != nil {
		h.writeServiceError(w, "resolve_failed", accountID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resolution}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ResolveBatch handles POST /api/accounts/{aid}/merchants/resolve/batch
func (h *MerchantHandler) ResolveBatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	var req ResolveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if len(req.Descriptions) == 0 {
		h.writeBadRequest(w, "empty_batch", "At least one description is required")
		return
	}

	outcomes := h.merchantService.ResolveBatch(r.Context(), accountID, req.Descriptions)

	failed := 0
	for _, o := range outcomes {
		if o.Err != "" {
			failed++
		}
	}
	response := ResolveBatchResponse{
		Outcomes: outcomes,
		Total:    len(outcomes),
		Failed:   failed,
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AutoGroup handles POST /api/accounts/{aid}/merchants/auto-group
func (h *MerchantHandler) AutoGroup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	// Body is optional; an empty body means defaults with a real run.
	var req AutoGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.merchantService.AutoGroup(r.Context(), accountID, req.Threshold, req.DryRun)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidThreshold) {
			h.writeBadRequest(w, "invalid_threshold", err.Error())
			return
		}
		h.writeServiceError(w, "auto_group_failed", accountID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Backfill handles POST /api/accounts/{aid}/merchants/backfill
func (h *MerchantHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.merchantService.Backfill(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "backfill_failed", accountID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListGroups handles GET /api/accounts/{aid}/merchant-groups
func (h *MerchantHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	groups, err := h.merchantService.ListGroups(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "list_groups_failed", accountID, err)
		return
	}

	response := MerchantGroupListResponse{Groups: groups, Total: len(groups)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RenameGroup handles PATCH /api/accounts/{aid}/merchant-groups/{gid}
func (h *MerchantHandler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}
	groupID, ok := ParseGroupID(w, r, h.logger)
	if !ok {
		return
	}

	var req RenameGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeBadRequest(w, "empty_name", "Group name is required")
		return
	}

	group, err := h.merchantService.RenameGroup(r.Context(), accountID, groupID, req.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeNotFound(w, "group_not_found", "Merchant group not found")
			return
		}
		h.writeServiceError(w, "rename_group_failed", accountID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: group}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListMappings handles GET /api/accounts/{aid}/merchant-mappings
func (h *MerchantHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}

	mappings, err := h.merchantService.ListMappings(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "list_mappings_failed", accountID, err)
		return
	}

	response := MerchantMappingListResponse{Mappings: mappings, Total: len(mappings)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// AssignMappingGroup handles PUT /api/accounts/{aid}/merchant-mappings/{mid}/group
func (h *MerchantHandler) AssignMappingGroup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := ParseAccountID(w, r, h.logger)
	if !ok {
		return
	}
	mappingID, ok := ParseMappingID(w, r, h.logger)
	if !ok {
		return
	}

	var req AssignMappingGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}

	mapping, err := h.merchantService.AssignMappingGroup(r.Context(), accountID, mappingID, req.MerchantGroupID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeNotFound(w, "not_found", "Merchant mapping or group not found")
			return
		}
		h.writeServiceError(w, "assign_mapping_failed", accountID, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: mapping}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (h *MerchantHandler) writeBadRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *MerchantHandler) writeNotFound(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusNotFound, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *MerchantHandler) writeServiceError(w http.ResponseWriter, code string, accountID uuid.UUID, err error) {
	h.logger.Error("Merchant operation failed",
		zap.String("account_id", accountID.String()),
		zap.Error(err))
	if err := ErrorResponse(w, http.StatusInternalServerError, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
