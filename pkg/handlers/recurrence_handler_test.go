package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/models"
	"github.com/ledgerline/merchant-engine/pkg/services"
)

type mockRecurrenceService struct {
	report    *services.DetectionReport
	detectErr error

	recurrences       []*models.RecurringTransaction
	listErr           error
	lastIncludeLapsed bool
	lastLookback      int
}

func (m *mockRecurrenceService) DetectForAccount(ctx context.Context, accountID uuid.UUID, lookbackMonths int) (*services.DetectionReport, error) {
	m.lastLookback = lookbackMonths
	if m.detectErr != nil {
		return nil, m.detectErr
	}
	return m.report, nil
}

func (m *mockRecurrenceService) ListForAccount(ctx context.Context, accountID uuid.UUID, includeLapsed bool) ([]*models.RecurringTransaction, error) {
	m.lastIncludeLapsed = includeLapsed
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.recurrences, nil
}

var _ services.RecurrenceService = (*mockRecurrenceService)(nil)

func newRecurrenceMux(svc services.RecurrenceService) *http.ServeMux {
	mux := http.NewServeMux()
	NewRecurrenceHandler(svc, zap.NewNop()).RegisterRoutes(mux, passthroughMiddleware)
	return mux
}

func TestRecurrenceHandler_Detect(t *testing.T) {
	svc := &mockRecurrenceService{
		report: &services.DetectionReport{GroupsScanned: 3, Saved: 2, Skipped: 1},
	}
	mux := newRecurrenceMux(svc)
	accountID := uuid.New()

	rec := doJSON(t, mux, http.MethodPost,
		"/api/accounts/"+accountID.String()+"/recurrences/detect",
		DetectRequest{LookbackMonths: 12})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, svc.lastLookback)

	var resp struct {
		Success bool                     `json:"success"`
		Data    services.DetectionReport `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Data.Saved)
}

func TestRecurrenceHandler_Detect_InvalidLookback(t *testing.T) {
	svc := &mockRecurrenceService{detectErr: apperrors.ErrInvalidLookback}
	mux := newRecurrenceMux(svc)
	accountID := uuid.New()

	rec := doJSON(t, mux, http.MethodPost,
		"/api/accounts/"+accountID.String()+"/recurrences/detect",
		DetectRequest{LookbackMonths: -1})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecurrenceHandler_Detect_PartialFailureStillSucceeds(t *testing.T) {
	svc := &mockRecurrenceService{
		report: &services.DetectionReport{
			GroupsScanned: 2,
			Saved:         1,
			Errors: []services.DetectionError{
				{MerchantGroupID: uuid.New(), Message: "history read timed out"},
			},
		},
	}
	mux := newRecurrenceMux(svc)
	accountID := uuid.New()

	rec := doJSON(t, mux, http.MethodPost,
		"/api/accounts/"+accountID.String()+"/recurrences/detect", nil)

	require.Equal(t, http.StatusOK, rec.Code, "per-group failures ride in the report")

	var resp struct {
		Data services.DetectionReport `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Data.Errors, 1)
}

func TestRecurrenceHandler_List_LapsedFlag(t *testing.T) {
	svc := &mockRecurrenceService{
		recurrences: []*models.RecurringTransaction{
			{ID: uuid.New(), Frequency: models.FrequencyMonthly},
		},
	}
	mux := newRecurrenceMux(svc)
	accountID := uuid.New()
	base := "/api/accounts/" + accountID.String() + "/recurrences"

	rec := doJSON(t, mux, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.lastIncludeLapsed)

	rec = doJSON(t, mux, http.MethodGet, base+"?include_lapsed=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastIncludeLapsed)

	var resp struct {
		Data RecurrenceListResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.Total)
}
