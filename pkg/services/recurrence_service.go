package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/merchant-engine/pkg/apperrors"
	"github.com/ledgerline/merchant-engine/pkg/config"
	"github.com/ledgerline/merchant-engine/pkg/database"
	"github.com/ledgerline/merchant-engine/pkg/logging"
	"github.com/ledgerline/merchant-engine/pkg/models"
	"github.com/ledgerline/merchant-engine/pkg/recurrence"
	"github.com/ledgerline/merchant-engine/pkg/repositories"
)

// minBandOverlap is the amount-band overlap ratio at which a newly detected
// pattern is reconciled into an existing record instead of inserted.
const minBandOverlap = 0.5

// DetectionError is one merchant group's failure inside a detection run.
type DetectionError struct {
	MerchantGroupID uuid.UUID `json:"merchant_group_id"`
	Message         string    `json:"message"`
}

// DetectionReport summarizes one detection run. A failed group lands in
// Errors; it never aborts the remaining groups.
type DetectionReport struct {
	GroupsScanned int              `json:"groups_scanned"`
	Saved         int              `json:"saved"`
	Updated       int              `json:"updated"`
	Skipped       int              `json:"skipped"`
	Errors        []DetectionError `json:"errors,omitempty"`
}

// RecurrenceService mines merchant group histories for periodic payment
// patterns and reconciles them into durable records.
type RecurrenceService interface {
	// DetectForAccount runs detection over every merchant group in the
	// account, bounded to a lookback window in months (0 means the configured
	// default).
	DetectForAccount(ctx context.Context, accountID uuid.UUID, lookbackMonths int) (*DetectionReport, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID, includeLapsed bool) ([]*models.RecurringTransaction, error)
}

// AccountScopeOpener acquires account-scoped store connections. Satisfied by
// *database.DB; narrowed to an interface so tests can stand in for the pool.
type AccountScopeOpener interface {
	WithAccount(ctx context.Context, accountID uuid.UUID) (*database.AccountScope, error)
}

type recurrenceService struct {
	db        AccountScopeOpener
	groups    repositories.MerchantGroupRepository
	txns      repositories.TransactionRepository
	recurring repositories.RecurringTransactionRepository
	cfg       config.EngineConfig
	logger    *zap.Logger

	// now is injected in tests for deterministic lapsed evaluation.
	now func() time.Time
}

// NewRecurrenceService creates a new RecurrenceService.
func NewRecurrenceService(
	db AccountScopeOpener,
	groups repositories.MerchantGroupRepository,
	txns repositories.TransactionRepository,
	recurring repositories.RecurringTransactionRepository,
	cfg config.EngineConfig,
	logger *zap.Logger,
) RecurrenceService {
	return &recurrenceService{
		db:        db,
		groups:    groups,
		txns:      txns,
		recurring: recurring,
		cfg:       cfg,
		logger:    logger.Named("recurrence_service"),
		now:       time.Now,
	}
}

var _ RecurrenceService = (*recurrenceService)(nil)

func (s *recurrenceService) DetectForAccount(ctx context.Context, accountID uuid.UUID, lookbackMonths int) (*DetectionReport, error) {
	if lookbackMonths < 0 {
		return nil, apperrors.ErrInvalidLookback
	}
	if lookbackMonths == 0 {
		lookbackMonths = s.cfg.LookbackMonths
	}

	groups, err := s.groups.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	since := now.AddDate(0, -lookbackMonths, 0)
	detectCfg := recurrence.Config{
		MinOccurrences:  s.cfg.MinOccurrences,
		AmountCVCeiling: s.cfg.AmountCVCeiling,
		ConfidenceFloor: s.cfg.ConfidenceFloor,
		Now:             now,
	}

	report := &DetectionReport{GroupsScanned: len(groups)}

	// Groups are independent: each runs on its own scoped connection in a
	// bounded worker pool. All reads and writes for one group stay on one
	// worker, so per-group reconciliation is serialized.
	workers := s.cfg.DetectionWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(groups) {
		workers = len(groups)
	}

	jobs := make(chan *models.MerchantGroup)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range jobs {
				saved, updated, skipped, errs := s.detectGroup(ctx, accountID, group.ID, since, detectCfg)
				mu.Lock()
				// Counts always fold in: writes that landed before a failing
				// pattern stay visible in the report.
				report.Saved += saved
				report.Updated += updated
				report.Skipped += skipped
				for _, err := range errs {
					report.Errors = append(report.Errors, DetectionError{
						MerchantGroupID: group.ID,
						Message:         logging.SanitizeError(err),
					})
				}
				mu.Unlock()
			}
		}()
	}

	for _, g := range groups {
		select {
		case jobs <- g:
		case <-ctx.Done():
			// Cancellation stops dispatching further groups; in-flight ones
			// finish and the partial report is returned.
			close(jobs)
			wg.Wait()
			return report, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("recurrence detection complete",
		zap.String("account_id", accountID.String()),
		zap.Int("groups_scanned", report.GroupsScanned),
		zap.Int("saved", report.Saved),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// detectGroup loads one group's history, runs the detector, and reconciles
// the result. It acquires its own account scope so workers never share a
// connection.
func (s *recurrenceService) detectGroup(ctx context.Context, accountID, groupID uuid.UUID, since time.Time, detectCfg recurrence.Config) (saved, updated, skipped int, errs []error) {
	scope, err := s.db.WithAccount(ctx, accountID)
	if err != nil {
		return 0, 0, 0, []error{err}
	}
	defer scope.Close()
	gctx := database.SetAccountScope(ctx, scope)

	history, err := s.txns.HistoryByGroup(gctx, accountID, groupID, since)
	if err != nil {
		return 0, 0, 0, []error{err}
	}

	patterns := recurrence.Detect(history, detectCfg)
	if len(patterns) == 0 {
		return 0, 0, 0, nil
	}

	return s.reconcile(gctx, accountID, groupID, patterns)
}

// reconcile folds newly detected patterns into the stored records for one
// merchant group. A new pattern matching a stored record's frequency class
// with enough amount-band overlap updates it; otherwise it is inserted.
// Unchanged matches are skipped so re-running on unchanged history writes
// nothing. Patterns fail independently: a group can carry an expense and an
// income pattern, and one failed write never abandons the other.
func (s *recurrenceService) reconcile(ctx context.Context, accountID, groupID uuid.UUID, patterns []recurrence.Pattern) (saved, updated, skipped int, errs []error) {
	existing, err := s.recurring.ListByGroup(ctx, accountID, groupID)
	if err != nil {
		return 0, 0, 0, []error{err}
	}

	for _, p := range patterns {
		match := findMatch(existing, p)
		switch {
		case match == nil:
			rec := &models.RecurringTransaction{
				AccountID:       accountID,
				MerchantGroupID: groupID,
				Type:            p.Type,
				Frequency:       p.Frequency,
				AmountMin:       p.AmountMin,
				AmountMax:       p.AmountMax,
				AmountTypical:   p.AmountTypical,
				FirstSeen:       p.FirstSeen,
				LastSeen:        p.LastSeen,
				NextExpected:    p.NextExpected,
				Confidence:      p.Confidence,
				OccurrenceCount: p.OccurrenceCount,
				TransactionIDs:  p.TransactionIDs,
				IsLapsed:        p.IsLapsed,
			}
			if insertErr := s.recurring.Insert(ctx, rec); insertErr != nil {
				errs = append(errs, insertErr)
				continue
			}
			existing = append(existing, rec)
			saved++

		case unchanged(match, p):
			skipped++

		default:
			applyPattern(match, p)
			if updateErr := s.recurring.Update(ctx, match); updateErr != nil {
				errs = append(errs, updateErr)
				continue
			}
			updated++
		}
	}
	return saved, updated, skipped, errs
}

// findMatch locates a stored record the detected pattern reconciles into:
// same transaction type, same frequency class, amount bands overlapping by
// at least half of the narrower band.
func findMatch(existing []*models.RecurringTransaction, p recurrence.Pattern) *models.RecurringTransaction {
	for _, rec := range existing {
		if rec.Type != p.Type || rec.Frequency != p.Frequency {
			continue
		}
		if bandOverlap(rec.AmountMin, rec.AmountMax, p.AmountMin, p.AmountMax) >= minBandOverlap {
			return rec
		}
	}
	return nil
}

// unchanged reports whether the detected pattern adds nothing to the stored
// record, making the reconcile a no-op.
func unchanged(rec *models.RecurringTransaction, p recurrence.Pattern) bool {
	return rec.LastSeen.Equal(p.LastSeen) &&
		rec.OccurrenceCount == p.OccurrenceCount &&
		rec.AmountMin.Equal(p.AmountMin) &&
		rec.AmountMax.Equal(p.AmountMax) &&
		rec.IsLapsed == p.IsLapsed
}

// applyPattern folds the detected pattern into the stored record: the band
// widens, the dates advance, confidence and evidence are recomputed values
// from the fresh run. UserConfirmed survives reconciliation untouched.
func applyPattern(rec *models.RecurringTransaction, p recurrence.Pattern) {
	rec.AmountMin = decimal.Min(rec.AmountMin, p.AmountMin)
	rec.AmountMax = decimal.Max(rec.AmountMax, p.AmountMax)
	rec.AmountTypical = p.AmountTypical
	if p.FirstSeen.Before(rec.FirstSeen) {
		rec.FirstSeen = p.FirstSeen
	}
	if p.LastSeen.After(rec.LastSeen) {
		rec.LastSeen = p.LastSeen
	}
	rec.NextExpected = p.NextExpected
	rec.Confidence = p.Confidence
	rec.OccurrenceCount = p.OccurrenceCount
	rec.TransactionIDs = p.TransactionIDs
	rec.IsLapsed = p.IsLapsed
}

// bandOverlap returns how much of the narrower of two amount bands is covered
// by their intersection, in [0,1]. Point bands count as fully overlapped when
// they sit inside the other band.
func bandOverlap(aMin, aMax, bMin, bMax decimal.Decimal) float64 {
	lo := decimal.Max(aMin, bMin)
	hi := decimal.Min(aMax, bMax)
	if hi.LessThan(lo) {
		return 0
	}

	narrower := decimal.Min(aMax.Sub(aMin), bMax.Sub(bMin))
	if narrower.IsZero() {
		return 1
	}

	ratio := hi.Sub(lo).Div(narrower).InexactFloat64()
	if ratio > 1 {
		return 1
	}
	return ratio
}

func (s *recurrenceService) ListForAccount(ctx context.Context, accountID uuid.UUID, includeLapsed bool) ([]*models.RecurringTransaction, error) {
	return s.recurring.ListByAccount(ctx, accountID, includeLapsed)
}
