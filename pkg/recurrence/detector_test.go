package recurrence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/merchant-engine/pkg/models"
)

func monthlySeries(start time.Time, months int, amounts []string, typ models.TransactionType) []models.Transaction {
	txns := make([]models.Transaction, 0, months)
	for i := 0; i < months; i++ {
		amt := amounts[i%len(amounts)]
		txns = append(txns, models.Transaction{
			ID:     uuid.New(),
			Date:   start.AddDate(0, i, 0),
			Amount: decimal.RequireFromString(amt),
			Type:   typ,
		})
	}
	return txns
}

func testConfig(now time.Time) Config {
	return DefaultConfig(now)
}

func TestDetectMonthlySubscription(t *testing.T) {
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 6, []string{"15.49", "15.99", "14.99"}, models.TypeExpense)

	now := start.AddDate(0, 6, 0)
	patterns := Detect(txns, testConfig(now))

	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, models.FrequencyMonthly, p.Frequency)
	assert.Equal(t, models.TypeExpense, p.Type)
	assert.Equal(t, 6, p.OccurrenceCount)
	assert.True(t, p.AmountMin.Equal(decimal.RequireFromString("14.99")))
	assert.True(t, p.AmountMax.Equal(decimal.RequireFromString("15.99")))
	assert.Greater(t, p.Confidence, DefaultConfidenceFloor)
	assert.True(t, p.NextExpected.After(p.LastSeen))
	assert.False(t, p.IsLapsed)
	assert.Len(t, p.TransactionIDs, 6)
}

func TestDetectSingleTransactionYieldsNothing(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 1, []string{"15.49"}, models.TypeExpense)

	patterns := Detect(txns, testConfig(start.AddDate(0, 2, 0)))
	assert.Empty(t, patterns)
}

func TestDetectTwoOccurrencesBelowEvidenceFloor(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 2, []string{"50.00"}, models.TypeExpense)

	patterns := Detect(txns, testConfig(start.AddDate(0, 3, 0)))
	assert.Empty(t, patterns)
}

func TestDetectThreeOccurrencesMeetsEvidenceFloor(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 3, []string{"50.00"}, models.TypeExpense)

	patterns := Detect(txns, testConfig(start.AddDate(0, 3, 0)))
	require.Len(t, patterns, 1)
	assert.Equal(t, models.FrequencyMonthly, patterns[0].Frequency)
}

func TestDetectSignSeparation(t *testing.T) {
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	expenses := monthlySeries(start, 4, []string{"50.00"}, models.TypeExpense)
	income := monthlySeries(start, 4, []string{"50.00"}, models.TypeIncome)

	patterns := Detect(append(expenses, income...), testConfig(start.AddDate(0, 4, 0)))
	require.Len(t, patterns, 2)
	assert.Equal(t, models.TypeExpense, patterns[0].Type)
	assert.Equal(t, models.TypeIncome, patterns[1].Type)
}

func TestDetectUnstableAmountsRejected(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// Dates are perfectly monthly but amounts swing far beyond the CV ceiling.
	txns := monthlySeries(start, 6, []string{"10.00", "80.00", "200.00"}, models.TypeExpense)

	patterns := Detect(txns, testConfig(start.AddDate(0, 6, 0)))
	assert.Empty(t, patterns)
}

func TestDetectWeeklyPattern(t *testing.T) {
	start := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	var txns []models.Transaction
	for i := 0; i < 5; i++ {
		txns = append(txns, models.Transaction{
			ID:     uuid.New(),
			Date:   start.AddDate(0, 0, 7*i),
			Amount: decimal.RequireFromString("12.00"),
			Type:   models.TypeExpense,
		})
	}

	patterns := Detect(txns, testConfig(start.AddDate(0, 2, 0)))
	require.Len(t, patterns, 1)
	assert.Equal(t, models.FrequencyWeekly, patterns[0].Frequency)
	assert.Equal(t, start.AddDate(0, 0, 7*5), patterns[0].NextExpected)
}

func TestDetectBiweeklyPaycheck(t *testing.T) {
	start := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	var txns []models.Transaction
	for i := 0; i < 6; i++ {
		txns = append(txns, models.Transaction{
			ID:     uuid.New(),
			Date:   start.AddDate(0, 0, 14*i),
			Amount: decimal.RequireFromString("2450.00"),
			Type:   models.TypeIncome,
		})
	}

	patterns := Detect(txns, testConfig(start.AddDate(0, 3, 0)))
	require.Len(t, patterns, 1)
	assert.Equal(t, models.FrequencyBiweekly, patterns[0].Frequency)
	assert.Equal(t, models.TypeIncome, patterns[0].Type)
}

func TestDetectLapsedPattern(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 6, []string{"15.49"}, models.TypeExpense)

	// Well over one full interval past the expected next date.
	now := start.AddDate(1, 6, 0)
	patterns := Detect(txns, testConfig(now))

	require.Len(t, patterns, 1)
	assert.True(t, patterns[0].IsLapsed, "quiet merchants are reported as lapsed, not dropped")
}

func TestDetectIrregularGapsYieldNothing(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []int{0, 3, 50, 51, 120}
	var txns []models.Transaction
	for _, d := range offsets {
		txns = append(txns, models.Transaction{
			ID:     uuid.New(),
			Date:   base.AddDate(0, 0, d),
			Amount: decimal.RequireFromString("20.00"),
			Type:   models.TypeExpense,
		})
	}

	patterns := Detect(txns, testConfig(base.AddDate(0, 6, 0)))
	assert.Empty(t, patterns)
}

func TestDetectAmountBandBracketsQualifyingTransactions(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 5, []string{"9.99", "10.49", "10.25"}, models.TypeExpense)

	patterns := Detect(txns, testConfig(start.AddDate(0, 5, 0)))
	require.Len(t, patterns, 1)
	p := patterns[0]
	for _, txn := range txns {
		amt := txn.Amount.Abs()
		assert.True(t, amt.GreaterThanOrEqual(p.AmountMin))
		assert.True(t, amt.LessThanOrEqual(p.AmountMax))
	}
}

func TestDetectDeterministic(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := monthlySeries(start, 6, []string{"15.49"}, models.TypeExpense)
	cfg := testConfig(start.AddDate(0, 6, 0))

	first := Detect(txns, cfg)
	second := Detect(txns, cfg)
	assert.Equal(t, first, second)
}

func TestDetectEmptyInput(t *testing.T) {
	assert.Empty(t, Detect(nil, testConfig(time.Now())))
}

func TestDefaultConfigPinsDocumentedPolicy(t *testing.T) {
	cfg := DefaultConfig(time.Now())
	assert.Equal(t, 3, cfg.MinOccurrences)
	assert.Equal(t, 0.15, cfg.AmountCVCeiling)
	assert.Equal(t, 0.5, cfg.ConfidenceFloor)
	assert.Equal(t, 6, cfg.EvidenceSaturation)
}
