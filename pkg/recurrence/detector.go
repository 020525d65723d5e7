// Package recurrence infers periodic payment patterns from one merchant
// group's transaction history. Detection is pure: all inputs, including the
// reference time, are passed explicitly, so identical input always produces
// identical output.
package recurrence

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/merchant-engine/pkg/models"
)

// Detection policy defaults. These are documented business constants, not
// derived from a labeled dataset; Config exposes every one of them.
const (
	// DefaultMinOccurrences is the evidence floor: fewer same-interval
	// transactions than this never yields a pattern.
	DefaultMinOccurrences = 3
	// DefaultAmountCVCeiling bounds the coefficient of variation of amounts.
	// Dates alone are not enough; amounts must be stable too.
	DefaultAmountCVCeiling = 0.15
	// DefaultConfidenceFloor discards weak patterns before they are returned.
	DefaultConfidenceFloor = 0.5
	// DefaultLookbackMonths is the history window detection operates on.
	DefaultLookbackMonths = 24
	// DefaultEvidenceSaturation is the occurrence count beyond which more
	// samples stop raising confidence.
	DefaultEvidenceSaturation = 6
)

// Confidence weighting defaults.
const (
	DefaultGapWeight      = 0.4
	DefaultAmountWeight   = 0.4
	DefaultEvidenceWeight = 0.2
)

// Config tunes the detector. Zero values fall back to the documented
// defaults via Normalize.
type Config struct {
	MinOccurrences     int
	AmountCVCeiling    float64
	ConfidenceFloor    float64
	EvidenceSaturation int

	GapWeight      float64
	AmountWeight   float64
	EvidenceWeight float64

	// Now anchors lapsed-pattern evaluation; injected for determinism.
	Now time.Time
}

// DefaultConfig returns the documented detection defaults.
func DefaultConfig(now time.Time) Config {
	return Config{
		MinOccurrences:     DefaultMinOccurrences,
		AmountCVCeiling:    DefaultAmountCVCeiling,
		ConfidenceFloor:    DefaultConfidenceFloor,
		EvidenceSaturation: DefaultEvidenceSaturation,
		GapWeight:          DefaultGapWeight,
		AmountWeight:       DefaultAmountWeight,
		EvidenceWeight:     DefaultEvidenceWeight,
		Now:                now,
	}
}

func (c Config) normalized() Config {
	if c.MinOccurrences <= 0 {
		c.MinOccurrences = DefaultMinOccurrences
	}
	if c.AmountCVCeiling <= 0 {
		c.AmountCVCeiling = DefaultAmountCVCeiling
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = DefaultConfidenceFloor
	}
	if c.EvidenceSaturation <= 0 {
		c.EvidenceSaturation = DefaultEvidenceSaturation
	}
	if c.GapWeight+c.AmountWeight+c.EvidenceWeight == 0 {
		c.GapWeight = DefaultGapWeight
		c.AmountWeight = DefaultAmountWeight
		c.EvidenceWeight = DefaultEvidenceWeight
	}
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
	return c
}

// frequencyBand is a tolerance window around a nominal payment interval.
type frequencyBand struct {
	freq    models.Frequency
	nominal float64
	min     float64
	max     float64
}

// Tolerance bands ordered shortest to longest; classification visits them in
// this order so overlaps (there are none today) would resolve
// deterministically.
var frequencyBands = []frequencyBand{
	{models.FrequencyWeekly, 7, 5, 9},
	{models.FrequencyBiweekly, 14, 11, 17},
	{models.FrequencyMonthly, 30, 25, 35},
	{models.FrequencyQuarterly, 90, 80, 100},
	{models.FrequencyAnnual, 365, 350, 380},
}

// Pattern is a detected periodic series, not yet persisted.
type Pattern struct {
	Type      models.TransactionType
	Frequency models.Frequency

	AmountMin     decimal.Decimal
	AmountMax     decimal.Decimal
	AmountTypical decimal.Decimal

	FirstSeen    time.Time
	LastSeen     time.Time
	NextExpected time.Time

	Confidence      float64
	OccurrenceCount int
	TransactionIDs  []uuid.UUID
	IsLapsed        bool
}

// Detect mines one merchant group's history for recurring payment patterns.
// Expenses and income are bucketed separately and never mixed into one
// pattern. At most one pattern per bucket is returned: the dominant
// frequency band with enough evidence and stable amounts.
func Detect(txns []models.Transaction, cfg Config) []Pattern {
	cfg = cfg.normalized()

	buckets := map[models.TransactionType][]models.Transaction{}
	for _, t := range txns {
		buckets[t.Type] = append(buckets[t.Type], t)
	}

	var out []Pattern
	// Fixed bucket order keeps output deterministic.
	for _, typ := range []models.TransactionType{models.TypeExpense, models.TypeIncome} {
		if p, ok := detectBucket(buckets[typ], typ, cfg); ok {
			out = append(out, p)
		}
	}
	return out
}

func detectBucket(txns []models.Transaction, typ models.TransactionType, cfg Config) (Pattern, bool) {
	if len(txns) < cfg.MinOccurrences {
		return Pattern{}, false
	}

	sorted := make([]models.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Date.Sub(sorted[i-1].Date).Hours()/24)
	}

	band, qualifying := dominantBand(sorted, gaps)
	if band == nil || len(qualifying) < cfg.MinOccurrences {
		return Pattern{}, false
	}

	amounts := make([]decimal.Decimal, 0, len(qualifying))
	for _, t := range qualifying {
		amounts = append(amounts, t.Amount.Abs())
	}
	cv := coefficientOfVariation(amounts)
	if cv > cfg.AmountCVCeiling {
		return Pattern{}, false
	}

	first := qualifying[0]
	last := qualifying[len(qualifying)-1]
	next := band.freq.NominalInterval(last.Date)

	conf := confidence(band, qualifying, cv, cfg)
	if conf < cfg.ConfidenceFloor {
		return Pattern{}, false
	}

	ids := make([]uuid.UUID, 0, len(qualifying))
	for _, t := range qualifying {
		ids = append(ids, t.ID)
	}

	minAmt, maxAmt, typical := amountBand(amounts)

	return Pattern{
		Type:            typ,
		Frequency:       band.freq,
		AmountMin:       minAmt,
		AmountMax:       maxAmt,
		AmountTypical:   typical,
		FirstSeen:       first.Date,
		LastSeen:        last.Date,
		NextExpected:    next,
		Confidence:      conf,
		OccurrenceCount: len(qualifying),
		TransactionIDs:  ids,
		// A merchant gone quiet for more than one full interval past the
		// expected date is reported as lapsed, never silently dropped.
		IsLapsed: cfg.Now.After(band.freq.NominalInterval(next)),
	}, true
}

// dominantBand classifies every inter-transaction gap against the tolerance
// bands and returns the band with the most qualifying gaps together with the
// transactions participating in them. Ties resolve to the shorter interval.
func dominantBand(sorted []models.Transaction, gaps []float64) (*frequencyBand, []models.Transaction) {
	var best *frequencyBand
	bestCount := 0

	for i := range frequencyBands {
		band := &frequencyBands[i]
		count := 0
		for _, g := range gaps {
			if g >= band.min && g <= band.max {
				count++
			}
		}
		if count > bestCount {
			best = band
			bestCount = count
		}
	}
	if best == nil {
		return nil, nil
	}

	// A transaction qualifies when it bounds at least one in-band gap.
	include := make([]bool, len(sorted))
	for i, g := range gaps {
		if g >= best.min && g <= best.max {
			include[i] = true
			include[i+1] = true
		}
	}
	var qualifying []models.Transaction
	for i, ok := range include {
		if ok {
			qualifying = append(qualifying, sorted[i])
		}
	}
	return best, qualifying
}

// confidence blends gap regularity, amount stability and an evidence bonus
// with diminishing returns past the saturation count.
func confidence(band *frequencyBand, qualifying []models.Transaction, cv float64, cfg Config) float64 {
	gaps := make([]float64, 0, len(qualifying)-1)
	for i := 1; i < len(qualifying); i++ {
		gaps = append(gaps, qualifying[i].Date.Sub(qualifying[i-1].Date).Hours()/24)
	}

	gapRegularity := 1 - stddev(gaps)/band.nominal
	if gapRegularity < 0 {
		gapRegularity = 0
	}

	amountStability := 1 - cv
	if amountStability < 0 {
		amountStability = 0
	}

	evidence := float64(len(qualifying)) / float64(cfg.EvidenceSaturation)
	if evidence > 1 {
		evidence = 1
	}

	conf := cfg.GapWeight*gapRegularity + cfg.AmountWeight*amountStability + cfg.EvidenceWeight*evidence
	if conf > 1 {
		conf = 1
	}
	return conf
}

// amountBand returns min, max and the median of the qualifying amounts.
// Decimal arithmetic keeps the band exact; no float drift in stored money.
func amountBand(amounts []decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	sorted := make([]decimal.Decimal, len(amounts))
	copy(sorted, amounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	min := sorted[0]
	max := sorted[len(sorted)-1]

	var median decimal.Decimal
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = sorted[mid]
	} else {
		median = sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	}
	return min, max, median
}

func coefficientOfVariation(amounts []decimal.Decimal) float64 {
	if len(amounts) < 2 {
		return 0
	}
	values := make([]float64, len(amounts))
	var sum float64
	for i, a := range amounts {
		values[i] = a.InexactFloat64()
		sum += values[i]
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	return stddev(values) / mean
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
