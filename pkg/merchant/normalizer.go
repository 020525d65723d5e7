package merchant

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxCanonicalLength caps canonical patterns so degenerate descriptions
// (concatenated memo fields, dumped reference blobs) cannot blow up storage
// or similarity costs.
const MaxCanonicalLength = 64

var (
	// Embedded currency fragments: "$12.34", "$ 5", "12.99" style amounts
	// that leak into POS descriptors.
	amountPattern = regexp.MustCompile(`\$\s?\d+(\.\d+)?|\b\d+\.\d{2}\b`)

	// Store/terminal/reference codes: runs of 4+ digits, optionally prefixed
	// with '#'. Stripped wherever they appear, not only at the tail: store
	// numbers sit mid-description ("STARBUCKS STORE 10214 SEATTLE WA") and
	// leading street numbers carry no merchant identity.
	refCodePattern = regexp.MustCompile(`#?\d{4,}`)

	// Stray card-network punctuation ("SQ *COFFEE", "TST* DINER").
	punctPattern = regexp.MustCompile(`[*#]+`)

	// Trailing internet domain suffix on a token ("netflix.com" -> "netflix").
	domainSuffixPattern = regexp.MustCompile(`\.(com|net|org|io|co|us)\b`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// noiseTokens are payment-processor and transaction-type prefixes that carry
// no merchant identity.
var noiseTokens = map[string]bool{
	"pos":      true,
	"debit":    true,
	"credit":   true,
	"purchase": true,
	"payment":  true,
	"eftpos":   true,
	"visa":     true,
	"mc":       true,
	"amex":     true,
	"ach":      true,
	"web":      true,
	"recur":    true,
	"paypal":   true,
	"sq":       true,
	"tst":      true,
}

// stateAbbrevs covers US state and territory codes that banks append as
// location suffixes.
var stateAbbrevs = map[string]bool{
	"al": true, "ak": true, "az": true, "ar": true, "ca": true, "co": true,
	"ct": true, "de": true, "dc": true, "fl": true, "ga": true, "hi": true,
	"id": true, "il": true, "in": true, "ia": true, "ks": true, "ky": true,
	"la": true, "me": true, "md": true, "ma": true, "mi": true, "mn": true,
	"ms": true, "mo": true, "mt": true, "ne": true, "nv": true, "nh": true,
	"nj": true, "nm": true, "ny": true, "nc": true, "nd": true, "oh": true,
	"ok": true, "or": true, "pa": true, "pr": true, "ri": true, "sc": true,
	"sd": true, "tn": true, "tx": true, "ut": true, "vt": true, "va": true,
	"wa": true, "wv": true, "wi": true, "wy": true,
}

// Normalize reduces a raw transaction description to its canonical pattern:
// the de-noised, case-folded form used as the clustering key. It is
// deterministic and idempotent, and never fails - malformed or empty input
// yields an empty pattern, which callers treat as unresolvable.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	s = amountPattern.ReplaceAllString(s, " ")
	s = refCodePattern.ReplaceAllString(s, " ")
	s = punctPattern.ReplaceAllString(s, " ")
	s = domainSuffixPattern.ReplaceAllString(s, "")

	tokens := strings.Fields(whitespacePattern.ReplaceAllString(s, " "))

	// Drop processor noise from the front. Descriptions commonly stack
	// several prefixes ("POS DEBIT PURCHASE ...").
	for len(tokens) > 0 && noiseTokens[tokens[0]] {
		tokens = tokens[1:]
	}

	// Trim to the length cap on whole-token boundaries, then drop trailing
	// state abbreviations; banks suffix "<city> <ST>" and the state code
	// alone is unambiguous against the abbreviation list. Keep at least one
	// token so a merchant is never normalized away entirely. Both steps loop
	// to a fixpoint so normalizing a canonical pattern is a no-op.
	tokens = truncateTokens(tokens, MaxCanonicalLength)
	for len(tokens) > 1 && stateAbbrevs[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	return strings.Join(tokens, " ")
}

func truncateTokens(tokens []string, maxLen int) []string {
	total := 0
	for i, tok := range tokens {
		if i > 0 {
			total++ // joining space
		}
		total += len(tok)
		if total > maxLen {
			if i == 0 {
				// A single oversized token is kept truncated rather than
				// dropped entirely.
				return []string{truncateRunes(tok, maxLen)}
			}
			return tokens[:i]
		}
	}
	return tokens
}

// truncateRunes cuts s to at most maxLen bytes without splitting a rune, so
// a truncated pattern stays valid UTF-8.
func truncateRunes(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
