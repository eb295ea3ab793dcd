// Package parse turns free-text classification responses into structured
// records. The grammar lives here and only here so prompt changes and
// parser changes stay in sync.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// assertionPattern matches one stance assertion:
// "<sentiment> (<confidence>): <span>", case-insensitive, one per line.
// The legacy positive/negative keywords are accepted and normalized.
// This is a soft contract with the model, so parsing is defensive: a
// response that matches zero times is a parse failure, not an empty list.
var assertionPattern = regexp.MustCompile(`(?im)^\s*(support|oppose|positive|negative)\s*\((\d{1,3})\)\s*:\s*(.+?)\s*$`)

// Assertion is one parsed (sentiment, confidence, span) triple.
type Assertion struct {
	Sentiment  model.Sentiment
	Confidence int
	Evidence   string
}

// Parse extracts all assertions from a raw model response. It returns nil
// (not an empty slice) when the grammar matches zero times; callers route
// nil to the invalid bucket for human review.
func Parse(raw string) []Assertion {
	matches := assertionPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	var assertions []Assertion
	for _, m := range matches {
		sentiment, ok := model.NormalizeSentiment(m[1])
		if !ok {
			continue
		}
		confidence, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if confidence > 100 {
			// Nominally 0-100; clamp rather than discard.
			confidence = 100
		}
		assertions = append(assertions, Assertion{
			Sentiment:  sentiment,
			Confidence: confidence,
			Evidence:   strings.TrimSpace(m[3]),
		})
	}
	if len(assertions) == 0 {
		return nil
	}
	return assertions
}

// Format renders assertions back into the response grammar. Parse(Format(a))
// reproduces a for any well-formed input; used by tests and the invalid
// bucket's human-readable dump.
func Format(assertions []Assertion) string {
	var b strings.Builder
	for i, a := range assertions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%d): %s", a.Sentiment, a.Confidence, a.Evidence)
	}
	return b.String()
}

// ToRecords parses a raw response for one (chunk, statement) pair and
// screens the hallucination condition. It returns the valid records, the
// hallucinated ones (for the invalid bucket), and whether the response
// parsed at all. A "no" response parses as zero assertions by contract
// and yields (nil, nil, true).
func ToRecords(raw string, st model.Statement, chunk model.Chunk, now time.Time) (valid, invalid []model.ClassificationRecord, parsed bool) {
	if isNoRelation(raw) {
		return nil, nil, true
	}

	assertions := Parse(raw)
	if assertions == nil {
		return nil, nil, false
	}

	for _, a := range assertions {
		rec := model.ClassificationRecord{
			ID:          uuid.NewString(),
			Statement:   st,
			ArticleName: chunk.ArticleName,
			Sentiment:   a.Sentiment,
			Confidence:  a.Confidence,
			Evidence:    a.Evidence,
			Chunk:       chunk.Text,
			Date:        now,
		}
		if rec.IsHallucination() {
			invalid = append(invalid, rec)
		} else {
			valid = append(valid, rec)
		}
	}
	return valid, invalid, true
}

// isNoRelation reports whether the response is the literal "no" answer
// (or the api-error sentinel, which downstream treats identically).
func isNoRelation(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimRight(s, ".")
	return s == "no" || s == "api error"
}
