package model

import (
	"strings"
	"time"
)

// Sentiment is the stance a reference chunk takes toward a statement.
type Sentiment string

const (
	SentimentSupport Sentiment = "support"
	SentimentOppose  Sentiment = "oppose"
)

// NormalizeSentiment maps a raw sentiment keyword to its canonical form.
// Older ledger entries use positive/negative; both spellings are accepted.
func NormalizeSentiment(raw string) (Sentiment, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "support", "positive":
		return SentimentSupport, true
	case "oppose", "negative":
		return SentimentOppose, true
	default:
		return "", false
	}
}

// Relevance is the auxiliary topical judgment recorded alongside the
// stance. It is categorical and may disagree with the sentiment polarity;
// the ranker reconciles the two.
type Relevance string

const (
	RelevanceSupport    Relevance = "Support"
	RelevanceOppose     Relevance = "Oppose"
	RelevanceIrrelevant Relevance = "Irrelevant"
	RelevanceRelevant   Relevance = "Relevant" // Set after polarity correction
)

// ClassificationRecord is one parsed stance assertion for a
// (chunk, statement) pair.
type ClassificationRecord struct {
	ID          string    `json:"id"`
	Statement   Statement `json:"statement"`
	ArticleName string    `json:"article_name"` // Article the evidence chunk came from
	Sentiment   Sentiment `json:"sentiment"`
	Confidence  int       `json:"confidence"` // Model-reported, 0-100
	Evidence    string    `json:"evidence"`   // Verbatim span quoted by the model
	Chunk       string    `json:"chunk"`      // Source chunk the span was found in
	Relevance   Relevance `json:"relevance,omitempty"`
	Date        time.Time `json:"date"`
}

// IsHallucination reports whether the evidence span is just an echo of the
// statement itself: a case-insensitive substring of the statement text.
// Such records identify nothing new and are routed to the invalid bucket.
func (r ClassificationRecord) IsHallucination() bool {
	ev := strings.ToLower(strings.TrimSpace(r.Evidence))
	if ev == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Statement.Text), ev)
}

// GroupKey identifies an evidence group: all records for one article,
// statement and sentiment.
type GroupKey struct {
	ArticleName string    `json:"article_name"`
	Statement   string    `json:"statement"`
	Sentiment   Sentiment `json:"sentiment"`
}

// EvidenceGroup aggregates the valid classification records for one
// group key.
type EvidenceGroup struct {
	Key       GroupKey               `json:"key"`
	Statement Statement              `json:"statement_full"`
	Records   []ClassificationRecord `json:"records"`
}

// MaxConfidence returns the highest confidence score in the group, or -1
// for an empty group.
func (g EvidenceGroup) MaxConfidence() int {
	max := -1
	for _, r := range g.Records {
		if r.Confidence > max {
			max = r.Confidence
		}
	}
	return max
}

// Resolved reports whether the group carries at least one record at or
// above the confidence threshold.
func (g EvidenceGroup) Resolved(threshold int) bool {
	return g.MaxConfidence() >= threshold
}
