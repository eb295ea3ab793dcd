package model

import "time"

// InvalidReason classifies why a response was routed to the invalid
// bucket.
type InvalidReason string

const (
	InvalidReasonParseFailure  InvalidReason = "parse_failure" // Model ignored the response grammar
	InvalidReasonHallucination InvalidReason = "hallucination" // Evidence span echoed the statement
)

// InvalidRecord is one entry in the invalid bucket, kept for manual
// inspection. Invalid entries never crash the pipeline and never enter
// ranking.
type InvalidRecord struct {
	ID          string        `json:"id"`
	Statement   Statement     `json:"statement"`
	ArticleName string        `json:"article_name"`
	Raw         string        `json:"raw"` // The offending response or span
	Reason      InvalidReason `json:"reason"`
	Date        time.Time     `json:"date"`
}
