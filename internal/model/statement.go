package model

// Statement represents a cited assertion extracted from the source article,
// together with the reference it claims to be supported by. Statements are
// produced by the upstream extraction step and are read-only here.
type Statement struct {
	Text        string   `json:"text"`                  // The quoted sentence from the main article
	ArticleName string   `json:"article_name"`          // Name of the cited reference article
	Year        int      `json:"year,omitempty"`        // Publication year of the reference
	Authors     []string `json:"authors,omitempty"`     // Author list of the reference
}

// Key returns the identity key of the statement: the statement text plus
// the article it cites. Two extractions of the same sentence against the
// same reference are the same statement.
func (s Statement) Key() string {
	return s.Text + "\x1f" + s.ArticleName
}

// Chunk is a bounded span of reference-article text sized to fit one
// classification call. It is paired with a statement only for the duration
// of that call.
type Chunk struct {
	ArticleName string `json:"article_name"` // Reference article the text came from
	Text        string `json:"text"`
	Page        int    `json:"page,omitempty"` // 1-based page the span starts on
}
