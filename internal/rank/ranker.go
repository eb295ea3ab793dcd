// Package rank groups classification records into evidence groups, gates
// them on confidence, and selects the best records per group.
package rank

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// Result splits the evidence groups into the ranked output and the retry
// set. The two are mutually exclusive. A statement with zero valid records
// appears in neither; callers reconcile against the full statement list.
type Result struct {
	Ranked []model.EvidenceGroup
	Retry  []model.EvidenceGroup
}

// Ranker applies the retry policy and the top-N selection.
//
// Retry policy (one explicit rule, the permissive variant): a
// (article, statement) pair goes entirely to the retry set when it has no
// support-sentiment group at or above the threshold. That covers both
// "all evidence is opposing" and "best support is too weak". Within a
// passing pair, any group below the threshold still retries.
type Ranker struct {
	threshold int
	topN      int
	log       *zap.Logger
}

// NewRanker creates a ranker. topN defaults to 5.
func NewRanker(cfg model.RankConfig, log *zap.Logger) *Ranker {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ranker{threshold: cfg.ConfidenceThreshold, topN: topN, log: log}
}

// Rank groups the records and splits them into ranked output and retry
// set. Hallucinated records are dropped defensively even though the
// parser screens them first.
func (r *Ranker) Rank(records []model.ClassificationRecord) Result {
	groups := groupRecords(records)

	// Which (article, statement) pairs have acceptable support?
	type pairKey struct{ article, statement string }
	supported := make(map[pairKey]bool)
	for _, g := range groups {
		if g.Key.Sentiment == model.SentimentSupport && g.Resolved(r.threshold) {
			supported[pairKey{g.Key.ArticleName, g.Key.Statement}] = true
		}
	}

	var result Result
	for _, g := range groups {
		pk := pairKey{g.Key.ArticleName, g.Key.Statement}
		if !supported[pk] || !g.Resolved(r.threshold) {
			result.Retry = append(result.Retry, g)
			continue
		}
		g.Records = r.selectTop(g.Records)
		correctSentiment(g.Records)
		result.Ranked = append(result.Ranked, g)
	}

	r.log.Debug("ranked evidence",
		zap.Int("records", len(records)),
		zap.Int("ranked_groups", len(result.Ranked)),
		zap.Int("retry_groups", len(result.Retry)))
	return result
}

// groupRecords buckets valid records by (article, statement, sentiment),
// in first-seen order for deterministic output.
func groupRecords(records []model.ClassificationRecord) []model.EvidenceGroup {
	index := make(map[model.GroupKey]int)
	var groups []model.EvidenceGroup
	for _, rec := range records {
		if rec.IsHallucination() {
			continue
		}
		key := model.GroupKey{
			ArticleName: rec.ArticleName,
			Statement:   rec.Statement.Text,
			Sentiment:   rec.Sentiment,
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, model.EvidenceGroup{Key: key, Statement: rec.Statement})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// selectTop sorts descending by confidence and keeps the top N, except
// when more than N records tie at the maximum score: then every tied
// record is kept so none is excluded arbitrarily.
func (r *Ranker) selectTop(records []model.ClassificationRecord) []model.ClassificationRecord {
	sorted := make([]model.ClassificationRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	if len(sorted) <= r.topN {
		return sorted
	}

	max := sorted[0].Confidence
	tied := 0
	for _, rec := range sorted {
		if rec.Confidence != max {
			break
		}
		tied++
	}
	if tied > r.topN {
		return sorted[:tied]
	}
	return sorted[:r.topN]
}

// correctSentiment reconciles the auxiliary relevance judgment with the
// stance polarity. The model sometimes flips polarity while still getting
// topical relevance right; when the two disagree the sentiment follows
// the relevance field, which is then normalized to Relevant.
func correctSentiment(records []model.ClassificationRecord) {
	for i := range records {
		switch records[i].Relevance {
		case model.RelevanceSupport:
			if records[i].Sentiment != model.SentimentSupport {
				records[i].Sentiment = model.SentimentSupport
				records[i].Relevance = model.RelevanceRelevant
			}
		case model.RelevanceOppose:
			if records[i].Sentiment != model.SentimentOppose {
				records[i].Sentiment = model.SentimentOppose
				records[i].Relevance = model.RelevanceRelevant
			}
		}
	}
}

// Missing returns the statements from all that have no resolved support
// group in ranked. This distinguishes "never got any evidence" from
// "evidence was filtered out": both simply lack a resolved group.
func Missing(all []model.Statement, ranked []model.EvidenceGroup) []model.Statement {
	resolved := make(map[string]bool)
	for _, g := range ranked {
		if g.Key.Sentiment == model.SentimentSupport {
			resolved[g.Statement.Key()] = true
		}
	}

	var missing []model.Statement
	for _, st := range all {
		if !resolved[st.Key()] {
			missing = append(missing, st)
		}
	}
	return missing
}
