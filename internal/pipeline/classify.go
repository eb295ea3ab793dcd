package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/cache"
	"github.com/ajiayi-debug/referencesfinder/internal/llm"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/parse"
)

// Pair couples a chunk with a statement for one classification call.
type Pair struct {
	Chunk     model.Chunk
	Statement model.Statement
}

// StanceClassifier is the classification call boundary. The concrete
// implementation is llm.Classifier; tests substitute fakes.
type StanceClassifier interface {
	Classify(ctx context.Context, chunk, statement string) string
}

// classifyAll fans the pairs out concurrently. In-flight bounding lives
// in the invoker's semaphore; results are correlated back to their pair
// by closure capture, so gather order never matters. Returns the valid
// records and the invalid-bucket entries.
func classifyAll(ctx context.Context, classifier StanceClassifier, memo cache.Cache, pairs []Pair, log *zap.Logger) (valid []model.ClassificationRecord, invalid []model.InvalidRecord) {
	if len(pairs) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, pair := range pairs {
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()

			key := cache.PairKey(p.Chunk.Text, p.Statement.Text)
			raw, cached := memo.Get(key)
			if !cached {
				raw = classifier.Classify(ctx, p.Chunk.Text, p.Statement.Text)
				if raw != llm.APIErrorSentinel {
					memo.Set(key, raw, 0)
				}
			}

			v, halluc, parsed := parse.ToRecords(raw, p.Statement, p.Chunk, time.Now().UTC())

			mu.Lock()
			defer mu.Unlock()
			if !parsed {
				invalid = append(invalid, model.InvalidRecord{
					ID:          uuid.NewString(),
					Statement:   p.Statement,
					ArticleName: p.Chunk.ArticleName,
					Raw:         raw,
					Reason:      model.InvalidReasonParseFailure,
					Date:        time.Now().UTC(),
				})
				return
			}
			valid = append(valid, v...)
			for _, h := range halluc {
				invalid = append(invalid, model.InvalidRecord{
					ID:          uuid.NewString(),
					Statement:   h.Statement,
					ArticleName: h.ArticleName,
					Raw:         h.Evidence,
					Reason:      model.InvalidReasonHallucination,
					Date:        h.Date,
				})
			}
		}(pair)
	}
	wg.Wait()

	log.Debug("classification batch done",
		zap.Int("pairs", len(pairs)),
		zap.Int("valid", len(valid)),
		zap.Int("invalid", len(invalid)))
	return valid, invalid
}
