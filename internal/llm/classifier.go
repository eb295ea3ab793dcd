package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/worker"
)

// APIErrorSentinel is returned when a classification call could not be
// completed. Downstream treats it exactly like a "no" classification;
// a bad chunk never aborts a batch.
const APIErrorSentinel = "api error"

// NoRelation is the literal the model must answer when the chunk has no
// bearing on the statement.
const NoRelation = "no"

const classifySystem = "You verify whether excerpts from a reference article support or oppose a quoted statement. Answer only in the required format."

// classifyTemplate is the load-bearing prompt contract: the parser keys
// off the Support/Oppose prefixes and the "(score)" confidence. Keep this
// and the parser grammar in sync.
const classifyTemplate = `Statement:
%s

Reference excerpt:
%s

Decide whether the excerpt supports or opposes the statement.
- If it supports the statement, reply with one or more lines of the form:
  Support (<confidence 0-100>): <verbatim span from the excerpt>
- If it opposes the statement, reply with one or more lines of the form:
  Oppose (<confidence 0-100>): <verbatim span from the excerpt>
- If the excerpt is unrelated to the statement, reply with exactly: no

Quote spans verbatim from the excerpt. Never restate the statement itself as a span.`

// Classifier runs the stance-classification call for one
// (chunk, statement) pair through the rate-limited invoker.
type Classifier struct {
	chatter  Chatter
	invoker  *worker.Invoker
	throttle *worker.Throttle
	delay    time.Duration
	log      *zap.Logger
}

// NewClassifier builds a classifier. delay is the fixed pause applied
// after each throttle grant, on top of the rate limit.
func NewClassifier(chatter Chatter, invoker *worker.Invoker, throttle *worker.Throttle, delay time.Duration, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{chatter: chatter, invoker: invoker, throttle: throttle, delay: delay, log: log}
}

// Classify returns the raw model response for a (chunk, statement) pair,
// or APIErrorSentinel when the call could not be completed.
func (c *Classifier) Classify(ctx context.Context, chunk, statement string) string {
	if c.throttle != nil {
		if err := c.throttle.WaitWithDelay(ctx, c.delay); err != nil {
			return APIErrorSentinel
		}
	}

	raw, ok := c.invoker.Invoke(ctx, func(ctx context.Context) (string, error) {
		return c.chatter.Chat(ctx, classifySystem, fmt.Sprintf(classifyTemplate, statement, chunk))
	})
	if !ok {
		return APIErrorSentinel
	}
	return raw
}
