package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const querySystem = "You generate concise keyword queries for academic literature search engines."

// DefaultSearchPrompt seeds the effectiveness ledger on first run. The
// evolution engine replaces it when something better is learned.
const DefaultSearchPrompt = `Extract 3-6 search keywords that would find peer-reviewed articles able to confirm or refute the statement. Prefer domain terminology over common words. Reply with the keywords on one line, space separated, nothing else.`

// QueryGenerator turns a statement into a keyword query using the current
// search prompt. On any failure it falls back to the statement text: a
// worse query beats no search round.
type QueryGenerator struct {
	chatter Chatter
	log     *zap.Logger
}

// NewQueryGenerator builds a query generator.
func NewQueryGenerator(chatter Chatter, log *zap.Logger) *QueryGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryGenerator{chatter: chatter, log: log}
}

// Generate produces a keyword query for the statement using prompt as the
// instruction.
func (q *QueryGenerator) Generate(ctx context.Context, prompt, statement string) string {
	user := fmt.Sprintf("%s\n\nStatement: %s", prompt, statement)
	out, err := q.chatter.Chat(ctx, querySystem, user)
	if err != nil || strings.TrimSpace(out) == "" {
		q.log.Warn("keyword generation failed, using statement text", zap.Error(err))
		return statement
	}
	// Models occasionally wrap the keywords in quotes or a label.
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return out
}
