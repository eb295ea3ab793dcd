package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/cache"
	"github.com/ajiayi-debug/referencesfinder/internal/evolve"
	"github.com/ajiayi-debug/referencesfinder/internal/llm"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/rank"
	"github.com/ajiayi-debug/referencesfinder/internal/report"
	"github.com/ajiayi-debug/referencesfinder/internal/search"
)

// State identifies where the loop is in its round.
type State string

const (
	StateInit        State = "init"
	StateSearching   State = "searching"
	StateClassifying State = "classifying"
	StateRanking     State = "ranking"
	StateDone        State = "done"
)

// Searcher finds candidate papers for a keyword query.
type Searcher interface {
	Search(ctx context.Context, query string, excludeTitles []string) ([]search.Paper, error)
}

// PaperDownloader fetches candidate papers to local files.
type PaperDownloader interface {
	Download(ctx context.Context, papers []search.Paper) []search.DownloadResult
}

// ArticleReader reads one downloaded paper into page-segmented text.
// PDF conversion is the upstream extractor's job; this reads its output.
type ArticleReader interface {
	ReadArticle(path string) (name string, pages []string, err error)
}

// Chunker cuts article pages into classification-sized chunks.
type Chunker interface {
	Chunk(articleName string, pages []string) []model.Chunk
}

// QueryGenerator produces the keyword query for one statement.
type QueryGenerator interface {
	Generate(ctx context.Context, prompt, statement string) string
}

// PromptEngine is the prompt-evolution boundary.
type PromptEngine interface {
	EvaluateAndChoose(ctx context.Context, oldPrompt, namespace string) string
	RecordEffectiveness(ctx context.Context, namespace, prompt string, beforeCount, afterCount int) error
}

// Loop drives repeated rounds of prompt selection, search, download,
// classification and ranking until every statement has acceptable
// support or the retry budget runs out. The budget strictly decreases
// each round and is checked before each round, so the loop terminates in
// at most budget rounds whatever the searches return.
type Loop struct {
	searcher   Searcher
	downloader PaperDownloader
	reader     ArticleReader
	chunker    Chunker
	classifier StanceClassifier
	queryGen   QueryGenerator
	prompts    PromptEngine
	ranker     *rank.Ranker
	memo       cache.Cache
	budget     int
	log        *zap.Logger
}

// NewLoop wires the loop's collaborators.
func NewLoop(
	searcher Searcher,
	downloader PaperDownloader,
	reader ArticleReader,
	chunker Chunker,
	classifier StanceClassifier,
	queryGen QueryGenerator,
	prompts PromptEngine,
	ranker *rank.Ranker,
	memo cache.Cache,
	budget int,
	log *zap.Logger,
) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if memo == nil {
		memo = cache.NewMemoryCache(time.Hour, 10*time.Minute)
	}
	return &Loop{
		searcher:   searcher,
		downloader: downloader,
		reader:     reader,
		chunker:    chunker,
		classifier: classifier,
		queryGen:   queryGen,
		prompts:    prompts,
		ranker:     ranker,
		memo:       memo,
		budget:     budget,
		log:        log,
	}
}

// Outcome is everything the loop produced: the final report plus the full
// record sets for persistence.
type Outcome struct {
	Report  *report.Report
	Records []model.ClassificationRecord
	Invalid []model.InvalidRecord
}

// Run executes the loop over the statements, starting from any records
// already classified against the existing reference articles, plus the
// invalid entries that first pass produced.
func (l *Loop) Run(ctx context.Context, statements []model.Statement, initial []model.ClassificationRecord, initialInvalid []model.InvalidRecord) (*Outcome, error) {
	session := uuid.NewString()
	l.transition(StateInit)
	l.log.Info("verification session started",
		zap.String("session", session),
		zap.Int("statements", len(statements)),
		zap.Int("budget", l.budget))

	// INIT: diff the statement list against currently resolved groups.
	records := append([]model.ClassificationRecord(nil), initial...)
	invalid := append([]model.InvalidRecord(nil), initialInvalid...)
	result := l.ranker.Rank(records)
	missing := rank.Missing(statements, result.Ranked)

	budget := l.budget
	rounds := 0
	prompt := llm.DefaultSearchPrompt

	for budget > 0 && len(missing) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l.transition(StateSearching)
		budget--
		rounds++
		prompt = l.prompts.EvaluateAndChoose(ctx, prompt, evolve.NamespaceSearch)
		l.log.Info("search round",
			zap.Int("round", rounds),
			zap.Int("missing", len(missing)),
			zap.Int("budget_left", budget))

		pairs := l.searchRound(ctx, missing, records, prompt)

		l.transition(StateClassifying)
		valid, bad := classifyAll(ctx, l.classifier, l.memo, pairs, l.log)

		l.transition(StateRanking)
		records = append(records, valid...)
		invalid = append(invalid, bad...)
		result = l.ranker.Rank(records)

		before := len(missing)
		missing = rank.Missing(statements, result.Ranked)
		if err := l.prompts.RecordEffectiveness(ctx, evolve.NamespaceSearch, prompt, before, len(missing)); err != nil {
			l.log.Warn("recording prompt effectiveness failed", zap.Error(err))
		}
	}

	l.transition(StateDone)

	rep := &report.Report{
		SessionID:    session,
		GeneratedAt:  time.Now().UTC(),
		RoundsUsed:   rounds,
		Statements:   len(statements),
		Resolved:     result.Ranked,
		Missing:      missing,
		InvalidCount: len(invalid),
	}

	l.log.Info("verification session done",
		zap.Bool("complete", rep.Complete()),
		zap.Int("resolved_groups", len(rep.Resolved)),
		zap.Int("still_missing", len(rep.Missing)))

	return &Outcome{Report: rep, Records: records, Invalid: invalid}, nil
}

func (l *Loop) transition(s State) {
	l.log.Debug("loop state", zap.String("state", string(s)))
}

// searchRound generates a query per missing statement, searches, downloads
// the new candidates, and returns the (chunk, statement) pairs for the
// classification phase. Every failure degrades to fewer pairs, never to
// an aborted round.
func (l *Loop) searchRound(ctx context.Context, missing []model.Statement, known []model.ClassificationRecord, prompt string) []Pair {
	exclude := knownTitles(missing, known)

	var pairs []Pair
	seenArticles := make(map[string]bool)
	for _, st := range missing {
		query := l.queryGen.Generate(ctx, prompt, st.Text)

		papers, err := l.searcher.Search(ctx, query, exclude)
		if err != nil {
			l.log.Warn("search failed", zap.String("query", query), zap.Error(err))
			continue
		}
		if len(papers) == 0 {
			continue
		}

		for _, res := range l.downloader.Download(ctx, papers) {
			if !res.OK {
				continue
			}
			name, pages, err := l.reader.ReadArticle(res.Path)
			if err != nil {
				l.log.Warn("reading downloaded paper failed", zap.String("path", res.Path), zap.Error(err))
				continue
			}
			if seenArticles[name] {
				continue
			}
			seenArticles[name] = true
			for _, chunk := range l.chunker.Chunk(name, pages) {
				pairs = append(pairs, Pair{Chunk: chunk, Statement: st})
			}
		}
	}
	return pairs
}

// knownTitles collects article titles already in play, so searches skip
// papers we already classified.
func knownTitles(statements []model.Statement, records []model.ClassificationRecord) []string {
	seen := make(map[string]bool)
	var titles []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			titles = append(titles, t)
		}
	}
	for _, st := range statements {
		add(st.ArticleName)
	}
	for _, rec := range records {
		add(rec.ArticleName)
	}
	return titles
}
