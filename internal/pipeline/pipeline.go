// Package pipeline orchestrates reference verification: classify
// statements against existing references, then run the retry-search loop
// over whatever is still missing.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/auth"
	"github.com/ajiayi-debug/referencesfinder/internal/cache"
	"github.com/ajiayi-debug/referencesfinder/internal/evolve"
	"github.com/ajiayi-debug/referencesfinder/internal/extract"
	"github.com/ajiayi-debug/referencesfinder/internal/llm"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/rank"
	"github.com/ajiayi-debug/referencesfinder/internal/report"
	"github.com/ajiayi-debug/referencesfinder/internal/search"
	"github.com/ajiayi-debug/referencesfinder/internal/store"
	"github.com/ajiayi-debug/referencesfinder/internal/worker"
)

// Pipeline wires every component for one verification run.
type Pipeline struct {
	cfg      *model.Config
	docs     *store.Store
	loop     *Loop
	reader   *extract.PageReader
	chunker  *extract.Chunker
	memo     cache.Cache
	renderer *report.Renderer
	log      *zap.Logger

	classifier StanceClassifier
}

// NewPipeline builds the pipeline from configuration. Configuration-level
// failures here (unreachable credential source, unopenable store) are the
// only fatal errors in the system.
func NewPipeline(cfg *model.Config, log *zap.Logger) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}

	broker, err := auth.NewBroker(cfg.Auth, cfg.LLM.BaseURL, log)
	if err != nil {
		return nil, err
	}

	docs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(broker, cfg.LLM)
	invoker := worker.NewInvoker(broker, cfg.Invoker, log)
	throttle := worker.NewThrottle(cfg.Invoker.ClassifyRate, cfg.Invoker.ClassifyBurst)
	classifier := llm.NewClassifier(client, invoker, throttle, cfg.Invoker.ClassifyDelay, log)

	reader := extract.NewPageReader()
	chunker := extract.NewChunker(0)
	memo := cache.NewMemoryCache(24*time.Hour, 10*time.Minute)

	loop := NewLoop(
		search.NewOpenAlexSearcher(cfg.Search),
		search.NewDownloader(cfg.Search, log),
		reader,
		chunker,
		classifier,
		llm.NewQueryGenerator(client, log),
		evolve.NewEngine(docs, client, cfg.Evolve, log),
		rank.NewRanker(cfg.Rank, log),
		memo,
		cfg.Retry.Budget,
		log,
	)

	return &Pipeline{
		cfg:        cfg,
		docs:       docs,
		loop:       loop,
		reader:     reader,
		chunker:    chunker,
		memo:       memo,
		renderer:   report.NewRenderer(),
		log:        log,
		classifier: classifier,
	}, nil
}

// Close releases the document store.
func (p *Pipeline) Close() error {
	return p.docs.Close()
}

// LoadStatements reads the statement list the upstream extractor produced.
func LoadStatements(path string) ([]model.Statement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read statements: %w", err)
	}
	var statements []model.Statement
	if err := json.Unmarshal(data, &statements); err != nil {
		return nil, fmt.Errorf("parse statements: %w", err)
	}
	if len(statements) == 0 {
		return nil, fmt.Errorf("no statements in %s", path)
	}
	return statements, nil
}

// Verify runs the full flow: classify every statement against its cited
// reference article, run the retry-search loop over what is missing,
// persist the results, and render the report.
func (p *Pipeline) Verify(ctx context.Context, statementsPath, refsDir string) (*report.Report, error) {
	statements, err := LoadStatements(statementsPath)
	if err != nil {
		return nil, err
	}

	pairs, err := p.initialPairs(statements, refsDir)
	if err != nil {
		return nil, err
	}
	p.log.Info("initial classification",
		zap.Int("statements", len(statements)),
		zap.Int("pairs", len(pairs)))

	valid, invalid := classifyAll(ctx, p.classifier, p.memo, pairs, p.log)

	outcome, err := p.loop.Run(ctx, statements, valid, invalid)
	if err != nil {
		return nil, err
	}

	if err := p.persist(ctx, outcome); err != nil {
		// Persistence failure degrades: the report still reaches the
		// reviewer.
		p.log.Warn("persisting results failed", zap.Error(err))
	}

	if err := p.render(outcome.Report); err != nil {
		return nil, err
	}
	return outcome.Report, nil
}

// initialPairs pairs each statement with the chunks of its cited
// reference article. Statements whose reference text is not present are
// left to the search loop.
func (p *Pipeline) initialPairs(statements []model.Statement, refsDir string) ([]Pair, error) {
	if refsDir == "" {
		return nil, nil
	}
	articles, err := p.reader.ReadDir(refsDir)
	if err != nil {
		return nil, err
	}

	chunksByArticle := make(map[string][]model.Chunk, len(articles))
	for name, pages := range articles {
		chunksByArticle[name] = p.chunker.Chunk(name, pages)
	}

	var pairs []Pair
	for _, st := range statements {
		chunks, ok := chunksByArticle[st.ArticleName]
		if !ok {
			p.log.Debug("no reference text for statement", zap.String("article", st.ArticleName))
			continue
		}
		for _, chunk := range chunks {
			pairs = append(pairs, Pair{Chunk: chunk, Statement: st})
		}
	}
	return pairs, nil
}

// persist appends the run's records to the document store.
func (p *Pipeline) persist(ctx context.Context, outcome *Outcome) error {
	evidenceDocs := make([]store.Document, 0, len(outcome.Records))
	for _, rec := range outcome.Records {
		doc, err := store.Marshal(rec.ID, rec)
		if err != nil {
			return err
		}
		evidenceDocs = append(evidenceDocs, doc)
	}
	if err := p.docs.AppendAll(ctx, store.CollectionEvidence, evidenceDocs); err != nil {
		return err
	}

	invalidDocs := make([]store.Document, 0, len(outcome.Invalid))
	for _, rec := range outcome.Invalid {
		doc, err := store.Marshal(rec.ID, rec)
		if err != nil {
			return err
		}
		invalidDocs = append(invalidDocs, doc)
	}
	return p.docs.AppendAll(ctx, store.CollectionInvalid, invalidDocs)
}

func (p *Pipeline) render(rep *report.Report) error {
	if p.cfg.Output.JSONPath != "" {
		if err := p.renderer.RenderJSON(rep, p.cfg.Output.JSONPath); err != nil {
			return err
		}
	}
	if p.cfg.Output.MDPath != "" {
		if err := p.renderer.RenderMarkdown(rep, p.cfg.Output.MDPath); err != nil {
			return err
		}
	}
	p.renderer.RenderSummary(rep)
	return nil
}
