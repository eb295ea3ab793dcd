// Package evolve maintains the prompt effectiveness ledger and produces
// replacement prompts for under-performing searches.
package evolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/llm"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/store"
)

// Namespace names used by the pipeline.
const (
	NamespaceSearch = "search_prompt"
)

// DocStore is the slice of the document store the ledger needs.
type DocStore interface {
	FetchAll(ctx context.Context, collection string) ([]store.Document, error)
	UpsertMany(ctx context.Context, collection string, docs []store.Document) error
}

const chooseSystem = "You select or improve instruction prompts for a literature-search assistant. Reply with only the prompt text."

// Engine is the prompt evolution engine. Prompts are never deleted from
// the ledger, only appended and re-flagged; the ledger is the system's
// learning memory across runs.
type Engine struct {
	docs      DocStore
	chatter   llm.Chatter
	minTrials int
	log       *zap.Logger
	now       func() time.Time
}

// NewEngine builds an engine. minTrials gates how many evaluations a
// prompt needs before its effectiveness flag may flip; 1 reproduces the
// historical single-trial judgment.
func NewEngine(docs DocStore, chatter llm.Chatter, cfg model.EvolveConfig, log *zap.Logger) *Engine {
	minTrials := cfg.MinTrials
	if minTrials <= 0 {
		minTrials = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{docs: docs, chatter: chatter, minTrials: minTrials, log: log, now: time.Now}
}

// EffectivePrompts returns every prompt flagged effective in the
// namespace.
func (e *Engine) EffectivePrompts(ctx context.Context, namespace string) ([]string, error) {
	records, err := e.load(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var prompts []string
	for _, r := range records {
		if r.Effective == model.EffectivenessEffective {
			prompts = append(prompts, r.Text)
		}
	}
	return prompts, nil
}

// EvaluateAndChoose produces the next prompt to try. When effective
// prompts exist the model picks the most promising one; when none exist
// the model synthesizes an improved variant of oldPrompt. Any failure
// falls back to oldPrompt unchanged; the loop must never crash because
// prompt improvement failed.
func (e *Engine) EvaluateAndChoose(ctx context.Context, oldPrompt, namespace string) string {
	effective, err := e.EffectivePrompts(ctx, namespace)
	if err != nil {
		e.log.Warn("loading prompt ledger failed", zap.Error(err))
		return oldPrompt
	}

	if len(effective) > 0 {
		chosen, err := e.choose(ctx, oldPrompt, effective)
		if err != nil {
			e.log.Warn("prompt selection failed, keeping old prompt", zap.Error(err))
			return oldPrompt
		}
		return chosen
	}

	improved, err := e.improve(ctx, oldPrompt)
	if err != nil {
		e.log.Warn("prompt synthesis failed, keeping old prompt", zap.Error(err))
		return oldPrompt
	}
	return improved
}

// choose asks the model to pick the best of the known-effective prompts.
func (e *Engine) choose(ctx context.Context, oldPrompt string, effective []string) (string, error) {
	var b strings.Builder
	b.WriteString("The current search prompt is under-performing:\n")
	b.WriteString(oldPrompt)
	b.WriteString("\n\nThese prompts have previously improved results:\n")
	for i, p := range effective {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	b.WriteString("\nReply with the number of the prompt most likely to find the missing references.")

	out, err := e.chatter.Chat(ctx, chooseSystem, b.String())
	if err != nil {
		return "", err
	}

	if idx, ok := parseChoice(out, len(effective)); ok {
		return effective[idx], nil
	}
	// The model answered with text instead of a number; accept it if it
	// echoes one of the candidates.
	answer := strings.TrimSpace(out)
	for _, p := range effective {
		if strings.EqualFold(answer, strings.TrimSpace(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unparseable selection: %q", out)
}

// improve asks the model for a better variant of the failing prompt.
func (e *Engine) improve(ctx context.Context, oldPrompt string) (string, error) {
	user := fmt.Sprintf(`This keyword-generation prompt failed to surface the references we need:

%s

Write an improved version. Keep it a single short instruction. Reply with only the new prompt text.`, oldPrompt)

	out, err := e.chatter.Chat(ctx, chooseSystem, user)
	if err != nil {
		return "", err
	}
	improved := strings.TrimSpace(out)
	if improved == "" {
		return "", fmt.Errorf("empty synthesized prompt")
	}
	return improved, nil
}

// RecordEffectiveness appends one trial to the prompt's history. The
// judgment is comparative: a trial "wins" when it strictly reduced the
// missing count. The flag flips only once the prompt has at least
// minTrials evaluations, and a prompt already flagged effective is never
// demoted.
func (e *Engine) RecordEffectiveness(ctx context.Context, namespace, prompt string, beforeCount, afterCount int) error {
	records, err := e.load(ctx, namespace)
	if err != nil {
		return err
	}

	rec := model.PromptRecord{Namespace: namespace, Text: prompt}
	for _, r := range records {
		if r.Text == prompt {
			rec = r
			break
		}
	}

	rec.Trials++
	improved := afterCount < beforeCount
	if improved {
		rec.Wins++
	}
	if rec.Effective != model.EffectivenessEffective && rec.Trials >= e.minTrials {
		if improved {
			rec.Effective = model.EffectivenessEffective
		} else {
			rec.Effective = model.EffectivenessIneffective
		}
	}
	rec.UpdatedAt = e.now()

	doc, err := store.Marshal(promptID(namespace, prompt), rec)
	if err != nil {
		return err
	}
	if err := e.docs.UpsertMany(ctx, store.CollectionPrompts, []store.Document{doc}); err != nil {
		return fmt.Errorf("recording prompt effectiveness: %w", err)
	}

	e.log.Debug("recorded prompt trial",
		zap.String("namespace", namespace),
		zap.Bool("improved", improved),
		zap.String("flag", string(rec.Effective)))
	return nil
}

// load returns the ledger entries for one namespace.
func (e *Engine) load(ctx context.Context, namespace string) ([]model.PromptRecord, error) {
	docs, err := e.docs.FetchAll(ctx, store.CollectionPrompts)
	if err != nil {
		return nil, fmt.Errorf("loading prompt ledger: %w", err)
	}
	var records []model.PromptRecord
	for _, d := range docs {
		var rec model.PromptRecord
		if err := json.Unmarshal(d.Body, &rec); err != nil {
			continue
		}
		if rec.Namespace == namespace {
			records = append(records, rec)
		}
	}
	return records, nil
}

// parseChoice extracts a 1-based selection index from a model reply.
func parseChoice(out string, n int) (int, bool) {
	fields := strings.FieldsFunc(strings.TrimSpace(out), func(r rune) bool {
		return r < '0' || r > '9'
	})
	for _, f := range fields {
		if idx, err := strconv.Atoi(f); err == nil && idx >= 1 && idx <= n {
			return idx - 1, true
		}
	}
	return 0, false
}

// promptID keys a ledger entry by its text within the namespace.
func promptID(namespace, text string) string {
	sum := sha256.Sum256([]byte(namespace + "\x1f" + text))
	return hex.EncodeToString(sum[:])
}
