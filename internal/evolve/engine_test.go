package evolve

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/store"
)

// memStore is an in-memory DocStore keyed by collection and id.
type memStore struct {
	docs map[string]map[string]store.Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]map[string]store.Document)}
}

func (m *memStore) FetchAll(ctx context.Context, collection string) ([]store.Document, error) {
	var out []store.Document
	for _, d := range m.docs[collection] {
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) UpsertMany(ctx context.Context, collection string, docs []store.Document) error {
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]store.Document)
	}
	for _, d := range docs {
		m.docs[collection][d.ID] = d
	}
	return nil
}

func (m *memStore) seed(t *testing.T, rec model.PromptRecord) {
	t.Helper()
	doc, err := store.Marshal(promptID(rec.Namespace, rec.Text), rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertMany(context.Background(), store.CollectionPrompts, []store.Document{doc}); err != nil {
		t.Fatal(err)
	}
}

func (m *memStore) record(t *testing.T, namespace, text string) model.PromptRecord {
	t.Helper()
	doc, ok := m.docs[store.CollectionPrompts][promptID(namespace, text)]
	if !ok {
		t.Fatalf("no ledger entry for %q", text)
	}
	var rec model.PromptRecord
	if err := json.Unmarshal(doc.Body, &rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

// chatterFunc adapts a function to llm.Chatter.
type chatterFunc func(ctx context.Context, system, user string) (string, error)

func (f chatterFunc) Chat(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

func newTestEngine(docs DocStore, chat chatterFunc, minTrials int) *Engine {
	return NewEngine(docs, chat, model.EvolveConfig{MinTrials: minTrials}, nil)
}

func TestRecordEffectiveness_ImprovementFlagsEffective(t *testing.T) {
	docs := newMemStore()
	engine := newTestEngine(docs, nil, 1)

	// Missing count dropped from 10 to 7.
	if err := engine.RecordEffectiveness(context.Background(), NamespaceSearch, "find clinical evidence", 10, 7); err != nil {
		t.Fatal(err)
	}

	rec := docs.record(t, NamespaceSearch, "find clinical evidence")
	if rec.Effective != model.EffectivenessEffective {
		t.Errorf("expected Y, got %q", rec.Effective)
	}
	if rec.Trials != 1 || rec.Wins != 1 {
		t.Errorf("expected 1 trial 1 win, got %d/%d", rec.Trials, rec.Wins)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestRecordEffectiveness_NoImprovementFlagsIneffective(t *testing.T) {
	docs := newMemStore()
	engine := newTestEngine(docs, nil, 1)

	// 5 -> 5 is not an improvement; neither is 5 -> 6.
	if err := engine.RecordEffectiveness(context.Background(), NamespaceSearch, "stagnant prompt", 5, 5); err != nil {
		t.Fatal(err)
	}

	rec := docs.record(t, NamespaceSearch, "stagnant prompt")
	if rec.Effective != model.EffectivenessIneffective {
		t.Errorf("expected N, got %q", rec.Effective)
	}
	if rec.Wins != 0 {
		t.Errorf("expected no wins, got %d", rec.Wins)
	}
}

func TestRecordEffectiveness_MinTrialsGate(t *testing.T) {
	docs := newMemStore()
	engine := newTestEngine(docs, nil, 3)
	ctx := context.Background()
	const prompt = "slow starter"

	// Two losing trials: below the gate, flag stays unset.
	for i := 0; i < 2; i++ {
		if err := engine.RecordEffectiveness(ctx, NamespaceSearch, prompt, 5, 5); err != nil {
			t.Fatal(err)
		}
	}
	if rec := docs.record(t, NamespaceSearch, prompt); rec.Effective != model.EffectivenessUntried {
		t.Errorf("flag must not flip before %d trials, got %q", 3, rec.Effective)
	}

	// Third trial improves; the gate is met and the flag flips.
	if err := engine.RecordEffectiveness(ctx, NamespaceSearch, prompt, 5, 2); err != nil {
		t.Fatal(err)
	}
	if rec := docs.record(t, NamespaceSearch, prompt); rec.Effective != model.EffectivenessEffective {
		t.Errorf("expected Y after gated improvement, got %q", rec.Effective)
	}
}

func TestRecordEffectiveness_NeverDemotesEffective(t *testing.T) {
	docs := newMemStore()
	docs.seed(t, model.PromptRecord{
		Namespace: NamespaceSearch,
		Text:      "proven prompt",
		Effective: model.EffectivenessEffective,
		Trials:    2,
		Wins:      2,
		UpdatedAt: time.Now(),
	})
	engine := newTestEngine(docs, nil, 1)

	if err := engine.RecordEffectiveness(context.Background(), NamespaceSearch, "proven prompt", 4, 4); err != nil {
		t.Fatal(err)
	}
	if rec := docs.record(t, NamespaceSearch, "proven prompt"); rec.Effective != model.EffectivenessEffective {
		t.Errorf("a proven prompt must keep its flag, got %q", rec.Effective)
	}
}

func TestEvaluateAndChoose_PicksNumberedEffectivePrompt(t *testing.T) {
	docs := newMemStore()
	docs.seed(t, model.PromptRecord{Namespace: NamespaceSearch, Text: "first effective", Effective: model.EffectivenessEffective})
	docs.seed(t, model.PromptRecord{Namespace: NamespaceSearch, Text: "second effective", Effective: model.EffectivenessEffective})

	chat := chatterFunc(func(ctx context.Context, system, user string) (string, error) {
		return "I would go with option 2.", nil
	})
	engine := newTestEngine(docs, chat, 1)

	got := engine.EvaluateAndChoose(context.Background(), "old prompt", NamespaceSearch)
	// Map iteration order varies, so only membership is checked.
	if got != "first effective" && got != "second effective" {
		t.Errorf("expected one of the effective prompts, got %q", got)
	}
	if got == "old prompt" {
		t.Error("must not fall back when effective prompts exist and selection succeeds")
	}
}

func TestEvaluateAndChoose_SynthesizesWhenLedgerEmpty(t *testing.T) {
	docs := newMemStore()
	chat := chatterFunc(func(ctx context.Context, system, user string) (string, error) {
		return "  Generate PubMed-style boolean keyword queries.  ", nil
	})
	engine := newTestEngine(docs, chat, 1)

	got := engine.EvaluateAndChoose(context.Background(), "old prompt", NamespaceSearch)
	if got != "Generate PubMed-style boolean keyword queries." {
		t.Errorf("expected the synthesized prompt, got %q", got)
	}
}

func TestEvaluateAndChoose_FallsBackOnChatError(t *testing.T) {
	docs := newMemStore()
	docs.seed(t, model.PromptRecord{Namespace: NamespaceSearch, Text: "effective", Effective: model.EffectivenessEffective})

	chat := chatterFunc(func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("provider down")
	})
	engine := newTestEngine(docs, chat, 1)

	if got := engine.EvaluateAndChoose(context.Background(), "old prompt", NamespaceSearch); got != "old prompt" {
		t.Errorf("expected fallback to the old prompt, got %q", got)
	}
}

func TestEvaluateAndChoose_FallsBackOnGarbageSelection(t *testing.T) {
	docs := newMemStore()
	docs.seed(t, model.PromptRecord{Namespace: NamespaceSearch, Text: "effective", Effective: model.EffectivenessEffective})

	chat := chatterFunc(func(ctx context.Context, system, user string) (string, error) {
		return "none of these appeal to me", nil
	})
	engine := newTestEngine(docs, chat, 1)

	if got := engine.EvaluateAndChoose(context.Background(), "old prompt", NamespaceSearch); got != "old prompt" {
		t.Errorf("expected fallback for unparseable selection, got %q", got)
	}
}

func TestEffectivePrompts_FiltersNamespaceAndFlag(t *testing.T) {
	docs := newMemStore()
	docs.seed(t, model.PromptRecord{Namespace: NamespaceSearch, Text: "good", Effective: model.EffectivenessEffective})
	docs.seed(t, model.PromptRecord{Namespace: NamespaceSearch, Text: "bad", Effective: model.EffectivenessIneffective})
	docs.seed(t, model.PromptRecord{Namespace: "other", Text: "foreign", Effective: model.EffectivenessEffective})

	engine := newTestEngine(docs, nil, 1)
	prompts, err := engine.EffectivePrompts(context.Background(), NamespaceSearch)
	if err != nil {
		t.Fatal(err)
	}
	if len(prompts) != 1 || prompts[0] != "good" {
		t.Errorf("expected only the effective prompt in the namespace, got %v", prompts)
	}
}

func TestParseChoice(t *testing.T) {
	cases := []struct {
		in  string
		n   int
		idx int
		ok  bool
	}{
		{"2", 3, 1, true},
		{"Option 3.", 3, 2, true},
		{"1", 1, 0, true},
		{"0", 3, 0, false},
		{"4", 3, 0, false},
		{"no idea", 3, 0, false},
	}
	for _, c := range cases {
		idx, ok := parseChoice(c.in, c.n)
		if ok != c.ok || (ok && idx != c.idx) {
			t.Errorf("parseChoice(%q, %d) = (%d, %v), want (%d, %v)", c.in, c.n, idx, ok, c.idx, c.ok)
		}
	}
}
