package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

func sampleReport() *Report {
	return &Report{
		SessionID:   "session-1",
		GeneratedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		RoundsUsed:  2,
		Statements:  2,
		Resolved: []model.EvidenceGroup{{
			Key: model.GroupKey{
				ArticleName: "Heyman 2006",
				Statement:   "Lactose malabsorption causes bloating",
				Sentiment:   model.SentimentSupport,
			},
			Records: []model.ClassificationRecord{{
				Confidence: 90,
				Evidence:   "Fermentation of unabsorbed lactose produces gas.",
			}},
		}},
		Missing: []model.Statement{{
			Text:        "Fiber intake reduces symptoms",
			ArticleName: "Smith 2010",
		}},
		InvalidCount: 1,
	}
}

func TestComplete(t *testing.T) {
	rep := sampleReport()
	if rep.Complete() {
		t.Error("report with missing statements must not be complete")
	}
	rep.Missing = nil
	if !rep.Complete() {
		t.Error("report without missing statements must be complete")
	}
}

func TestRenderJSON_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := NewRenderer().RenderJSON(sampleReport(), path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "session-1" || got.RoundsUsed != 2 || len(got.Resolved) != 1 {
		t.Errorf("report did not survive the round trip: %+v", got)
	}
}

func TestRenderMarkdown_ListsEvidenceAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	if err := NewRenderer().RenderMarkdown(sampleReport(), path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	for _, want := range []string{
		"Heyman 2006",
		"(90) Fermentation of unabsorbed lactose produces gas.",
		"Fiber intake reduces symptoms",
		"Invalid records for manual review: 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := truncate("a very long statement indeed", 6); got != "a very..." {
		t.Errorf("unexpected truncation: %q", got)
	}
}
