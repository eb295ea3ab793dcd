package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Renderer writes reports to disk and the terminal.
type Renderer struct{}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON writes the report as indented JSON.
func (r *Renderer) RenderJSON(rep *Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderMarkdown writes a reviewer-friendly Markdown report.
func (r *Renderer) RenderMarkdown(rep *Report, path string) error {
	var b strings.Builder

	b.WriteString("# Reference Verification Report\n\n")
	fmt.Fprintf(&b, "- Session: %s\n", rep.SessionID)
	fmt.Fprintf(&b, "- Generated: %s\n", rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Statements: %d\n", rep.Statements)
	fmt.Fprintf(&b, "- Search rounds used: %d\n", rep.RoundsUsed)
	fmt.Fprintf(&b, "- Invalid records for manual review: %d\n\n", rep.InvalidCount)

	b.WriteString("## Resolved evidence\n\n")
	if len(rep.Resolved) == 0 {
		b.WriteString("None.\n\n")
	}
	for _, g := range rep.Resolved {
		fmt.Fprintf(&b, "### %s: %s (%s)\n\n", g.Key.ArticleName, truncate(g.Key.Statement, 100), g.Key.Sentiment)
		for _, rec := range g.Records {
			fmt.Fprintf(&b, "- (%d) %s\n", rec.Confidence, rec.Evidence)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Still missing\n\n")
	if len(rep.Missing) == 0 {
		b.WriteString("None. Every statement found acceptable support.\n")
	}
	for _, st := range rep.Missing {
		fmt.Fprintf(&b, "- %s (%s)\n", truncate(st.Text, 120), st.ArticleName)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	return nil
}

// RenderSummary prints a short outcome summary to stdout.
func (r *Renderer) RenderSummary(rep *Report) {
	fmt.Printf("\nStatements: %d  Resolved groups: %d  Missing: %d  Rounds: %d\n",
		rep.Statements, len(rep.Resolved), len(rep.Missing), rep.RoundsUsed)
	if !rep.Complete() {
		fmt.Println("Some statements still lack acceptable support; see the missing list in the report.")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
