package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/store"
)

var promptsStorePath string

// promptsCmd inspects the effectiveness ledger.
var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect the prompt effectiveness ledger",
	Long: `The ledger records every prompt the system has tried, per purpose
namespace, with its effectiveness flag and trial history. Prompts are
never deleted; the ledger is the system's learning memory across runs.`,
}

var promptsListCmd = &cobra.Command{
	Use:   "list [namespace]",
	Short: "List ledger entries, optionally filtered by namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := store.Open(promptsStorePath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer func() { _ = docs.Close() }()

		entries, err := docs.FetchAll(context.Background(), store.CollectionPrompts)
		if err != nil {
			return err
		}

		var namespace string
		if len(args) == 1 {
			namespace = args[0]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAMESPACE\tFLAG\tTRIALS\tWINS\tPROMPT")
		for _, doc := range entries {
			var rec model.PromptRecord
			if err := json.Unmarshal(doc.Body, &rec); err != nil {
				continue
			}
			if namespace != "" && rec.Namespace != namespace {
				continue
			}
			flag := string(rec.Effective)
			if flag == "" {
				flag = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", rec.Namespace, flag, rec.Trials, rec.Wins, shorten(rec.Text, 80))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(promptsCmd)
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.PersistentFlags().StringVar(&promptsStorePath, "store", "referencesfinder.db", "document store path")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
