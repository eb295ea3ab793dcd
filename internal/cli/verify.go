package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajiayi-debug/referencesfinder/internal/logging"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/pipeline"
)

var (
	statementsPath string
	refsDir        string
	outJSON        string
	outMD          string
	storePath      string
	downloadDir    string
	retryBudget    int
	threshold      int
	maxConcurrent  int
	timeout        time.Duration
	llmModel       string
	llmBaseURL     string
	tokenCommand   string
	tokenFile      string
	searchMailto   string
)

// verifyCmd runs the verification pipeline end to end.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Classify statements against their references and search for the rest",
	Long: `Verify classifies every extracted statement against the text of its
cited reference, then repeatedly searches for new candidate papers for the
statements that lack confident support, until the retry budget runs out.

Example:
  referencesfinder verify --statements statements.json --refs ./refs \
      --json verification.json --md verification.md`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&statementsPath, "statements", "statements.json", "statement list from the extraction step")
	verifyCmd.Flags().StringVar(&refsDir, "refs", "refs", "directory of extracted reference text (.txt per article)")
	verifyCmd.Flags().StringVar(&outJSON, "json", "verification.json", "output JSON path")
	verifyCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	verifyCmd.Flags().StringVar(&storePath, "store", "", "document store path (default from config)")
	verifyCmd.Flags().StringVar(&downloadDir, "download-dir", "", "directory for downloaded candidate papers")
	verifyCmd.Flags().IntVar(&retryBudget, "budget", 3, "search rounds before surfacing the remaining misses")
	verifyCmd.Flags().IntVar(&threshold, "threshold", 75, "confidence threshold for resolved evidence")
	verifyCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 10, "concurrent LLM calls in flight")
	verifyCmd.Flags().DurationVar(&timeout, "timeout", 45*time.Minute, "overall run timeout")
	verifyCmd.Flags().StringVar(&llmModel, "model", "", "model/deployment identifier")
	verifyCmd.Flags().StringVar(&llmBaseURL, "base-url", "", "custom LLM endpoint URL")
	verifyCmd.Flags().StringVar(&tokenCommand, "token-command", "", "command printing a bearer token")
	verifyCmd.Flags().StringVar(&tokenFile, "token-file", "", "file holding a bearer token")
	verifyCmd.Flags().StringVar(&searchMailto, "mailto", "", "contact address for the search API polite pool")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg := buildConfig()
	log := logging.New(verbose)
	defer func() { _ = log.Sync() }()

	p, err := pipeline.NewPipeline(cfg, log)
	if err != nil {
		return fmt.Errorf("initializing pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	rep, err := p.Verify(ctx, statementsPath, refsDir)
	if err != nil {
		return err
	}

	if !rep.Complete() {
		fmt.Fprintf(os.Stderr, "%d statement(s) still missing support\n", len(rep.Missing))
	}
	return nil
}

// buildConfig layers flags over the defaults. Environment variables
// (REFCHECK_*) and the config file sit between the two via viper.
func buildConfig() *model.Config {
	cfg := model.DefaultConfig()

	if llmModel != "" {
		cfg.LLM.Model = llmModel
	}
	if llmBaseURL != "" {
		cfg.LLM.BaseURL = llmBaseURL
	}
	if tokenCommand != "" {
		cfg.Auth.TokenCommand = tokenCommand
	}
	if tokenFile != "" {
		cfg.Auth.TokenFile = tokenFile
	}
	if cfg.Auth.TokenCommand == "" && cfg.Auth.TokenFile == "" {
		// Fall back to a plain API key in the environment, exposed as a
		// token file would be.
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Auth.TokenCommand = "printenv OPENAI_API_KEY"
		}
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if downloadDir != "" {
		cfg.Search.DownloadDir = downloadDir
	}
	if searchMailto != "" {
		cfg.Search.Mailto = searchMailto
	}
	cfg.Retry.Budget = retryBudget
	cfg.Rank.ConfidenceThreshold = threshold
	cfg.Invoker.MaxConcurrent = maxConcurrent
	cfg.Output.JSONPath = outJSON
	cfg.Output.MDPath = outMD
	cfg.Output.Verbose = verbose

	return cfg
}
