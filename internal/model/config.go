package model

import "time"

// Config is the complete runtime configuration.
// Hierarchy: CLI flags > environment (REFCHECK_*) > config file > defaults.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Auth    AuthConfig    `yaml:"auth"`
	Invoker InvokerConfig `yaml:"invoker"`
	Rank    RankConfig    `yaml:"rank"`
	Retry   RetryConfig   `yaml:"retry"`
	Evolve  EvolveConfig  `yaml:"evolve"`
	Store   StoreConfig   `yaml:"store"`
	Search  SearchConfig  `yaml:"search"`
	Output  OutputConfig  `yaml:"output"`
}

// LLMConfig configures the chat-completion endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`    // Custom endpoint; empty for the provider default
	Model       string        `yaml:"model"`       // Deployment/model identifier
	Temperature float32       `yaml:"temperature"` // Deterministic sampling expected (0)
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// AuthConfig configures the credential broker.
type AuthConfig struct {
	TokenCommand string        `yaml:"token_command"` // Command printing a bearer token on stdout
	TokenFile    string        `yaml:"token_file"`    // Or: file holding the token
	Lifetime     time.Duration `yaml:"lifetime"`      // Nominal credential lifetime
	StaleMargin  time.Duration `yaml:"stale_margin"`  // Refresh this early to avoid racing expiry
}

// InvokerConfig bounds concurrent LLM calls and shapes the retry schedule.
type InvokerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"` // Semaphore permits (10-20 sane for this workload)
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`    // Backoff base, doubles per attempt
	ClassifyRate  float64       `yaml:"classify_rate"` // Self-imposed calls/sec in front of classification
	ClassifyBurst int           `yaml:"classify_burst"`
	ClassifyDelay time.Duration `yaml:"classify_delay"` // Fixed pause after each throttle grant
}

// RankConfig configures evidence grouping and ranking.
type RankConfig struct {
	ConfidenceThreshold int `yaml:"confidence_threshold"` // Groups below this go to the retry set
	TopN                int `yaml:"top_n"`                // Records kept per group; ties at the max are preserved
}

// RetryConfig bounds the search loop.
type RetryConfig struct {
	Budget int `yaml:"budget"` // Search rounds before giving up on the remaining misses
}

// EvolveConfig configures the prompt evolution policy.
type EvolveConfig struct {
	// MinTrials is the number of evaluations required before a prompt's
	// effectiveness flag may flip. The historical behavior is 1, which
	// judges a prompt from a single before/after comparison.
	MinTrials int `yaml:"min_trials"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// SearchConfig configures the keyword search and paper download collaborator.
type SearchConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Mailto      string        `yaml:"mailto"` // Polite-pool contact address
	MaxResults  int           `yaml:"max_results"`
	DownloadDir string        `yaml:"download_dir"`
	UserAgent   string        `yaml:"user_agent"`
	Timeout     time.Duration `yaml:"timeout"`
	HTTPProxy   string        `yaml:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy"`
	NoProxy     string        `yaml:"no_proxy"`
}

// OutputConfig configures report rendering.
type OutputConfig struct {
	JSONPath string `yaml:"json_path"`
	MDPath   string `yaml:"md_path"`
	Verbose  bool   `yaml:"verbose"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Temperature: 0,
			Timeout:     60 * time.Second,
			MaxTokens:   1000,
		},
		Auth: AuthConfig{
			Lifetime:    25 * time.Minute,
			StaleMargin: 5 * time.Minute,
		},
		Invoker: InvokerConfig{
			MaxConcurrent: 10,
			MaxRetries:    3,
			BaseDelay:     2 * time.Second,
			ClassifyRate:  1,
			ClassifyBurst: 2,
			ClassifyDelay: time.Second,
		},
		Rank: RankConfig{
			ConfidenceThreshold: 75,
			TopN:                5,
		},
		Retry: RetryConfig{
			Budget: 3,
		},
		Evolve: EvolveConfig{
			MinTrials: 1,
		},
		Store: StoreConfig{
			Path: "referencesfinder.db",
		},
		Search: SearchConfig{
			Endpoint:    "https://api.openalex.org/works",
			MaxResults:  10,
			DownloadDir: "papers",
			UserAgent:   "referencesfinder/0.1 (+https://github.com/ajiayi-debug/referencesfinder)",
			Timeout:     30 * time.Second,
		},
		Output: OutputConfig{
			JSONPath: "verification.json",
		},
	}
}
