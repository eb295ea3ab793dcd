// Package auth manages the bearer credential for the LLM provider and the
// shared client handle that depends on it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// ErrProviderUnavailable wraps failures to reach the underlying token
// source. A startup failure is fatal; mid-run failures degrade.
var ErrProviderUnavailable = errors.New("credential provider unavailable")

// Token is a bearer credential with its nominal expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource obtains a fresh token.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// CommandSource runs a command (e.g. a cloud CLI) and reads the token from
// its stdout.
type CommandSource struct {
	Command  string
	Lifetime time.Duration
}

// Token runs the configured command and trims its output.
func (s CommandSource) Token(ctx context.Context) (Token, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", s.Command).Output()
	if err != nil {
		return Token{}, fmt.Errorf("%w: token command: %v", ErrProviderUnavailable, err)
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return Token{}, fmt.Errorf("%w: token command produced no output", ErrProviderUnavailable)
	}
	return Token{Value: value, ExpiresAt: time.Now().Add(s.Lifetime)}, nil
}

// FileSource reads the token from a file on each refresh.
type FileSource struct {
	Path     string
	Lifetime time.Duration
}

// Token reads and trims the token file.
func (s FileSource) Token(ctx context.Context) (Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Token{}, fmt.Errorf("%w: token file: %v", ErrProviderUnavailable, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return Token{}, fmt.Errorf("%w: token file %s is empty", ErrProviderUnavailable, s.Path)
	}
	return Token{Value: value, ExpiresAt: time.Now().Add(s.Lifetime)}, nil
}

// Broker owns the credential lifecycle. A token is treated as stale a
// configurable margin before its nominal expiry so calls never race the
// real expiry. Refreshes are single-flight: concurrent callers wait for
// the in-progress refresh instead of stacking duplicates. A successful
// refresh rebuilds the shared client handle, so callers must re-fetch the
// client through Client rather than holding one across calls.
type Broker struct {
	source      TokenSource
	staleMargin time.Duration
	baseURL     string
	log         *zap.Logger

	now func() time.Time // injectable for tests

	mu         sync.Mutex
	token      Token
	client     *openai.Client
	generation uint64 // Bumped on every successful refresh
	refreshing bool
	done       chan struct{}
	lastErr    error
}

// NewBroker builds a broker from configuration. The token source is chosen
// from token_command, then token_file.
func NewBroker(cfg model.AuthConfig, baseURL string, log *zap.Logger) (*Broker, error) {
	var source TokenSource
	switch {
	case cfg.TokenCommand != "":
		source = CommandSource{Command: cfg.TokenCommand, Lifetime: cfg.Lifetime}
	case cfg.TokenFile != "":
		source = FileSource{Path: cfg.TokenFile, Lifetime: cfg.Lifetime}
	default:
		return nil, fmt.Errorf("auth: no token source configured (set token_command or token_file)")
	}
	return NewBrokerWithSource(source, cfg.StaleMargin, baseURL, log), nil
}

// NewBrokerWithSource builds a broker around an explicit token source.
func NewBrokerWithSource(source TokenSource, staleMargin time.Duration, baseURL string, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		source:      source,
		staleMargin: staleMargin,
		baseURL:     baseURL,
		log:         log,
		now:         time.Now,
	}
}

// Client returns the shared client handle, refreshing the credential first
// if it is stale. Callers must call this per operation; handles obtained
// before a refresh are dead.
func (b *Broker) Client(ctx context.Context) (*openai.Client, error) {
	b.mu.Lock()
	if b.client != nil && b.now().Before(b.token.ExpiresAt.Add(-b.staleMargin)) {
		client := b.client
		b.mu.Unlock()
		return client, nil
	}
	b.mu.Unlock()

	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("auth: no client after refresh")
	}
	return client, nil
}

// Refresh fetches a new token and rebuilds the shared client. If a refresh
// is already in flight the caller waits for it and shares its outcome.
func (b *Broker) Refresh(ctx context.Context) error {
	return b.refresh(ctx, 0, false)
}

// Generation reports how many times the credential has been replaced.
// Callers record it before an operation so that an auth failure can tell
// whether the credential it ran under is already gone.
func (b *Broker) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// RefreshIfCurrent refreshes only while the credential generation still
// matches gen. When another caller has already replaced the failing
// credential the refresh is skipped: one expiry event produces one token
// fetch, not one per in-flight call that saw the stale credential.
func (b *Broker) RefreshIfCurrent(ctx context.Context, gen uint64) error {
	return b.refresh(ctx, gen, true)
}

func (b *Broker) refresh(ctx context.Context, gen uint64, onlyIfCurrent bool) error {
	b.mu.Lock()
	if onlyIfCurrent && b.generation != gen {
		b.mu.Unlock()
		return nil
	}
	if b.refreshing {
		// Another caller is already refreshing; wait for it and share
		// its outcome.
		done := b.done
		b.mu.Unlock()
		select {
		case <-done:
			b.mu.Lock()
			err := b.lastErr
			b.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.refreshing = true
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	token, err := b.source.Token(ctx)

	b.mu.Lock()
	if err == nil {
		b.token = token
		b.client = newClient(token.Value, b.baseURL)
		b.generation++
		b.log.Debug("credential refreshed", zap.Time("expires_at", token.ExpiresAt))
	} else {
		b.log.Warn("credential refresh failed", zap.Error(err))
	}
	b.refreshing = false
	b.lastErr = err
	close(done)
	b.mu.Unlock()

	return err
}

func newClient(token, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}
