package auth

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource counts fetches and can block until released, which lets
// tests pile up concurrent callers behind one refresh.
type fakeSource struct {
	calls   int32
	block   chan struct{}
	err     error
	expires time.Time
}

func (s *fakeSource) Token(ctx context.Context) (Token, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Token{}, s.err
	}
	return Token{Value: "tok", ExpiresAt: s.expires}, nil
}

func TestClient_RefreshesOnFirstUse(t *testing.T) {
	src := &fakeSource{expires: time.Now().Add(25 * time.Minute)}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)

	client, err := b.Client(context.Background())
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client handle")
	}
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
}

func TestClient_ReusesFreshToken(t *testing.T) {
	src := &fakeSource{expires: time.Now().Add(25 * time.Minute)}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)

	for i := 0; i < 5; i++ {
		if _, err := b.Client(context.Background()); err != nil {
			t.Fatalf("Client call %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("fresh token must be reused, got %d fetches", got)
	}
}

func TestClient_RefreshesWithinStaleMargin(t *testing.T) {
	src := &fakeSource{expires: time.Now().Add(25 * time.Minute)}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)

	if _, err := b.Client(context.Background()); err != nil {
		t.Fatalf("first Client: %v", err)
	}

	// Jump to 4 minutes before expiry, inside the 5 minute margin.
	b.now = func() time.Time { return src.expires.Add(-4 * time.Minute) }
	src.expires = src.expires.Add(25 * time.Minute)

	if _, err := b.Client(context.Background()); err != nil {
		t.Fatalf("second Client: %v", err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 2 {
		t.Errorf("stale token must trigger a refresh, got %d fetches", got)
	}
}

func TestRefresh_SingleFlight(t *testing.T) {
	src := &fakeSource{
		block:   make(chan struct{}),
		expires: time.Now().Add(25 * time.Minute),
	}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Refresh(context.Background())
		}(i)
	}

	// Give the goroutines time to pile up behind the in-flight fetch,
	// then release it.
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("expected exactly 1 fetch for %d concurrent refreshes, got %d", callers, got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
}

func TestRefresh_WaitersShareFailure(t *testing.T) {
	src := &fakeSource{
		block:   make(chan struct{}),
		err:     errors.New("sts timeout"),
		expires: time.Now().Add(25 * time.Minute),
	}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Refresh(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Errorf("caller %d: expected the shared refresh error, got nil", i)
		}
	}
	if _, err := b.Client(context.Background()); err == nil {
		// A second Client call re-attempts the refresh; with the source
		// still failing there is no handle to return.
		t.Error("Client must not return a handle while the source fails")
	}
}

func TestRefreshIfCurrent_SkipsReplacedCredential(t *testing.T) {
	src := &fakeSource{expires: time.Now().Add(25 * time.Minute)}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)
	ctx := context.Background()

	if err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	gen := b.Generation()

	// Another caller replaces the credential before this one reacts to
	// its auth failure.
	if err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if err := b.RefreshIfCurrent(ctx, gen); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 2 {
		t.Errorf("stale-generation refresh must be skipped, got %d fetches", got)
	}

	// With the current generation the refresh goes through.
	if err := b.RefreshIfCurrent(ctx, b.Generation()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 3 {
		t.Errorf("current-generation refresh must fetch, got %d fetches", got)
	}
}

func TestRefresh_ContextCancelWhileWaiting(t *testing.T) {
	src := &fakeSource{
		block:   make(chan struct{}),
		expires: time.Now().Add(25 * time.Minute),
	}
	b := NewBrokerWithSource(src, 5*time.Minute, "", nil)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = b.Refresh(context.Background())
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("waiting caller should observe cancellation, got %v", err)
	}
	close(src.block)
}

func TestCommandSource_TrimsOutput(t *testing.T) {
	src := CommandSource{Command: "echo '  secret-token  '", Lifetime: 25 * time.Minute}
	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.Value != "secret-token" {
		t.Errorf("expected trimmed token, got %q", tok.Value)
	}
	if until := time.Until(tok.ExpiresAt); until < 24*time.Minute || until > 26*time.Minute {
		t.Errorf("expiry not near the configured lifetime: %v", until)
	}
}

func TestCommandSource_FailureWrapsSentinel(t *testing.T) {
	src := CommandSource{Command: "exit 3", Lifetime: time.Minute}
	if _, err := src.Token(context.Background()); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestFileSource_EmptyFileRejected(t *testing.T) {
	path := t.TempDir() + "/token"
	if err := os.WriteFile(path, []byte("\n"), 0600); err != nil {
		t.Fatal(err)
	}
	src := FileSource{Path: path, Lifetime: time.Minute}
	if _, err := src.Token(context.Background()); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable for empty file, got %v", err)
	}
}
