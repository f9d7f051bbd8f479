package completion

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// fakeCompleter implements domain.Completer for testing.
type fakeCompleter struct {
	name  string
	text  string
	err   error
	calls int
	block bool // wait for ctx cancellation
	hang  chan struct{}
}

func (f *fakeCompleter) Name() string { return f.name }

func (f *fakeCompleter) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.hang != nil {
		<-f.hang
		return "late", nil
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

// --- Failover ---

func TestFailover_UsesFirstCompleter(t *testing.T) {
	c1 := &fakeCompleter{name: "primary", text: "from-primary"}
	c2 := &fakeCompleter{name: "secondary", text: "from-secondary"}
	fo := NewFailover([]domain.Completer{c1, c2}, testLogger())

	text, err := fo.Generate(context.Background(), "q")
	gt.NoError(t, err).Required()
	gt.Equal(t, text, "from-primary")
	gt.Equal(t, c2.calls, 0)
}

func TestFailover_FallsBack(t *testing.T) {
	c1 := &fakeCompleter{name: "primary", err: errors.New("boom")}
	c2 := &fakeCompleter{name: "secondary", text: "from-secondary"}
	fo := NewFailover([]domain.Completer{c1, c2}, testLogger())

	text, err := fo.Generate(context.Background(), "q")
	gt.NoError(t, err).Required()
	gt.Equal(t, text, "from-secondary")
	gt.Equal(t, fo.Name(), "failover(primary→secondary)")
}

func TestFailover_AllFail(t *testing.T) {
	last := errors.New("second failure")
	c1 := &fakeCompleter{name: "a", err: errors.New("first failure")}
	c2 := &fakeCompleter{name: "b", err: last}
	fo := NewFailover([]domain.Completer{c1, c2}, testLogger())

	_, err := fo.Generate(context.Background(), "q")
	gt.Error(t, err)
	gt.B(t, errors.Is(err, last)).True()
	gt.S(t, err.Error()).Contains("all completers in failover chain failed")
}

func TestFailover_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c1 := &fakeCompleter{name: "a", block: true}
	c2 := &fakeCompleter{name: "b", text: "never"}
	_, err := NewFailover([]domain.Completer{c1, c2}, testLogger()).Generate(ctx, "q")
	gt.Error(t, err)
	gt.Equal(t, c2.calls, 0)
}

func TestFailover_Empty(t *testing.T) {
	_, err := NewFailover(nil, testLogger()).Generate(context.Background(), "q")
	gt.B(t, goerr.HasTag(err, ErrTagBackend)).True()
}

// --- WithTimeout ---

func TestWithTimeout_PassesThrough(t *testing.T) {
	c := WithTimeout(&fakeCompleter{name: "fast", text: "ok"}, time.Second)
	text, err := c.Generate(context.Background(), "q")
	gt.NoError(t, err).Required()
	gt.Equal(t, text, "ok")
	gt.Equal(t, c.Name(), "fast")
}

func TestWithTimeout_TagsDeadline(t *testing.T) {
	c := WithTimeout(&fakeCompleter{name: "slow", block: true}, 20*time.Millisecond)
	_, err := c.Generate(context.Background(), "q")
	gt.Error(t, err)
	gt.B(t, goerr.HasTag(err, ErrTagTimeout)).True()
	gt.B(t, errors.Is(err, context.DeadlineExceeded)).True()
}

func TestWithTimeout_BackendIgnoringContext(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)

	c := WithTimeout(&fakeCompleter{name: "stuck", hang: hang}, 20*time.Millisecond)
	start := time.Now()
	_, err := c.Generate(context.Background(), "q")
	gt.B(t, goerr.HasTag(err, ErrTagTimeout)).True()
	gt.True(t, time.Since(start) < time.Second)
}

func TestWithTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := WithTimeout(&fakeCompleter{name: "slow", block: true}, time.Minute)
	_, err := c.Generate(ctx, "q")
	gt.Error(t, err)
	gt.B(t, goerr.HasTag(err, ErrTagTimeout)).False()
	gt.B(t, errors.Is(err, context.Canceled)).True()
}

// --- NewFromConfig ---

func fakeConstructors(built map[string]*fakeCompleter) map[string]Constructor {
	ctor := func(name string) Constructor {
		return func(_ context.Context, pc config.ProviderConfig, client *http.Client, _ *slog.Logger) (domain.Completer, error) {
			if client == nil {
				return nil, errors.New("no http client")
			}
			if pc.APIKey == "bad" {
				return nil, errors.New("invalid key")
			}
			c := &fakeCompleter{name: name, text: name + ":" + pc.Model}
			built[name] = c
			return c, nil
		}
	}
	return map[string]Constructor{"gemini": ctor("gemini"), "openai": ctor("openai"), "claude": ctor("claude")}
}

func TestNewFromConfig_Single(t *testing.T) {
	built := make(map[string]*fakeCompleter)
	cfg := config.Defaults().Completion

	c, err := newFromConfig(context.Background(), cfg, fakeConstructors(built), testLogger())
	gt.NoError(t, err).Required()
	gt.Equal(t, c.Name(), "gemini")

	text, err := c.Generate(context.Background(), "q")
	gt.NoError(t, err).Required()
	gt.Equal(t, text, "gemini:gemini-2.5-flash")
	gt.Equal(t, len(built), 1)
}

func TestNewFromConfig_Chain(t *testing.T) {
	built := make(map[string]*fakeCompleter)
	cfg := config.Defaults().Completion
	cfg.FailoverChain = []string{"claude"}

	c, err := newFromConfig(context.Background(), cfg, fakeConstructors(built), testLogger())
	gt.NoError(t, err).Required()
	gt.Equal(t, c.Name(), "failover(gemini→claude)")
}

func TestNewFromConfig_OpenAICompatibleFallback(t *testing.T) {
	built := make(map[string]*fakeCompleter)
	cfg := config.Defaults().Completion
	cfg.Provider = "ollama"
	cfg.Providers["ollama"] = config.ProviderConfig{APIBase: "http://localhost:11434/v1", Model: "llama3"}

	c, err := newFromConfig(context.Background(), cfg, fakeConstructors(built), testLogger())
	gt.NoError(t, err).Required()

	text, err := c.Generate(context.Background(), "q")
	gt.NoError(t, err).Required()
	gt.Equal(t, text, "openai:llama3")
}

func TestNewFromConfig_Errors(t *testing.T) {
	built := make(map[string]*fakeCompleter)

	cfg := config.Defaults().Completion
	cfg.Provider = "mystery"
	_, err := newFromConfig(context.Background(), cfg, fakeConstructors(built), testLogger())
	gt.Error(t, err)

	cfg = config.Defaults().Completion
	cfg.Providers["custom"] = config.ProviderConfig{Model: "x"}
	cfg.Provider = "custom"
	_, err = newFromConfig(context.Background(), cfg, fakeConstructors(built), testLogger())
	gt.Error(t, err)

	cfg = config.Defaults().Completion
	cfg.Providers["gemini"] = config.ProviderConfig{APIKey: "bad"}
	_, err = newFromConfig(context.Background(), cfg, fakeConstructors(built), testLogger())
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("failed to build completer")
}
