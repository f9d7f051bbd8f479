package completion

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/httpclient"
)

// Constructor builds a completer from a provider config entry. All backends
// of one chain share client.
type Constructor func(ctx context.Context, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) (domain.Completer, error)

// Constructors holds the built-in backends by provider name.
var Constructors = map[string]Constructor{
	"gemini": func(ctx context.Context, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) (domain.Completer, error) {
		return NewGemini(ctx, GeminiConfig{APIKey: pc.APIKey, Model: pc.Model, HTTPClient: client, Logger: logger})
	},
	"openai": func(_ context.Context, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) (domain.Completer, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, HTTPClient: client, Logger: logger}), nil
	},
	"claude": func(_ context.Context, pc config.ProviderConfig, client *http.Client, logger *slog.Logger) (domain.Completer, error) {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, Model: pc.Model, MaxTokens: pc.MaxTokens, HTTPClient: client, Logger: logger}), nil
	},
}

// NewFromConfig builds the configured completer: the primary provider, or a
// failover chain when more than one provider is listed, bounded by the
// configured timeout.
func NewFromConfig(ctx context.Context, cfg config.CompletionConfig, logger *slog.Logger) (domain.Completer, error) {
	return newFromConfig(ctx, cfg, Constructors, logger)
}

func newFromConfig(ctx context.Context, cfg config.CompletionConfig, ctors map[string]Constructor, logger *slog.Logger) (domain.Completer, error) {
	chain := cfg.Chain()
	if len(chain) == 0 {
		return nil, goerr.New("no completion provider configured")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client := httpclient.New(timeout)

	completers := make([]domain.Completer, 0, len(chain))
	for _, name := range chain {
		pc, ok := cfg.Providers[name]
		if !ok {
			return nil, goerr.New("unknown completion provider", goerr.V("provider", name))
		}

		ctor, found := ctors[name]
		if !found {
			// Unknown names with an API base are treated as OpenAI-compatible.
			if pc.APIBase == "" {
				return nil, goerr.New("no constructor for provider and no apiBase configured",
					goerr.V("provider", name))
			}
			ctor = ctors["openai"]
		}

		c, err := ctor(ctx, pc, client, logger.With("completer", name))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build completer", goerr.V("provider", name))
		}
		completers = append(completers, c)
	}

	var c domain.Completer = completers[0]
	if len(completers) > 1 {
		c = NewFailover(completers, logger)
	}
	return WithTimeout(c, timeout), nil
}
