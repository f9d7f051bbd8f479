package completion

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/domain"
)

// Failover tries multiple completers in order, falling back to the next one
// when the current fails.
type Failover struct {
	completers []domain.Completer
	logger     *slog.Logger
}

// NewFailover creates a failover chain. At least one completer is required.
func NewFailover(completers []domain.Completer, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{completers: completers, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.completers))
	for i, c := range f.completers {
		names[i] = c.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Generate returns the first successful completion. A cancelled context
// stops the chain immediately.
func (f *Failover) Generate(ctx context.Context, prompt string) (string, error) {
	if len(f.completers) == 0 {
		return "", goerr.New("failover chain is empty", goerr.T(ErrTagBackend))
	}

	var lastErr error
	for i, c := range f.completers {
		text, err := c.Generate(ctx, prompt)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback completer",
					"completer", c.Name(),
					"attempt", i+1,
				)
			}
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("failover: completer failed, trying next",
			"completer", c.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return "", goerr.Wrap(lastErr, "all completers in failover chain failed",
		goerr.V("chain", f.Name()))
}
