package completion

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/domain"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

type timeoutCompleter struct {
	next    domain.Completer
	timeout time.Duration
}

// WithTimeout bounds every Generate call of next by d. An expired deadline is
// reported as an error tagged ErrTagTimeout.
func WithTimeout(next domain.Completer, d time.Duration) domain.Completer {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutCompleter{next: next, timeout: d}
}

func (t *timeoutCompleter) Name() string { return t.next.Name() }

func (t *timeoutCompleter) Generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.next.Generate(callCtx, prompt)
		done <- result{text, err}
	}()

	// Backends that ignore ctx must not hold the caller past the deadline.
	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", t.timeoutError(r.err)
		}
		return r.text, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", goerr.Wrap(ctx.Err(), "completion cancelled", goerr.V("completer", t.next.Name()))
		}
		return "", t.timeoutError(callCtx.Err())
	}
}

func (t *timeoutCompleter) timeoutError(err error) error {
	return goerr.Wrap(err, "completion timed out",
		goerr.T(ErrTagTimeout),
		goerr.V("completer", t.next.Name()),
		goerr.V("timeout", t.timeout.String()))
}
