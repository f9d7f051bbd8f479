package domain

import "context"

// Completer turns a prompt into generated text.
// Implementations must be safe for concurrent use.
type Completer interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}
