// Package completion provides the LLM backends the relay forwards prompts to.
package completion

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Error tags for categorization
var (
	ErrTagTimeout       = goerr.NewTag("completion_timeout")
	ErrTagEmptyResponse = goerr.NewTag("empty_response")
	ErrTagBackend       = goerr.NewTag("backend_failure")
)

// nonEmpty returns text, or an ErrTagEmptyResponse error when it holds only whitespace.
func nonEmpty(backend, model, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", goerr.New("empty response from model",
			goerr.T(ErrTagEmptyResponse),
			goerr.V("backend", backend),
			goerr.V("model", model))
	}
	return text, nil
}

func backendError(err error, backend, model string) error {
	return goerr.Wrap(err, "completion request failed",
		goerr.T(ErrTagBackend),
		goerr.V("backend", backend),
		goerr.V("model", model))
}
