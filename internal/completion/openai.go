package completion

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const openAIDefaultModel = "gpt-4o-mini"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI implements domain.Completer for any OpenAI-compatible chat
// completions endpoint.
type OpenAI struct {
	client chatCompleter
	model  string
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string // e.g. http://localhost:11434/v1 for a local server
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return newOpenAI(openai.NewClientWithConfig(clientCfg), cfg.Model, cfg.Logger)
}

func newOpenAI(client chatCompleter, model string, logger *slog.Logger) *OpenAI {
	if model == "" {
		model = openAIDefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{client: client, model: model, logger: logger}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", backendError(err, o.Name(), o.model)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	o.logger.Debug("openai response",
		"model", o.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return nonEmpty(o.Name(), o.model, text)
}
