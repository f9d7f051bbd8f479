package completion

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	claudeDefaultModel = "claude-3-5-haiku-latest"
	defaultMaxTokens   = 4096
)

type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude implements domain.Completer for the Anthropic Messages API.
type Claude struct {
	messages  messageCreator
	model     string
	maxTokens int64
	logger    *slog.Logger
}

type ClaudeConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropic.NewClient(opts...)
	return newClaude(&client.Messages, cfg.Model, cfg.MaxTokens, cfg.Logger)
}

func newClaude(messages messageCreator, model string, maxTokens int, logger *slog.Logger) *Claude {
	if model == "" {
		model = claudeDefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Claude{messages: messages, model: model, maxTokens: int64(maxTokens), logger: logger}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", backendError(err, c.Name(), c.model)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	c.logger.Debug("claude response", "model", c.model, "stop_reason", msg.StopReason)
	return nonEmpty(c.Name(), c.model, sb.String())
}
