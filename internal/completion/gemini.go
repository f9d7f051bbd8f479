package completion

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.5-flash"

// geminiModels is the subset of *genai.Models used by Gemini.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements domain.Completer on the Gemini API.
type Gemini struct {
	models geminiModels
	model  string
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client // nil uses the SDK default
	Logger     *slog.Logger
}

// NewGemini creates a Gemini completer using the API-key backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return newGemini(client.Models, cfg.Model, cfg.Logger), nil
}

func newGemini(models geminiModels, model string, logger *slog.Logger) *Gemini {
	if model == "" {
		model = geminiDefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{models: models, model: model, logger: logger}
}

func (g *Gemini) Name() string { return "gemini" }

// Generate sends prompt as a single user turn and returns the concatenated
// text parts of the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", backendError(err, g.Name(), g.model)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}

	g.logger.Debug("gemini response", "model", g.model, "chars", sb.Len())
	return nonEmpty(g.Name(), g.model, sb.String())
}
