package textgen

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/partyline/pkg/core"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// contentModels is the slice of the genai Models service we call.
type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures a Gemini generator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	// JSON asks the model for application/json output.
	JSON bool
}

// Gemini generates text with the Google genai SDK.
type Gemini struct {
	models      contentModels
	model       string
	temperature float32
	json        bool
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.NewConfigError("gemini api key is required", "llm_api_key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConfigError("create gemini client: "+err.Error(), "llm_api_key")
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(models contentModels, cfg GeminiConfig) *Gemini {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{
		models:      models,
		model:       model,
		temperature: float32(cfg.Temperature),
		json:        cfg.JSON,
	}
}

// WithJSON returns a copy that shares the client and requests JSON output.
func (g *Gemini) WithJSON() *Gemini {
	cp := *g
	cp.json = true
	return &cp
}

func (g *Gemini) Generate(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if g.json {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}, cfg)
	if err != nil {
		return "", core.NewGenerationError("gemini", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", core.NewGenerationError("gemini", errors.New("empty response"))
	}
	return text, nil
}
