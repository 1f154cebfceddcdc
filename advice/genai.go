package advice

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI GENERATOR
// =============================================================================

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GenAI generates text with Google's Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a Gemini-backed Generator.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAI{client: client, model: model}, nil
}

// Generate sends one prompt and returns the response text.
func (g *GenAI) Generate(ctx context.Context, p Prompt) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(p.Text, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, generateConfig(p))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return result.Text(), nil
}

func generateConfig(p Prompt) *genai.GenerateContentConfig {
	if !p.Structured {
		return &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.9),
			TopP:        genai.Ptr[float32](0.8),
		}
	}
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   suggestionSchema,
	}
}

var suggestionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":        {Type: genai.TypeString},
		"value":       {Type: genai.TypeNumber, Description: "points of the rule or cost of the item"},
		"emoji":       {Type: genai.TypeString},
		"description": {Type: genai.TypeString},
	},
	Required: []string{"name", "value", "emoji"},
}
