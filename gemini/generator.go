package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGenerationModel = "gemini-2.5-pro"

// Generator wraps the Gemini SDK client for structured generation calls.
// It is constructed explicitly and closed by the owner; there is no shared
// process-wide client.
type Generator struct {
	client      *genai.Client
	model       string
	temperature float32
}

// GeneratorOption is a functional option for Generator
type GeneratorOption func(*Generator)

// WithModel overrides the generation model name
func WithModel(model string) GeneratorOption {
	return func(g *Generator) {
		g.model = model
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float32) GeneratorOption {
	return func(g *Generator) {
		g.temperature = t
	}
}

// NewGenerator creates a new generation client. Fails fast when no
// credential is configured.
func NewGenerator(ctx context.Context, apiKey string, opts ...GeneratorOption) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrConfiguration
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	g := &Generator{
		client:      client,
		model:       defaultGenerationModel,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close releases the underlying client connection
func (g *Generator) Close() error {
	return g.client.Close()
}

// Generate sends a prompt to the model and returns the concatenated text
// of the response
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", ErrUpstream)
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}

	result := b.String()
	if result == "" {
		return "", fmt.Errorf("%w: empty content", ErrUpstream)
	}

	return result, nil
}
