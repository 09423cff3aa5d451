// Package llm wraps the hosted language model used for query interpretation and log summaries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrPanic wraps a panic raised inside a model call.
var ErrPanic = errors.New("model call panicked")

// Model turns a prompt into text. Calls may be slow and may fail.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to the Model interface.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Generate calls m.Generate and reports a panic in the call as an ErrPanic error.
func Generate(ctx context.Context, m Model, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return m.Generate(ctx, prompt)
}

// GenAIModel calls Gemini through the Google GenAI SDK.
type GenAIModel struct {
	client *genai.Client
	model  string
}

// NewGenAIModel creates a Gemini-backed model.
func NewGenAIModel(ctx context.Context, apiKey, model string) (*GenAIModel, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	return &GenAIModel{client: client, model: model}, nil
}

// Generate sends prompt as a single user turn and returns the trimmed text reply.
func (m *GenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Name returns the engine name for logging.
func (m *GenAIModel) Name() string {
	return "genai:" + m.model
}
