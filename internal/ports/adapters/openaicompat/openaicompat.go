// Package openaicompat generates text through any OpenAI-compatible chat
// completions endpoint, Gemini's included.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/forPelevin/clipper/internal/ports"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	requestTimeout       = 90 * time.Second
)

type Adapter struct {
	client openai.Client
	model  string
}

func New(apiKey, baseURL, model string, opts ...option.RequestOption) *Adapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultGeminiBaseURL
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	clientOpts = append(clientOpts, opts...)
	return &Adapter{client: openai.NewClient(clientOpts...), model: model}
}

func (a *Adapter) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Model: model,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ports.GenerateResponse{}, fmt.Errorf("chat completion (model=%s): %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return ports.GenerateResponse{}, errors.New("chat completion returned no choices")
	}
	return ports.GenerateResponse{Text: resp.Choices[0].Message.Content}, nil
}
