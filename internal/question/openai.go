package question

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIGenerator asks an OpenAI-compatible chat completion endpoint for each question
type OpenAIGenerator struct {
	client oai.Client
	model  string
}

// NewOpenAIGenerator creates a generator. baseURL may be empty for the public API.
func NewOpenAIGenerator(apiKey, model, baseURL string, timeout time.Duration) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Guarded owns retries
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	return &OpenAIGenerator{client: oai.NewClient(reqOpts...), model: model}, nil
}

func (g *OpenAIGenerator) NextQuestion(ctx context.Context, prior *string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemInstruction),
			oai.UserMessage(BuildPrompt(prior)),
		},
		Temperature:         param.NewOpt(0.7),
		MaxCompletionTokens: param.NewOpt(int64(120)),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response: %w", ErrEmptyQuestion)
	}

	question := cleanQuestion(resp.Choices[0].Message.Content)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	return question, nil
}
