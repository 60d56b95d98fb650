// Package llm exposes the system's one dependency on a language model:
// an opaque text-in/text-out completion capability, kept narrow enough
// that tests can inject a deterministic stub in its place, following the
// openai client error-classification idiom seen in the wider pack's
// worker code.
package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"parquetconv/internal/errs"
)

// Completer submits a prompt string and returns a response string. The
// query engine depends on nothing more specific than this.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient is the subset of *openai.Client this package calls.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client completes prompts against an OpenAI-compatible chat endpoint.
type Client struct {
	api   OpenAIClient
	model string
}

// New constructs a Client bound to a model identifier (e.g. "gpt-4o-mini").
func New(apiKey, model string) *Client {
	return &Client{api: openai.NewClient(apiKey), model: model}
}

// NewWithClient wraps an already-constructed OpenAIClient, for callers
// that need custom transport/base-URL configuration.
func NewWithClient(api OpenAIClient, model string) *Client {
	return &Client{api: api, model: model}
}

// Complete submits prompt as a single user message and returns the
// first choice's content. API-level failures (rate limits, outages,
// auth errors) surface as errs.LLMUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errs.New(errs.LLMUnavailable, "llm completion failed", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.LLMUnavailable, "llm returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return err
}

// Stub is a deterministic Completer for tests: it returns a fixed
// response for a given prompt substring, or Default if none match.
type Stub struct {
	Responses map[string]string
	Default   string
}

func (s *Stub) Complete(ctx context.Context, prompt string) (string, error) {
	for substr, resp := range s.Responses {
		if substr == "" || strings.Contains(prompt, substr) {
			return resp, nil
		}
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return "", errs.New(errs.LLMUnavailable, "stub has no matching response", nil)
}
