package llm

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parquetconv/internal/errs"
)

type fakeOpenAI struct {
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeOpenAI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f.resp, f.err
}

func TestClientCompleteReturnsFirstChoice(t *testing.T) {
	fake := &fakeOpenAI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "SELECT 1"}},
		},
	}}
	c := NewWithClient(fake, "gpt-test")

	out, err := c.Complete(context.Background(), "synthesize sql")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
}

func TestClientCompleteWrapsAPIErrorAsLLMUnavailable(t *testing.T) {
	fake := &fakeOpenAI{err: &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}}
	c := NewWithClient(fake, "gpt-test")

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.LLMUnavailable, kind)
}

func TestStubMatchesOnSubstring(t *testing.T) {
	stub := &Stub{Responses: map[string]string{
		"total quantity": "SELECT SUM(qty) AS total FROM t",
	}}
	out, err := stub.Complete(context.Background(), "what is the total quantity?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(qty) AS total FROM t", out)
}

func TestStubFallsBackToDefault(t *testing.T) {
	stub := &Stub{Default: "fallback"}
	out, err := stub.Complete(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}
