package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/infra/ai/prompt"
)

const (
	planMaxTokens = 2048
	codeMaxTokens = 8192
	defaultModel  = "gpt-4.1"
)

// Client implements ai.Client on the OpenAI chat completions API.
type Client struct {
	*openai.Client
	Model     string
	CodeModel string
}

var _ ai.Client = (*Client)(nil)

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

// NewClientWithBaseURL targets an OpenAI compatible endpoint.
func NewClientWithBaseURL(apiKey, baseURL, model, codeModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model, CodeModel: codeModel}
}

// GeneratePlan asks for the plan envelope in JSON mode.
func (c *Client) GeneratePlan(ctx context.Context, p ai.PlanPrompt) (string, error) {
	return c.complete(ctx, c.model(), prompt.PlanSystem(), prompt.PlanUser(p), planMaxTokens, true)
}

// GenerateProgram asks for a Python script; the reply is free text with a code fence.
func (c *Client) GenerateProgram(ctx context.Context, p ai.ProgramPrompt) (string, error) {
	model := c.CodeModel
	if model == "" {
		model = c.model()
	}
	return c.complete(ctx, model, prompt.ProgramSystem(), prompt.ProgramUser(p), codeMaxTokens, false)
}

func (c *Client) model() string {
	if c.Model == "" {
		return defaultModel
	}
	return c.Model
}

func (c *Client) complete(ctx context.Context, model, system, user string, maxTokens int, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = 0
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
		}
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ai.ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func isQuotaError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests
}
