package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/bryanwahyu/analyst-agent/internal/domain/ai"
	"github.com/bryanwahyu/analyst-agent/internal/infra/ai/prompt"
)

const (
	defaultModel  = "gemini-2.5-flash"
	planMaxTokens = 2048
	codeMaxTokens = 8192
)

// Client implements ai.Client on the Gemini API.
type Client struct {
	client    *genai.Client
	Model     string
	CodeModel string
}

var _ ai.Client = (*Client)(nil)

// NewClient creates a Gemini client. baseURL is optional (used by tests and proxies).
func NewClient(ctx context.Context, apiKey, baseURL, model, codeModel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{client: client, Model: model, CodeModel: codeModel}, nil
}

func (c *Client) GeneratePlan(ctx context.Context, p ai.PlanPrompt) (string, error) {
	return c.generate(ctx, c.Model, prompt.PlanSystem(), prompt.PlanUser(p), planMaxTokens, "application/json")
}

func (c *Client) GenerateProgram(ctx context.Context, p ai.ProgramPrompt) (string, error) {
	model := c.CodeModel
	if model == "" {
		model = c.Model
	}
	return c.generate(ctx, model, prompt.ProgramSystem(), prompt.ProgramUser(p), codeMaxTokens, "")
}

func (c *Client) generate(ctx context.Context, model, system, user string, maxTokens int32, mimeType string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   maxTokens,
		ResponseMIMEType:  mimeType,
	}
	resp, err := c.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}, cfg)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
		}
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ai.ErrEmptyResponse
	}
	return text, nil
}

func isQuotaError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	var apiErrPtr *genai.APIError
	return errors.As(err, &apiErrPtr) && apiErrPtr.Code == http.StatusTooManyRequests
}
