package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/analyst-agent/internal/domain/ai"
)

func chatServer(t *testing.T, status int, content string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeneratePlanUsesJSONMode(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := chatServer(t, http.StatusOK, `{"steps":[]}`, &seen)
	c := NewClientWithBaseURL("test", srv.URL+"/v1", "gpt-4.1-mini", "")

	out, err := c.GeneratePlan(context.Background(), ai.PlanPrompt{Question: "What is 2+2?"})
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, out)

	assert.Equal(t, "gpt-4.1-mini", seen.Model)
	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, seen.ResponseFormat.Type)
	require.Len(t, seen.Messages, 2)
	assert.Contains(t, seen.Messages[1].Content, "What is 2+2?")
	assert.Equal(t, planMaxTokens, seen.MaxTokens)
}

func TestGenerateProgramUsesCodeModel(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := chatServer(t, http.StatusOK, "```python\nprint(1)\n```", &seen)
	c := NewClientWithBaseURL("test", srv.URL+"/v1", "gpt-4.1-mini", "o4-mini")

	out, err := c.GenerateProgram(context.Background(), ai.ProgramPrompt{Question: "q", Revision: 1})
	require.NoError(t, err)
	assert.Contains(t, out, "print(1)")
	assert.Equal(t, "o4-mini", seen.Model)
	assert.Nil(t, seen.ResponseFormat)
	assert.Equal(t, codeMaxTokens, seen.MaxCompletionTokens)
	assert.Zero(t, seen.MaxTokens)
}

func TestQuotaAndEmpty(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "", nil)
	c := NewClientWithBaseURL("test", srv.URL+"/v1", "", "")
	_, err := c.GeneratePlan(context.Background(), ai.PlanPrompt{Question: "q"})
	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)

	srv = chatServer(t, http.StatusOK, "   ", nil)
	c = NewClientWithBaseURL("test", srv.URL+"/v1", "", "")
	_, err = c.GeneratePlan(context.Background(), ai.PlanPrompt{Question: "q"})
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
}
