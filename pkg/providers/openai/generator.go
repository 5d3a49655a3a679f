package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/auralis-labs/duplex/pkg/llm"
	"github.com/auralis-labs/duplex/pkg/resilience"
)

// Generator produces replies through OpenAI's chat completions API.
type Generator struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client

	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

func NewGenerator(apiKey, model string) *Generator {
	return &Generator{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
		retry:   resilience.NewRetryPolicy(2, 200*time.Millisecond),
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
	}
}

func (g *Generator) Name() string { return "openai" }

func (g *Generator) Generate(ctx context.Context, utterance string, history []llm.Message) (string, error) {
	if !g.breaker.Allow() {
		return "", resilience.RateLimitError{Provider: "openai", Message: "circuit open"}
	}
	var reply string
	err := g.retry.DoWithContext(ctx, func() error {
		var callErr error
		reply, callErr = g.complete(ctx, utterance, history)
		return callErr
	})
	if err != nil {
		g.breaker.OnError(err)
		return "", err
	}
	g.breaker.OnSuccess()
	return reply, nil
}

func (g *Generator) complete(ctx context.Context, utterance string, history []llm.Message) (string, error) {
	body, err := g.buildRequest(utterance, history)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		payload, _ := io.ReadAll(resp.Body)
		return "", resilience.RateLimitError{Provider: "openai", Message: string(payload)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return "", errors.New(string(payload))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return payload.Choices[0].Message.Content, nil
}

func (g *Generator) buildRequest(utterance string, history []llm.Message) (*bytes.Buffer, error) {
	messages := make([]map[string]any, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	// The coordinator appends the utterance to history before generating;
	// guard against callers that do not.
	if len(history) == 0 || history[len(history)-1].Content != utterance {
		messages = append(messages, map[string]any{"role": llm.RoleUser, "content": utterance})
	}
	b, err := json.Marshal(map[string]any{
		"model":    g.Model,
		"messages": messages,
	})
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (g *Generator) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

var _ llm.ReplyGenerator = (*Generator)(nil)
