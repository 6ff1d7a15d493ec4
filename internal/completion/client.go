// internal/completion/client.go
//
// Minimal chat-completions HTTP client.
//
// Context
// -------
// The collaborator speaks an OpenAI-style chat-completions API with JSON
// response mode.  The client is injected everywhere it is used — there is
// no package-level singleton, so tests point it at a local httptest server
// and the orchestrator can run without one configured.  Every call counts
// toward audit_completion_requests_total.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yanizio/dbaudit/internal/metrics"
)

// Client talks to one chat-completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// Config configures a Client.  BaseURL must not include the
// /chat/completions path.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient builds a Client.  A zero Timeout defaults to two minutes, which
// matches slow reasoning over large schema payloads.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client can make calls at all.  An
// unconfigured collaborator degrades to heuristic-only plans upstream.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// CompleteJSON sends one system+user exchange in JSON response mode and
// unmarshals the reply into out.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, out any) error {
	raw, err := c.complete(ctx, system, user, &respFormat{Type: "json_object"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("completion: malformed JSON reply: %w", err)
	}
	return nil
}

// CompleteText sends one system+user exchange and returns the raw reply.
func (c *Client) CompleteText(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, nil)
}

func (c *Client) complete(ctx context.Context, system, user string, format *respFormat) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("completion: client not configured")
	}
	metrics.CompletionRequestsTotal.Inc()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("completion: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("completion: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp chatResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != nil {
			return "", fmt.Errorf("completion: provider error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("completion: http %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("completion: unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion: empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
