// Package mlm fills masked words through an Ollama-compatible generate API.
package mlm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
)

const maskToken = "[MASK]"

// Client is the mask filling client
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:11434",
		Model:   "mistral:7b",
		Timeout: 30 * time.Second,
	}
}

// NewClient creates a new client. Zero fields take the DefaultConfig values.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// GenerateRequest represents a generate request
type GenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse represents a generate response
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const systemPrompt = "You fill in masked words. The user sends a sentence containing " +
	maskToken + ". Reply with the single most likely word for " + maskToken +
	" and nothing else."

// Generate generates text from a prompt
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// FillMask returns the predicted word for the mask in masked
func (c *Client) FillMask(ctx context.Context, masked string) (string, error) {
	if !strings.Contains(masked, maskToken) {
		return "", fmt.Errorf("text has no %s token", maskToken)
	}

	resp, err := c.Generate(ctx, &GenerateRequest{
		Model:   c.model,
		System:  systemPrompt,
		Prompt:  masked,
		Options: map[string]interface{}{"temperature": 0},
	})
	if err != nil {
		return "", err
	}

	word := FirstWord(resp.Response)
	if word == "" {
		return "", fmt.Errorf("model returned no word")
	}
	return word, nil
}

// HealthURL is the endpoint polled by the mlm health check
func (c *Client) HealthURL() string {
	return c.baseURL + "/api/tags"
}

// FirstWord extracts the first word of a model reply, without surrounding
// punctuation or quotes.
func FirstWord(reply string) string {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimFunc(fields[0], func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}
