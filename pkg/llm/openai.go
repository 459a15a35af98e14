package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config contains provider client configuration. The wire format is the
// OpenAI chat/embeddings API, which most hosted and local providers
// accept.
type Config struct {
	// BaseURL is the provider root, e.g. https://api.openai.com/v1.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// ChatModel names the completion model. Default: gpt-4o-mini.
	ChatModel string

	// EmbedModel names the embedding model.
	// Default: text-embedding-3-small.
	EmbedModel string

	// Temperature for completions. Rule synthesis wants it low.
	Temperature float64

	// Timeout bounds each provider call. Default: 60s.
	Timeout time.Duration
}

// DefaultConfig returns the default provider configuration.
func DefaultConfig() *Config {
	return &Config{
		ChatModel:   "gpt-4o-mini",
		EmbedModel:  "text-embedding-3-small",
		Temperature: 0.1,
		Timeout:     60 * time.Second,
	}
}

// Client talks to an OpenAI-compatible provider. It implements both
// Generator and Embedder.
type Client struct {
	cfg  *Config
	http *http.Client
}

// NewClient creates a provider client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: base URL is required")
	}
	def := DefaultConfig()
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = def.EmbedModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

// Generate implements Generator over /chat/completions.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: user})

	var out chatResponse
	if err := c.post(ctx, "/chat/completions", chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
	}, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &EmptyResponseError{Endpoint: "/chat/completions"}
	}
	return out.Choices[0].Message.Content, nil
}

// Embed implements Embedder over /embeddings. Vectors come back in
// input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out embedResponse
	if err := c.post(ctx, "/embeddings", embedRequest{
		Model: c.cfg.EmbedModel,
		Input: texts,
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, &EmptyResponseError{Endpoint: "/embeddings"}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &EmptyResponseError{Endpoint: "/embeddings"}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// post sends a JSON request and decodes the JSON reply, mapping failures
// onto ProviderError.
func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &ProviderError{Endpoint: endpoint, Cause: err}
	}

	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Endpoint: endpoint, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProviderError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Endpoint: endpoint, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var wrapper struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(body, &wrapper) == nil && wrapper.Error != nil {
			msg = wrapper.Error.Message
		}
		return &ProviderError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Endpoint: endpoint, Cause: err}
	}
	return nil
}
