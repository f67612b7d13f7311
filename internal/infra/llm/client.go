// Package llm is the text-generation collaborator: a minimal client for
// OpenAI-compatible chat completion endpoints.
//
// One request per call, no retries. Every failure wraps
// domain.ErrGenerationFailed so callers can fall back uniformly.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/logging"
)

// Defaults for the chat endpoint.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultTimeout     = 20 * time.Second
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Config configures the client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client calls {BaseURL}/chat/completions.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	http        *http.Client
	log         *slog.Logger
}

// New creates a client. Zero fields take the defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http:        &http.Client{Timeout: cfg.Timeout},
		log:         logging.New("llm"),
	}
}

// WithTemperature returns a copy sharing the HTTP client but sampling at t.
func (c *Client) WithTemperature(t float64) *Client {
	cp := *c
	cp.temperature = t
	return &cp
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// ─── Wire Types ─────────────────────────────────────────────────────────────

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
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ─── Generate ───────────────────────────────────────────────────────────────

// Generate sends prompt as a single user message and returns the first
// choice's content.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: no API key configured", domain.ErrGenerationFailed)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrGenerationFailed, err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrGenerationFailed, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrGenerationFailed, decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", domain.ErrGenerationFailed)
	}

	c.log.Debug("generation complete", "model", c.model, "duration", time.Since(start))
	return parsed.Choices[0].Message.Content, nil
}
