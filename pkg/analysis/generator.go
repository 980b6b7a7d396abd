package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Generator is a text-generation backend. Complete returns the raw model
// content for a single user prompt.
type Generator interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// GatewayConfig contains the chat-completions gateway configuration
type GatewayConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetry    time.Duration
}

// GatewayClient calls an OpenAI-compatible chat completions endpoint.
type GatewayClient struct {
	config     GatewayConfig
	httpClient *http.Client
}

func NewGatewayClient(config GatewayConfig) (*GatewayClient, error) {
	if config.Endpoint == "" || config.APIKey == "" {
		return nil, fmt.Errorf("llm gateway not configured")
	}
	if config.Timeout <= 0 {
		config.Timeout = 25 * time.Second
	}
	if config.MaxRetry <= 0 {
		config.MaxRetry = 45 * time.Second
	}
	return &GatewayClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (c *GatewayClient) Name() string { return "llm-gateway" }

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm gateway returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same call may succeed later.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

func (c *GatewayClient) Complete(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("llm request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			serr := &StatusError{Code: resp.StatusCode, Body: string(body)}
			if !Retryable(serr) {
				return backoff.Permanent(serr)
			}
			return serr
		}

		// Prefer choices[0].message.content; some gateways return the bare payload.
		if inner, ok := contentFromChoices(body); ok {
			content = inner
		} else {
			content = string(body)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.config.MaxRetry
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return content, nil
}
