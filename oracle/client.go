// Package oracle asks an OpenAI-compatible chat-completions endpoint for a
// trading decision and hands the raw text back to the backtest engine.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrNoAPIKey = errors.New("oracle: api key not set")

// ClientConfig describes the endpoint and call limits.
type ClientConfig struct {
	BaseURL     string // e.g. https://api.deepseek.com
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // per attempt

	MaxRetries   int           // attempts after the first
	RetryBackoff time.Duration // doubled after each retry
	RatePerMin   float64       // zero means unlimited
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:      "https://api.deepseek.com",
		Model:        "deepseek-chat",
		Temperature:  0.3,
		MaxTokens:    2000,
		Timeout:      60 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewClient(cfg ClientConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("oracle: base url not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("oracle: model not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = slog.Default()
	}

	limit := rate.Inf
	if cfg.RatePerMin > 0 {
		limit = rate.Limit(cfg.RatePerMin / 60)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// Complete sends one system/user exchange and returns the assistant text.
// Transient failures are retried with backoff until ctx ends.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	wait := c.cfg.RetryBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn("oracle call failed, retrying", "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("oracle: %w (last error: %w)", ctx.Err(), lastErr)
			case <-time.After(wait):
			}
			wait *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("oracle: rate limit: %w", err)
		}

		text, err := c.callOnce(ctx, system, user)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("oracle: failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// StatusError is a non-200 reply from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle: status %d: %s", e.Code, e.Body)
}

func (c *Client) callOnce(ctx context.Context, system, user string) (string, error) {
	msgs := make([]message, 0, 2)
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	msgs = append(msgs, message{Role: "user", Content: user})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("oracle: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("oracle: empty response")
	}
	return out.Choices[0].Message.Content, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"EOF",
		"timeout",
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporary failure",
		"network is unreachable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
