package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/law-makers/deepcrawl/internal/retry"
)

// Options configures a Client.
type Options struct {
	Provider Provider
	APIKey   string
	// RequestsPerSecond throttles calls; 0 means unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
	Retry             retry.Config
	HTTPClient        *http.Client
	Temperature       float64
}

// Client implements Backend over the /chat/completions endpoint.
type Client struct {
	provider    Provider
	apiKey      string
	http        *http.Client
	limiter     *rate.Limiter
	retry       retry.Config
	temperature float64
}

// NewClient creates a client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Client{
		provider:    opts.Provider,
		apiKey:      opts.APIKey,
		http:        hc,
		limiter:     limiter,
		retry:       opts.Retry,
		temperature: opts.Temperature,
	}
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one chunk. 429 and 5xx responses are retried with backoff;
// other failures are returned as is.
func (c *Client) Complete(ctx context.Context, instruction, chunk string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.provider.Model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: "Here is the content to process:\n\n<content>\n" + chunk + "\n</content>"},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	var out string
	err = retry.WithRetry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		text, err := c.do(ctx, body)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	jsonErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if jsonErr == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		if len(msg) > 200 {
			msg = msg[:200]
		}
		httpErr := retry.NewHTTPError(resp.StatusCode, http.StatusText(resp.StatusCode), msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", httpErr
		}
		return "", retry.Permanent(httpErr)
	}
	if jsonErr != nil {
		return "", retry.Permanent(fmt.Errorf("decode completion: %w", jsonErr))
	}
	if len(parsed.Choices) == 0 {
		return "", retry.Permanent(errors.New("completion has no choices"))
	}

	log.Debug().
		Str("provider", c.provider.Name).
		Str("model", c.provider.Model).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("LLM completion")

	return parsed.Choices[0].Message.Content, nil
}
