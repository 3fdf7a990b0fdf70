// Package llm is a minimal client for OpenAI-compatible chat completion
// endpoints, such as a local LM Studio server.
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

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL     string // e.g. "http://localhost:1234/v1"
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retries     int // extra attempts on transient failure
}

// Client talks to one model endpoint
type Client struct {
	opts Options
	http *http.Client
}

// Response is one completed generation
type Response struct {
	Text             string
	Model            string
	LatencyMS        int64
	PromptTokens     int
	CompletionTokens int
}

// Status describes the endpoint's health as reported by /models
type Status struct {
	Running bool
	Models  []string
	Loaded  string
}

// New creates a client. BaseURL defaults to the local LM Studio address.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:1234/v1"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 2048
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one user prompt and returns the generated text. Transient
// failures (connection errors, 5xx) are retried per Options.Retries.
func (c *Client) Complete(ctx context.Context, prompt string) (Response, error) {
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{LatencyMS: time.Since(start).Milliseconds()}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, retryable, err := c.complete(ctx, prompt)
		if err == nil {
			resp.LatencyMS = time.Since(start).Milliseconds()
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Response{LatencyMS: time.Since(start).Milliseconds()}, lastErr
}

func (c *Client) complete(ctx context.Context, prompt string) (Response, bool, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return Response{}, false, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return Response{}, true, fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, true, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode >= 500 {
		return Response{}, true, fmt.Errorf("endpoint error: %s", httpResp.Status)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, false, fmt.Errorf("endpoint rejected request: %s: %s", httpResp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, false, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, false, fmt.Errorf("response has no choices")
	}

	return Response{
		Text:             strings.TrimSpace(parsed.Choices[0].Message.Content),
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, false, nil
}

// Probe checks /models. A transport error means the server is down, which
// is a valid Status rather than a call failure.
func (c *Client) Probe(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/models", nil)
	if err != nil {
		return Status{}
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return Status{}
	}
	defer httpResp.Body.Close()

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return Status{Running: true}
	}

	st := Status{Running: true}
	for _, m := range parsed.Data {
		st.Models = append(st.Models, m.ID)
	}
	if len(st.Models) > 0 {
		st.Loaded = st.Models[0]
	}
	return st
}

// ModelID returns the configured model identifier
func (c *Client) ModelID() string {
	return c.opts.Model
}

// Temperature returns the configured sampling temperature
func (c *Client) Temperature() float64 {
	return c.opts.Temperature
}
