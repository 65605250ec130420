package glm

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

	"github.com/stupiduntilnot/glmrelay/internal/credential"
	"github.com/stupiduntilnot/glmrelay/internal/model"
)

const (
	DefaultURL         = "https://open.bigmodel.cn/api/paas/v4/chat/completions"
	DefaultModel       = "glm-4.7"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultTimeout     = 60 * time.Second
)

// Options tunes a Client. Zero values fall back to the defaults above.
type Options struct {
	URL         string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// Signed sends a compact signed token derived from the key instead of the raw key.
	Signed bool
}

// Client is a chat completions client for the GLM open platform.
type Client struct {
	credential  credential.Provider
	url         string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient creates a GLM client. An empty apiKey yields a client whose every
// call fails with ErrNotConfigured.
func NewClient(apiKey string, opts Options) *Client {
	c := &Client{
		url:         emptyAs(opts.URL, DefaultURL),
		model:       emptyAs(opts.Model, DefaultModel),
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.httpClient = &http.Client{Timeout: timeout}

	switch {
	case apiKey == "":
	case opts.Signed:
		c.credential = credential.NewSigner(apiKey)
	default:
		c.credential = credential.Raw(apiKey)
	}
	return c
}

// Model returns the model identifier sent with each request.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []model.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type errorEnvelope struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// Complete sends history followed by prompt and returns the first choice.
// Failures are one of ErrNotConfigured, ErrEmptyResponse, *StatusError,
// *TransportError or *DecodeError.
func (c *Client) Complete(ctx context.Context, prompt string, history []model.Message) (model.CompletionResponse, error) {
	if c.credential == nil {
		return model.CompletionResponse{}, ErrNotConfigured
	}

	started := time.Now()
	resp, status, err := c.do(ctx, prompt, history)
	attrs := []any{
		"request_id", model.RequestID(ctx),
		"model", c.model,
		"ok", err == nil,
		"latency_ms", time.Since(started).Milliseconds(),
	}
	if status != 0 {
		attrs = append(attrs, "status", status)
	}
	if err != nil {
		attrs = append(attrs, "kind", string(Classify(err)), "err", err)
		slog.Warn("glm completion failed", attrs...)
		return model.CompletionResponse{}, err
	}
	attrs = append(attrs, "input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)
	slog.Info("glm completion", attrs...)
	return resp, nil
}

func (c *Client) do(ctx context.Context, prompt string, history []model.Message) (model.CompletionResponse, int, error) {
	messages := make([]model.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, model.User(prompt))

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return model.CompletionResponse{}, 0, fmt.Errorf("failed to marshal glm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.CompletionResponse{}, 0, fmt.Errorf("failed to create glm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential.Credential())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.CompletionResponse{}, 0, &TransportError{Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.CompletionResponse{}, resp.StatusCode, &TransportError{Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.CompletionResponse{}, resp.StatusCode, newStatusError(resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.CompletionResponse{}, resp.StatusCode, &DecodeError{Body: truncate(string(body), 400), Err: err}
	}

	result := model.CompletionResponse{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) == 0 {
		return result, resp.StatusCode, ErrEmptyResponse
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return result, resp.StatusCode, ErrEmptyResponse
	}
	result.Content = content
	return result, resp.StatusCode, nil
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{StatusCode: status, Body: truncate(string(body), 400)}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		se.Code = strings.Trim(string(env.Error.Code), `"`)
		se.Message = env.Error.Message
	}
	return se
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func emptyAs(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
