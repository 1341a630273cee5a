package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"codetapasya-backend/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// KeySource yields the API key, typically a *paramstore.Secret.
type KeySource interface {
	Value(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.Op, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates replies through an OpenAI-compatible chat completions API.
// The provider has no per-category safety thresholds, so the safety config is
// enforced by running the generated text through the moderation endpoint.
type Client struct {
	key        KeySource
	model      string
	baseURL    string
	httpClient *http.Client
	newAPI     func(apiKey string) chatAPI
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
	Moderations(ctx context.Context, req goopenai.ModerationRequest) (goopenai.ModerationResponse, error)
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
			c.baseURL = b
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(key KeySource, model string, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	c := &Client{
		key:        key,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.newAPI = func(apiKey string) chatAPI {
		cfg := goopenai.DefaultConfig(apiKey)
		cfg.BaseURL = c.baseURL
		if c.httpClient != nil {
			cfg.HTTPClient = c.httpClient
		}
		return goopenai.NewClientWithConfig(cfg)
	}
	return c, nil
}

// Generate returns the first choice's content. Output flagged by moderation
// is dropped and reported as empty text.
func (c *Client) Generate(ctx context.Context, prompt string, decoding domain.DecodingConfig, safety domain.SafetyConfig) (string, error) {
	apiKey, err := c.key.Value(ctx)
	if err != nil {
		return "", fmt.Errorf("openai: resolve api key: %w", err)
	}
	api := c.newAPI(apiKey)

	resp, err := api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: decoding.Temperature,
		TopP:        decoding.TopP,
		MaxTokens:   int(decoding.MaxOutputTokens),
	})
	if err != nil {
		return "", wrapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" || len(safety.BlockMediumAndAbove) == 0 {
		return text, nil
	}

	flagged, err := c.moderate(ctx, api, text)
	if err != nil {
		return "", err
	}
	if flagged {
		return "", nil
	}
	return text, nil
}

func (c *Client) moderate(ctx context.Context, api chatAPI, input string) (bool, error) {
	resp, err := api.Moderations(ctx, goopenai.ModerationRequest{Input: input})
	if err != nil {
		return false, wrapError("moderation", err)
	}
	if len(resp.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return resp.Results[0].Flagged, nil
}

// wrapError converts SDK status errors into *HTTPStatusError so callers can
// detect rate limiting.
func wrapError(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Op: op, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Op: op, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}
