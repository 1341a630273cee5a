package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"codetapasya-backend/internal/domain"
)

const DefaultModel = "gemini-2.0-flash"

// KeySource yields the API key, typically a *paramstore.Secret.
type KeySource interface {
	Value(ctx context.Context) (string, error)
}

// HTTPStatusError is returned when the API answers with a non-2xx status.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

var harmCategories = map[domain.HarmCategory]genai.HarmCategory{
	domain.HarmHarassment:       genai.HarmCategoryHarassment,
	domain.HarmHateSpeech:       genai.HarmCategoryHateSpeech,
	domain.HarmSexuallyExplicit: genai.HarmCategorySexuallyExplicit,
	domain.HarmDangerousContent: genai.HarmCategoryDangerousContent,
}

// Client wraps the Gemini API. The underlying SDK client is created on first
// use so the key can come from the parameter store.
type Client struct {
	key        KeySource
	model      string
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	client *genai.Client
}

type Option func(*Client)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(key KeySource, model string, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	c := &Client{key: key, model: model}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	apiKey, err := c.key.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.client = client
	return client, nil
}

// Generate returns the candidate text. A response blocked by the safety
// filter has no text and yields "" with a nil error.
func (c *Client) Generate(ctx context.Context, prompt string, decoding domain.DecodingConfig, safety domain.SafetyConfig) (string, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), generateConfig(decoding, safety))
	if err != nil {
		return "", wrapError(err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}

func generateConfig(decoding domain.DecodingConfig, safety domain.SafetyConfig) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(decoding.Temperature),
		TopP:            genai.Ptr(decoding.TopP),
		TopK:            genai.Ptr(float32(decoding.TopK)),
		MaxOutputTokens: decoding.MaxOutputTokens,
	}
	for _, category := range safety.BlockMediumAndAbove {
		hc, ok := harmCategories[category]
		if !ok {
			continue
		}
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  hc,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return cfg
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &HTTPStatusError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}
