package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const visionMaxTokens = 4096

// InferenceError is a failed inference call: transport error, non-2xx
// status, or an empty completion. The client never retries; retry policy
// belongs to the caller.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Config holds the connection settings for an OpenAI-compatible endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string  // text model for key parsing and grading
	VisionModel string  // multimodal model for page extraction
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 disables limiting
}

// Client wraps an OpenAI-compatible API client. It is stateless aside from
// credentials and safe for concurrent use; construct one and pass it down.
type Client struct {
	api         *openai.Client
	model       string
	visionModel string
	timeout     time.Duration
	limiter     *rate.Limiter
}

// New creates a new inference client.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	c := &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		timeout:     cfg.Timeout,
	}
	if c.visionModel == "" {
		c.visionModel = c.model
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// Ping verifies the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	return nil
}

// ExtractFromImage sends one page image to the vision model and returns the
// raw completion text. The image is embedded as a base64 PNG data URL.
func (c *Client) ExtractFromImage(ctx context.Context, image []byte, prompt, systemPrompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", &InferenceError{Op: "extract", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens: visionMaxTokens,
	})
	if err != nil {
		return "", &InferenceError{Op: "extract", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &InferenceError{Op: "extract", Err: fmt.Errorf("no choices returned")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("vision response", "model", c.visionModel, "bytes", len(raw))
	return raw, nil
}

// Complete sends a text-only prompt to the model and returns the raw
// completion. Used for answer-key parsing and semantic grading, where the
// key and student text travel inside the prompt instead of an image.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", &InferenceError{Op: "complete", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", &InferenceError{Op: "complete", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &InferenceError{Op: "complete", Err: fmt.Errorf("no choices returned")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("completion response", "model", c.model, "bytes", len(raw))
	return raw, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
