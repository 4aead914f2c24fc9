package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"
)

// ErrNoWorkingModel means every configured vision model failed. The
// verification feature is unusable until a model recovers.
var ErrNoWorkingModel = errors.New("no working vision model")

// Client wraps the Gemini API with an ordered model fallback list and a
// simple request throttle
type Client struct {
	genai  *genai.Client
	models []string

	// Simple rate limiter
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewClient creates a new Gemini vision client. Models are tried in the
// given order until one answers.
func NewClient(ctx context.Context, apiKey string, models []string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("at least one vision model is required")
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		genai:  gc,
		models: models,
		// Stay well under the per-minute quota of the free tier
		minInterval: 500 * time.Millisecond,
	}, nil
}

// throttle enforces the minimum interval between requests
func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

// Generate sends the image and prompt to the first vision model that
// answers and returns the raw JSON text of the response
func (c *Client) Generate(ctx context.Context, image []byte, mimeType, prompt string, schema *genai.Schema) (string, error) {
	c.throttle()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	var lastErr error
	for _, model := range c.models {
		resp, err := c.genai.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			slog.Warn("Vision model failed", "model", model, "error", err)
			lastErr = err
			continue
		}

		text := resp.Text()
		if text == "" {
			slog.Warn("Vision model returned empty response", "model", model)
			lastErr = fmt.Errorf("model %s returned empty response", model)
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("%w: %v", ErrNoWorkingModel, lastErr)
}
