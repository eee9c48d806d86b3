package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"maildesk/config"
)

// Client talks to an Ollama-compatible server (/api/generate with
// stream disabled). One Client is shared by the classifier and the
// drafter; they differ only in the model name they pass in Options.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete sends one prompt and returns the model's text. Transient
// upstream failures (429, 5xx, connection errors) are retried with
// exponential backoff plus jitter; everything else fails fast.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  opts.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
		},
	})
	if err != nil {
		return "", &GenerationError{Kind: ErrMalformed, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			backoff += time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
			c.logger.Warn("Retrying LLM call",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", &GenerationError{Kind: ErrTimeout, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		text, err := c.completeOnce(ctx, opts.Model, body)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var genErr *GenerationError
		if errors.As(err, &genErr) {
			switch genErr.Kind {
			case ErrQuota, ErrUpstream:
				continue
			}
		}
		return "", err
	}
	return "", lastErr
}

func (c *Client) completeOnce(ctx context.Context, model string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Kind: ErrMalformed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", &GenerationError{Kind: ErrTimeout, Err: err}
		}
		return "", &GenerationError{Kind: ErrUpstream, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &GenerationError{Kind: ErrUpstream, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &GenerationError{Kind: ErrQuota, Err: fmt.Errorf("status 429: %s", truncate(raw, 200))}
	case resp.StatusCode >= 500:
		return "", &GenerationError{Kind: ErrUpstream, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))}
	case resp.StatusCode != http.StatusOK:
		return "", &GenerationError{Kind: ErrMalformed, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &GenerationError{Kind: ErrMalformed, Err: fmt.Errorf("undecodable response: %w", err)}
	}

	c.logger.Debug("LLM completion finished",
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_chars", len(out.Response)),
	)
	return out.Response, nil
}

// Ping checks that the model server answers at all. Used at startup so
// a misconfigured endpoint is visible in the logs immediately instead
// of on the first inbound email.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
