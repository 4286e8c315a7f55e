package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter is a chat-completions connector. It is safe for concurrent use
// once configured; SetRateLimit must not race with in-flight requests.
type OpenRouter struct {
	apiKey    string
	modelName string
	baseURL   string
	client    *http.Client
	retry     RetryConfig
	limiter   *rate.Limiter
}

// NewOpenRouter builds a connector from model settings. An empty BaseURL
// falls back to the public OpenRouter endpoint.
func NewOpenRouter(cfg protocol.ModelConfig) *OpenRouter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &OpenRouter{
		apiKey:    cfg.APIKey,
		modelName: cfg.ModelName,
		baseURL:   strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: 60 * time.Second},
		retry:     RetryFromProtocol(cfg),
	}
}

// SetRateLimit throttles outbound requests to rpm per minute, smoothed over
// the minute. rpm <= 0 removes the limit.
func (o *OpenRouter) SetRateLimit(rpm int) {
	if rpm <= 0 {
		o.limiter = nil
		return
	}
	o.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
}

// ModelName returns the configured model identifier.
func (o *OpenRouter) ModelName() string { return o.modelName }

// BaseURL returns the normalized API base.
func (o *OpenRouter) BaseURL() string { return o.baseURL }

// doWithRetry sends the request produced by build, retrying rate limits and
// upstream 5xx responses with exponential backoff. build is invoked once per
// attempt so the request body can be re-read. When retries are exhausted on a
// retryable status the response is still returned, letting the caller render
// the status and body into its own error.
func (o *OpenRouter) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	delay := o.retry.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errdefs.Wrap(errdefs.KindModel, "model request cancelled", ctx.Err())
			case <-time.After(delay):
			}
			delay = o.retry.next(delay)
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, errdefs.Wrap(errdefs.KindModel, "model rate limit wait", err)
			}
		}
		req, err := build()
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindModel, "build model request", err)
		}
		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if isRetryableStatus(resp.StatusCode) && attempt < o.retry.MaxRetries {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, errdefs.Wrap(errdefs.KindModel, "model request failed after retries", lastErr)
}

// TestConnection lists models to verify the endpoint is reachable and the
// API key is accepted.
func (o *OpenRouter) TestConnection(ctx context.Context) error {
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errdefs.Newf(errdefs.KindModel, "model connection failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion sends one non-streaming chat request and returns the
// assistant text of the first choice.
func (o *OpenRouter) ChatCompletion(ctx context.Context, messages []ChatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: o.modelName, Messages: messages})
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindModel, "encode chat request", err)
	}
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindModel, "read chat response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errdefs.Newf(errdefs.KindModel, "chat completion failed with status %d: %s", resp.StatusCode, string(body))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errdefs.Wrap(errdefs.KindModel, "decode chat response", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", errdefs.Newf(errdefs.KindModel, "empty model response")
	}
	return parsed.Choices[0].Message.Content, nil
}
