package engine

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/golaw/internal/providers"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// UpdateModelConfig validates cfg and swaps in a fresh OpenRouter
// connector. The previous connector keeps serving requests already in
// flight.
func (e *Engine) UpdateModelConfig(cfg protocol.ModelConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return errdefs.New(errdefs.KindConfig, "OpenRouter API key is empty")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return errdefs.New(errdefs.KindConfig, "Model name is empty")
	}

	conn := providers.NewOpenRouter(cfg)
	if e.modelRPM > 0 {
		conn.SetRateLimit(e.modelRPM)
	}

	e.modelMu.Lock()
	e.model = conn
	e.modelMu.Unlock()

	e.logger.Info("model config updated", "model", cfg.ModelName, "base_url", conn.BaseURL())
	e.publish(protocol.EventModelUpdated, "model config updated")
	return nil
}

// ModelInfo reports the active model name and base URL. ok is false when
// no model has been configured yet. The API key is never exposed.
func (e *Engine) ModelInfo() (modelName, baseURL string, ok bool) {
	e.modelMu.RLock()
	defer e.modelMu.RUnlock()
	if e.model == nil {
		return "", "", false
	}
	return e.model.ModelName(), e.model.BaseURL(), true
}

// TestModelConnection checks that the configured OpenRouter endpoint is
// reachable with the stored credentials.
func (e *Engine) TestModelConnection(ctx context.Context) error {
	conn := e.connector()
	if conn == nil {
		return errdefs.New(errdefs.KindInvalidState, "model not configured")
	}
	if err := conn.TestConnection(ctx); err != nil {
		return err
	}
	e.publish(protocol.EventModelConnectionOK, "openrouter reachable")
	return nil
}

// PingModel sends prompt as a one-off chat completion and returns the
// model's reply. Useful for smoke tests and scheduled keep-alives.
func (e *Engine) PingModel(ctx context.Context, prompt string) (string, error) {
	conn := e.connector()
	if conn == nil {
		return "", errdefs.New(errdefs.KindInvalidState, "model not configured")
	}
	reply, err := conn.ChatCompletion(ctx, []providers.ChatMessage{
		{Role: protocol.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	e.publish(protocol.EventModelPing, "chat completion finished")
	return reply, nil
}

func (e *Engine) connector() *providers.OpenRouter {
	e.modelMu.RLock()
	defer e.modelMu.RUnlock()
	return e.model
}
