package providers

import (
	"time"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// RetryConfig controls how transient model-API failures are retried.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryFromProtocol builds a RetryConfig from wire-level model settings,
// falling back to defaults for unset fields.
func RetryFromProtocol(cfg protocol.ModelConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.RetryMaxRetries > 0 {
		rc.MaxRetries = cfg.RetryMaxRetries
	}
	if cfg.RetryInitialDelay > 0 {
		rc.InitialDelay = time.Duration(cfg.RetryInitialDelay) * time.Millisecond
	}
	if cfg.RetryMaxDelay > 0 {
		rc.MaxDelay = time.Duration(cfg.RetryMaxDelay) * time.Millisecond
	}
	if cfg.RetryBackoffFactor > 0 {
		rc.BackoffFactor = cfg.RetryBackoffFactor
	}
	return rc
}

// next returns the delay for the following attempt, capped at MaxDelay.
func (rc RetryConfig) next(current time.Duration) time.Duration {
	d := time.Duration(float64(current) * rc.BackoffFactor)
	if d > rc.MaxDelay {
		return rc.MaxDelay
	}
	return d
}

// isRetryableStatus reports whether an HTTP status is worth retrying:
// rate limits and upstream hiccups, never auth or validation failures.
func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
