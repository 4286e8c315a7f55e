package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/golaw/internal/config"
)

// startTailscale exposes the gateway mux on a tailnet when
// tailscale.hostname is set. The node appears as hostname:port with the
// same /ws and /health routes as the local listener. Returns a cleanup
// func, or nil when disabled or failed.
func startTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux, logger *slog.Logger) func() {
	tsCfg := cfg.Tailscale
	if tsCfg.Hostname == "" {
		return nil
	}

	stateDir := tsCfg.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(config.ExpandHome("~/.golaw"), "tsnet")
	}

	srv := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		AuthKey:   tsCfg.AuthKey,
		Ephemeral: tsCfg.Ephemeral,
		Logf: func(format string, args ...any) {
			logger.Debug("tsnet: " + fmt.Sprintf(format, args...))
		},
	}

	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", cfg.Gateway.Port))
	if err != nil {
		logger.Warn("tailscale listener failed", "hostname", tsCfg.Hostname, "error", err)
		srv.Close()
		return nil
	}

	httpSrv := &http.Server{Handler: mux}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("tailscale serve stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	logger.Info("tailscale listener active", "hostname", tsCfg.Hostname, "port", cfg.Gateway.Port)
	return func() {
		httpSrv.Close()
		srv.Close()
	}
}
